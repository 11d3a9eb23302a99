package notify

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"mailingest/backend/internal/domain"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    domain.Event
		wantErr bool
	}{
		{
			name:    "字符串形式的历史位置",
			payload: `{"emailAddress":"me@example.com","historyId":"123456"}`,
			want:    domain.Event{MailboxAddress: "me@example.com", CursorHint: 123456},
		},
		{
			name:    "数字形式的历史位置",
			payload: `{"emailAddress":"me@example.com","historyId":98765}`,
			want:    domain.Event{MailboxAddress: "me@example.com", CursorHint: 98765},
		},
		{
			name:    "指定单封邮件",
			payload: `{"emailAddress":"me@example.com","messageId":"18c2f"}`,
			want:    domain.Event{MailboxAddress: "me@example.com", MessageID: "18c2f"},
		},
		{
			name:    "空事件",
			payload: `{"emailAddress":"me@example.com"}`,
			wantErr: true,
		},
		{
			name:    "非法历史位置",
			payload: `{"historyId":"abc"}`,
			wantErr: true,
		},
		{
			name:    "不是 JSON",
			payload: `historyId=1`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.payload))
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, domain.ErrPermanentValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ev)
		})
	}
}

func TestDecodePush(t *testing.T) {
	data := base64.StdEncoding.EncodeToString([]byte(`{"emailAddress":"me@example.com","historyId":"42"}`))
	body := `{"message":{"data":"` + data + `","messageId":"m-1","publishTime":"2024-03-04T10:00:00Z"},"subscription":"projects/p/subscriptions/s"}`

	env, ev, err := DecodePush([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, "m-1", env.Message.ID)
	assert.Equal(t, "projects/p/subscriptions/s", env.Subscription)
	assert.Equal(t, uint64(42), ev.CursorHint)

	_, _, err = DecodePush([]byte(`{"message":{}}`))
	assert.ErrorIs(t, err, domain.ErrPermanentValidation)
}

type fakeHandler struct {
	events  []domain.Event
	summary *domain.RunSummary
	err     error
}

func (f *fakeHandler) HandleEvent(_ context.Context, ev domain.Event) (*domain.RunSummary, error) {
	f.events = append(f.events, ev)
	if f.summary == nil {
		return &domain.RunSummary{}, f.err
	}
	return f.summary, f.err
}

func newTestSubscriber(h Handler, mailbox string) *Subscriber {
	return &Subscriber{
		handler:  h,
		settings: Settings{MaxOutstanding: 1, Timeout: time.Second, Mailbox: mailbox},
		log:      zap.NewNop(),
	}
}

func TestSubscriberHandle(t *testing.T) {
	payload := []byte(`{"emailAddress":"me@example.com","historyId":"7"}`)

	t.Run("成功后确认", func(t *testing.T) {
		h := &fakeHandler{}
		s := newTestSubscriber(h, "me")
		assert.True(t, s.Handle(context.Background(), "1", payload))
		require.Len(t, h.events, 1)
		assert.Equal(t, uint64(7), h.events[0].CursorHint)
	})

	t.Run("运行失败时重新投递", func(t *testing.T) {
		h := &fakeHandler{err: errors.New("sink down")}
		s := newTestSubscriber(h, "")
		assert.False(t, s.Handle(context.Background(), "1", payload))
	})

	t.Run("另一实例运行中时重新投递", func(t *testing.T) {
		h := &fakeHandler{summary: &domain.RunSummary{Busy: true}}
		s := newTestSubscriber(h, "")
		assert.False(t, s.Handle(context.Background(), "1", payload))
	})

	t.Run("无效载荷直接确认", func(t *testing.T) {
		h := &fakeHandler{}
		s := newTestSubscriber(h, "")
		assert.True(t, s.Handle(context.Background(), "1", []byte("garbage")))
		assert.Empty(t, h.events)
	})

	t.Run("其它邮箱的通知被忽略", func(t *testing.T) {
		h := &fakeHandler{}
		s := newTestSubscriber(h, "other@example.com")
		assert.True(t, s.Handle(context.Background(), "1", payload))
		assert.Empty(t, h.events)
	})
}

func TestMatchesMailbox(t *testing.T) {
	assert.True(t, MatchesMailbox("", "a@example.com"))
	assert.True(t, MatchesMailbox("me", "a@example.com"))
	assert.True(t, MatchesMailbox("A@example.com", "a@example.com"))
	assert.True(t, MatchesMailbox("a@example.com", ""))
	assert.False(t, MatchesMailbox("a@example.com", "b@example.com"))
}
