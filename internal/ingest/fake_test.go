package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"mailingest/backend/internal/domain"
	"mailingest/backend/internal/mailbox"
	"mailingest/backend/internal/mime"
)

// fakeMailbox 是内存中的邮箱，可以按邮件注入错误
type fakeMailbox struct {
	mu        sync.Mutex
	messages  map[string]*mailbox.Message
	remote    map[string][]byte
	history   map[uint64]domain.Delta
	expired   bool
	position  uint64
	unread    []string
	fetchErr  map[string][]error
	fetchHook func(ctx context.Context, id string) error
	ackErr    error
	histErr   []error

	fetches  map[string]int
	acked    []string
	histCall int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{
		messages: make(map[string]*mailbox.Message),
		remote:   make(map[string][]byte),
		history:  make(map[uint64]domain.Delta),
		fetchErr: make(map[string][]error),
		fetches:  make(map[string]int),
	}
}

// add 添加一封带纯文本正文和一个 PDF 附件的邮件
func (f *fakeMailbox) add(id string) {
	f.messages[id] = &mailbox.Message{
		Meta: domain.MessageMeta{
			ID:           id,
			ThreadID:     "t-" + id,
			Subject:      "Invoice " + id,
			From:         "billing@example.com",
			To:           "me@example.com",
			Date:         "Mon, 4 Mar 2024 10:00:00 +0000",
			InternalDate: time.Date(2024, 3, 4, 10, 0, 1, 0, time.UTC),
			LabelIDs:     []string{"INBOX", "UNREAD"},
		},
		Root: &mime.Part{
			ID:       "",
			MIMEType: "multipart/mixed",
			Parts: []*mime.Part{
				{ID: "0", MIMEType: "text/plain", Charset: "utf-8", Content: []byte("body of " + id)},
				{ID: "1", MIMEType: "application/pdf", Filename: "invoice.pdf", Disposition: "attachment", Content: []byte("%PDF " + id)},
			},
		},
	}
}

// delta 构造从 since 开始、每封邮件位置依次加一的增量
func (f *fakeMailbox) delta(since uint64, ids ...string) domain.Delta {
	d := domain.Delta{NewCursor: since + uint64(len(ids)) + 1}
	for i, id := range ids {
		d.Changes = append(d.Changes, domain.Change{MessageID: id, Position: since + uint64(i) + 1})
	}
	f.history[since] = d
	return d
}

func (f *fakeMailbox) Watch(context.Context, string, []string) (mailbox.WatchResult, error) {
	return mailbox.WatchResult{HistoryID: f.position, Expiration: time.Now().Add(7 * 24 * time.Hour)}, nil
}

func (f *fakeMailbox) StopWatch(context.Context) error { return nil }

func (f *fakeMailbox) ListChangesSince(_ context.Context, since uint64) (domain.Delta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histCall++
	if len(f.histErr) > 0 {
		err := f.histErr[0]
		f.histErr = f.histErr[1:]
		return domain.Delta{}, err
	}
	if f.expired {
		return domain.Delta{}, domain.NewError(domain.KindCursorExpired, "history.list", errors.New("404"))
	}
	d, ok := f.history[since]
	if !ok {
		return domain.Delta{NewCursor: since}, nil
	}
	return d, nil
}

func (f *fakeMailbox) ListUnread(_ context.Context, max int) ([]string, error) {
	if len(f.unread) > max {
		return f.unread[:max], nil
	}
	return f.unread, nil
}

func (f *fakeMailbox) CurrentPosition(context.Context) (uint64, error) {
	return f.position, nil
}

func (f *fakeMailbox) FetchMessage(ctx context.Context, id string) (*mailbox.Message, error) {
	if f.fetchHook != nil {
		if err := f.fetchHook(ctx, id); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches[id]++
	if errs := f.fetchErr[id]; len(errs) > 0 {
		err := errs[0]
		if len(errs) > 1 {
			f.fetchErr[id] = errs[1:]
		}
		if err != nil {
			return nil, err
		}
	}
	m, ok := f.messages[id]
	if !ok {
		return nil, domain.Permanent("messages.get", fmt.Errorf("message %s not found", id))
	}
	return m, nil
}

func (f *fakeMailbox) FetchAttachment(_ context.Context, messageID, attachmentID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.remote[messageID+"/"+attachmentID]
	if !ok {
		return nil, domain.Permanent("attachments.get", errors.New("not found"))
	}
	return b, nil
}

func (f *fakeMailbox) RemoveLabel(_ context.Context, id, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeMailbox) fetchCount(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches[id]
}

// fakeRefresher 记录刷新次数
type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	onOK  func()
}

func (f *fakeRefresher) Refresh(context.Context) (*oauth2.Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.onOK != nil {
		f.onOK()
	}
	return &oauth2.Token{AccessToken: "fresh"}, nil
}
