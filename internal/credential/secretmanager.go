package credential

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"mailingest/backend/internal/googleerr"
)

// SecretManagerStore 把令牌保存在 Secret Manager 的一个 secret 中，
// 每次保存新增一个版本，读取最新版本。
type SecretManagerStore struct {
	client   *secretmanager.Client
	project  string
	secretID string
}

// NewSecretManagerStore 创建 Secret Manager 令牌存储
func NewSecretManagerStore(ctx context.Context, project, secretID string, opts ...option.ClientOption) (*SecretManagerStore, error) {
	if project == "" || secretID == "" {
		return nil, fmt.Errorf("secret manager project and secret id are required")
	}
	client, err := secretmanager.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return &SecretManagerStore{client: client, project: project, secretID: secretID}, nil
}

func (s *SecretManagerStore) secretName() string {
	return fmt.Sprintf("projects/%s/secrets/%s", s.project, s.secretID)
}

// Load 读取最新版本
func (s *SecretManagerStore) Load(ctx context.Context) (*oauth2.Token, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: s.secretName() + "/versions/latest",
	})
	if err != nil {
		if googleerr.IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, googleerr.Classify("secretmanager access", err)
	}
	return decodeToken(resp.GetPayload().GetData())
}

// Save 新增一个版本
func (s *SecretManagerStore) Save(ctx context.Context, token *oauth2.Token) error {
	data, err := encodeToken(token)
	if err != nil {
		return err
	}
	_, err = s.client.AddSecretVersion(ctx, &secretmanagerpb.AddSecretVersionRequest{
		Parent:  s.secretName(),
		Payload: &secretmanagerpb.SecretPayload{Data: data},
	})
	if err != nil {
		return googleerr.Classify("secretmanager add version", err)
	}
	return nil
}

// Close 关闭客户端
func (s *SecretManagerStore) Close() error {
	return s.client.Close()
}
