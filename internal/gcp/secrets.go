package gcp

import (
	"context"
	"fmt"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

// SecretStore reads secret payloads from Secret Manager.
type SecretStore struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretStore(ctx context.Context, projectID string) (*SecretStore, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}
	return &SecretStore{client: client, projectID: projectID}, nil
}

// Access returns the payload of name, which may be a bare secret id, a
// secret resource name, or a full version resource name.
func (s *SecretStore) Access(ctx context.Context, name string) ([]byte, error) {
	resp, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: secretVersionName(s.projectID, name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to access secret %s: %w", name, err)
	}
	return resp.GetPayload().GetData(), nil
}

func (s *SecretStore) Close() error {
	return s.client.Close()
}

func secretVersionName(projectID, name string) string {
	name = strings.Trim(name, "/")
	if !strings.HasPrefix(name, "projects/") {
		name = fmt.Sprintf("projects/%s/secrets/%s", projectID, name)
	}
	if !strings.Contains(name, "/versions/") {
		name += "/versions/latest"
	}
	return name
}
