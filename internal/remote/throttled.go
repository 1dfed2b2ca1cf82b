package remote

import (
	"context"

	"github.com/flatsync/flatsync/internal/ratelimit"
)

// throttled decorates a Client so every outbound call passes admission
// control first. A failed check surfaces the *ratelimit.QuotaError without
// touching the underlying client.
type throttled struct {
	client  Client
	limiter *ratelimit.Limiter
}

// Throttled wraps client so all calls are charged against limiter. All
// remote clients in the process should share the one process-wide limiter,
// regardless of which project they target.
func Throttled(client Client, limiter *ratelimit.Limiter) Client {
	return &throttled{client: client, limiter: limiter}
}

func (t *throttled) ListFiles(ctx context.Context, projectID string) ([]File, error) {
	if err := t.limiter.Check(); err != nil {
		return nil, err
	}
	return t.client.ListFiles(ctx, projectID)
}

func (t *throttled) GetFile(ctx context.Context, projectID, path string) (File, error) {
	if err := t.limiter.Check(); err != nil {
		return File{}, err
	}
	return t.client.GetFile(ctx, projectID, path)
}

func (t *throttled) CreateOrUpdateFile(ctx context.Context, projectID, path, content string) (File, error) {
	if err := t.limiter.Check(); err != nil {
		return File{}, err
	}
	return t.client.CreateOrUpdateFile(ctx, projectID, path, content)
}

func (t *throttled) DeleteFile(ctx context.Context, projectID, path string) error {
	if err := t.limiter.Check(); err != nil {
		return err
	}
	return t.client.DeleteFile(ctx, projectID, path)
}
