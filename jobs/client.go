package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// refreshDedupeWindow collapses repeated on-demand refresh requests.
const refreshDedupeWindow = time.Minute

// Client enqueues tasks from the API process.
type Client struct {
	client *asynq.Client
}

// NewClient constructs a Client.
func NewClient(redisOpts asynq.RedisClientOpt) (*Client, error) {
	return &Client{client: asynq.NewClient(redisOpts)}, nil
}

// EnqueueIdentityRefresh enqueues an on-demand identity refresh on behalf of
// the principal in ctx. A refresh already queued in the dedupe window yields
// an empty id and no error.
func (c *Client) EnqueueIdentityRefresh(ctx context.Context) (string, error) {
	payload := IdentityRefreshPayload{Trigger: "manual"}
	if p := shared.PrincipalFromContext(ctx); p.Authenticated() {
		payload.RequestedBy = p.UserID
	}
	task, err := NewIdentityRefreshTask(payload)
	if err != nil {
		return "", err
	}
	info, err := c.client.EnqueueContext(ctx, task, asynq.Unique(refreshDedupeWindow))
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		return "", nil
	case err != nil:
		return "", shared.Unavailable("jobs: enqueue identity refresh", err)
	}
	return info.ID, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}
