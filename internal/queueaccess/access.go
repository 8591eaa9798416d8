// Package queueaccess gives the CLI one reporting surface whether a daemon
// is running or not.
package queueaccess

import (
	"context"

	"leadpipe/internal/api"
	"leadpipe/internal/queue"
)

// Access provides pipeline reports regardless of HTTP or direct store backing.
type Access interface {
	Stats(ctx context.Context) (map[string]int, error)
	Stages(ctx context.Context) ([]api.StageCount, error)
	Stuck(ctx context.Context, hours, limit int) ([]api.Record, error)
	Credentials(ctx context.Context) ([]api.Credential, error)
	Reasons(ctx context.Context, limit int) ([]api.ReasonCount, error)
	List(ctx context.Context, query api.RecordQuery) ([]api.Record, error)
	Describe(ctx context.Context, id int64) (*api.Record, error)
	Leads(ctx context.Context, category string, limit int) ([]api.Lead, error)
	Lead(ctx context.Context, id string) (*api.Lead, error)
	Batches(ctx context.Context, limit int) ([]api.Batch, error)
}

var (
	_ Access = (*api.Client)(nil)
	_ Access = (*api.QueueService)(nil)
)

// NewHTTPAccess returns an Access backed by the daemon API.
func NewHTTPAccess(client *api.Client) Access {
	return client
}

// NewStoreAccess returns an Access backed by direct DB access. A non-nil
// credentials lister replaces the store's credential table, which is how the
// shared Redis ledger is reported.
func NewStoreAccess(store *queue.Store, credentials api.CredentialLister) Access {
	svc := api.NewQueueService(store)
	svc.UseCredentials(credentials)
	return svc
}
