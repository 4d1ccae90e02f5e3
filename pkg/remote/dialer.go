package remote

import (
	"context"
	"strings"

	"metacohort/pkg/repository"
)

// Dialer opens clients to cohort members through a shared pool.
type Dialer struct {
	pool *ConnectionPool
	opts []ClientOption
}

// NewDialer returns a dialer whose clients share pool and opts.
func NewDialer(pool *ConnectionPool, opts ...ClientOption) *Dialer {
	return &Dialer{pool: pool, opts: opts}
}

// Dial returns a client for address. The connection is opened lazily, so the
// first call made through the connector is what proves the member is up.
func (d *Dialer) Dial(ctx context.Context, address string) (repository.Connector, error) {
	if strings.TrimSpace(address) == "" {
		return nil, repository.Errorf(repository.KindInvalidParameter, "Dial", "empty member address")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewClient(address, d.pool, d.opts...), nil
}
