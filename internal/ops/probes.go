package ops

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"sigsync/internal/queue"
	"sigsync/internal/types"
)

// PoolProbe checks database connectivity with a ping.
type PoolProbe struct {
	Pool *pgxpool.Pool
}

func (p *PoolProbe) Name() string { return "database" }

func (p *PoolProbe) Check(ctx context.Context) error {
	return p.Pool.Ping(ctx)
}

// QueueProbe checks that the job tables are readable by querying the depth
// of the open-incidents queue.
type QueueProbe struct {
	Stats StatsSource
}

func (p *QueueProbe) Name() string { return "queue" }

func (p *QueueProbe) Check(ctx context.Context) error {
	_, err := p.Stats.Depth(ctx, types.QueueOpenIncidents)
	return err
}

var (
	_ HealthProbe = (*PoolProbe)(nil)
	_ HealthProbe = (*QueueProbe)(nil)
	_ StatsSource = (*queue.PGQueue)(nil)
)
