package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/coursepay-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultPruneBatch      = 500
	defaultPruneBatches    = 20
)

type outboxPruner interface {
	PrunePublished(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	Outbox    outboxPruner
	Retention time.Duration
	// BatchSize rows are deleted per statement, at most MaxBatches times per
	// run, so a large backlog drains over several cycles without long locks.
	BatchSize  int
	MaxBatches int
	Now        func() time.Time
}

// NewOutboxRetentionJob prunes payment and enrollment events that were
// delivered more than Retention ago.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	j := &outboxRetentionJob{
		logg:       params.Logger,
		outbox:     params.Outbox,
		retention:  params.Retention,
		batch:      params.BatchSize,
		maxBatches: params.MaxBatches,
		now:        params.Now,
	}
	if j.retention <= 0 {
		j.retention = defaultOutboxRetention
	}
	if j.batch <= 0 {
		j.batch = defaultPruneBatch
	}
	if j.maxBatches <= 0 {
		j.maxBatches = defaultPruneBatches
	}
	if j.now == nil {
		j.now = time.Now
	}
	return j, nil
}

type outboxRetentionJob struct {
	logg       *logger.Logger
	outbox     outboxPruner
	retention  time.Duration
	batch      int
	maxBatches int
	now        func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := j.outbox.PrunePublished(ctx, cutoff, j.batch)
		if err != nil {
			return fmt.Errorf("prune published events: %w", err)
		}
		batches++
		total += n
		if n < int64(j.batch) {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":  cutoff,
		"deleted": total,
		"batches": batches,
	}), "outbox retention pass done")
	return nil
}
