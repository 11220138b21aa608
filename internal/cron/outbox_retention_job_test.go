package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/coursepay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/coursepay-backend/pkg/db/models"
	"github.com/angelmondragon/coursepay-backend/pkg/enums"
	"github.com/angelmondragon/coursepay-backend/pkg/logger"
	"github.com/angelmondragon/coursepay-backend/pkg/outbox"
)

var retentionNow = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func outboxRow(publishedAt *time.Time, attempts int) models.OutboxEvent {
	return models.OutboxEvent{
		EventType:     enums.EventPaymentCompleted,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		PublishedAt:   publishedAt,
		AttemptCount:  attempts,
	}
}

func TestOutboxRetentionPrunesOldDeliveredEvents(t *testing.T) {
	conn := dbtest.Open(t)
	old := retentionNow.Add(-40 * 24 * time.Hour)
	recent := retentionNow.Add(-24 * time.Hour)
	rows := []models.OutboxEvent{
		outboxRow(&old, 1),
		outboxRow(&old, 1),
		outboxRow(&old, 2),
		outboxRow(&recent, 1),
		outboxRow(nil, 5), // parked
		outboxRow(nil, 0), // still queued
	}
	require.NoError(t, conn.Create(&rows).Error)

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:    logger.Nop(),
		Outbox:    outbox.NewRepository(conn),
		BatchSize: 2,
		Now:       func() time.Time { return retentionNow },
	})
	require.NoError(t, err)
	require.NoError(t, job.Run(context.Background()))

	var left []models.OutboxEvent
	require.NoError(t, conn.Find(&left).Error)
	require.Len(t, left, 3)
	for _, row := range left {
		if row.PublishedAt != nil {
			assert.True(t, row.PublishedAt.After(retentionNow.Add(-defaultOutboxRetention)))
		}
	}
}

type countingPruner struct {
	perCall []int64
	calls   int
	cutoff  time.Time
	err     error
}

func (c *countingPruner) PrunePublished(_ context.Context, cutoff time.Time, _ int) (int64, error) {
	c.cutoff = cutoff
	if c.err != nil {
		return 0, c.err
	}
	n := c.perCall[c.calls]
	c.calls++
	return n, nil
}

func TestOutboxRetentionStopsAtMaxBatches(t *testing.T) {
	pruner := &countingPruner{perCall: []int64{10, 10, 10, 10}}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		Outbox:     pruner,
		Retention:  7 * 24 * time.Hour,
		BatchSize:  10,
		MaxBatches: 3,
		Now:        func() time.Time { return retentionNow },
	})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 3, pruner.calls)
	assert.Equal(t, retentionNow.Add(-7*24*time.Hour), pruner.cutoff)
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger: logger.Nop(),
		Outbox: &countingPruner{err: errors.New("statement timeout")},
	})
	require.NoError(t, err)

	assert.ErrorContains(t, job.Run(context.Background()), "statement timeout")
}
