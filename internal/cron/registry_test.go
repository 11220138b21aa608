package cron

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedJob string

func (n namedJob) Name() string            { return string(n) }
func (namedJob) Run(context.Context) error { return nil }

func TestRegistryKeepsOrderAndCopies(t *testing.T) {
	registry, err := NewRegistry(nil, namedJob("payment-reconcile"))
	require.NoError(t, err)
	require.NoError(t, registry.Register(namedJob("outbox-retention")))

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, "payment-reconcile", jobs[0].Name())
	assert.Equal(t, "outbox-retention", jobs[1].Name())

	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "callers cannot mutate the registry")
}

func TestRegistryRejectsBadNames(t *testing.T) {
	_, err := NewRegistry(namedJob("payment-reconcile"), namedJob("payment-reconcile"))
	assert.ErrorContains(t, err, "registered twice")

	_, err = NewRegistry(namedJob(""))
	assert.ErrorContains(t, err, "has no name")
}
