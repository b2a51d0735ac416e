package sweeper

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduguest/guestidp/pkg/model"
	"github.com/eduguest/guestidp/pkg/observability"
	"github.com/eduguest/guestidp/pkg/storage"
)

func TestSweepPurgesOnlyExpiredRequests(t *testing.T) {
	ctx := context.Background()
	requests := storage.NewMemoryAuthnRequestStore()

	fresh, err := model.NewPendingRequest("req-1", "https://sp.example.com",
		"https://sp.example.com/acs", "", "", false, nil, time.Now())
	require.NoError(t, err)
	freshStored, err := requests.Create(ctx, fresh)
	require.NoError(t, err)

	stale, err := model.NewPendingRequest("req-2", "https://sp.example.com",
		"https://sp.example.com/acs", "", "", false, nil, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	staleStored, err := requests.Create(ctx, stale)
	require.NoError(t, err)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s, err := NewSweeper(DefaultSchedule, requests, logger, metrics)
	require.NoError(t, err)

	s.sweep()

	_, err = requests.FindByID(ctx, freshStored.ID)
	assert.NoError(t, err)
	_, err = requests.FindByID(ctx, staleStored.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestNewSweeperRejectsBadSchedule(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	_, err := NewSweeper("not a schedule", storage.NewMemoryAuthnRequestStore(), logger, metrics)
	assert.Error(t, err)
}
