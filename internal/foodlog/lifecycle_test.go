package foodlog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dukerupert/mealmood/internal/model"
)

func TestLifecycleTokenIsExclusive(t *testing.T) {
	l := newLifecycle(time.Minute)

	release, err := l.begin(alice, "e1")
	require.NoError(t, err)

	_, err = l.begin(alice, "e1")
	require.ErrorIs(t, err, model.ErrConflict)

	// Tokens are per owner and per entry.
	other, err := l.begin(alice, "e2")
	require.NoError(t, err)
	other()
	foreign, err := l.begin(bob, "e1")
	require.NoError(t, err)
	foreign()

	release()
	release()
	require.Zero(t, l.inFlight())

	again, err := l.begin(alice, "e1")
	require.NoError(t, err)
	again()
}

func TestLifecycleCheckIdle(t *testing.T) {
	l := newLifecycle(time.Minute)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, l.checkIdle(&model.Entry{State: model.StateIdle}, now))

	busy := &model.Entry{ID: "e1", State: model.StateReanalyzing, StateChangedAt: now.Add(-30 * time.Second)}
	require.ErrorIs(t, l.checkIdle(busy, now), model.ErrConflict)
	require.False(t, l.abandoned(busy, now))

	busy.StateChangedAt = now.Add(-2 * time.Minute)
	require.True(t, l.abandoned(busy, now))
	require.NoError(t, l.checkIdle(busy, now))

	require.ErrorIs(t, l.checkIdle(&model.Entry{State: "archived"}, now), model.ErrConflict)
}
