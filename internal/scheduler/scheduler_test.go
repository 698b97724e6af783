package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegister_RejectsBadSpecAndDuplicates(t *testing.T) {
	s := NewScheduler(context.Background())
	noop := func(context.Context) error { return nil }

	assert.Error(t, s.Register("refresh", "0 0 18 * *", noop), "five-field spec needs seconds")
	require.NoError(t, s.Register("refresh", "0 0 18 * * 1-5", noop))
	assert.Error(t, s.Register("refresh", "0 0 19 * * 1-5", noop))
	assert.Equal(t, []string{"refresh"}, s.Tasks())
}

func TestRunNow(t *testing.T) {
	type key struct{}
	ctx := context.WithValue(context.Background(), key{}, "v")
	s := NewScheduler(ctx)

	var gotCtx context.Context
	boom := errors.New("boom")
	require.NoError(t, s.Register("ok", "0 0 0 1 1 *", func(c context.Context) error {
		gotCtx = c
		return nil
	}))
	require.NoError(t, s.Register("fail", "0 0 0 1 1 *", func(context.Context) error { return boom }))

	require.NoError(t, s.RunNow("ok"))
	assert.Equal(t, "v", gotCtx.Value(key{}))
	assert.ErrorIs(t, s.RunNow("fail"), boom)
	assert.Error(t, s.RunNow("missing"))
}

func TestStartRunsScheduledTask(t *testing.T) {
	s := NewScheduler(context.Background())
	var runs atomic.Int32
	require.NoError(t, s.Register("tick", "* * * * * *", func(context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
	s.Stop()
}
