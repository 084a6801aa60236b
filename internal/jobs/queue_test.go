package jobs

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"acero-store/internal/observability"
)

func TestQueue_RunsAndDrainsOnClose(t *testing.T) {
	q := NewQueue(2, 16, time.Second, observability.NewNopLogger())

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		ok := q.Submit(Job{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		assert.True(t, ok)
	}
	q.Close()

	assert.EqualValues(t, 10, ran.Load())
	assert.False(t, q.Submit(Job{Name: "late", Run: func(context.Context) error { return nil }}))
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(1, 1, time.Second, observability.NewNopLogger())

	release := make(chan struct{})
	started := make(chan struct{})
	q.Submit(Job{Name: "blocker", Run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})
	<-started

	assert.True(t, q.Submit(Job{Name: "queued", Run: func(context.Context) error { return nil }}))
	assert.False(t, q.Submit(Job{Name: "overflow", Run: func(context.Context) error { return nil }}))
	assert.EqualValues(t, 1, q.Dropped())

	close(release)
	q.Close()
}

func TestQueue_LogsFailuresAndPanics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	q := NewQueue(1, 4, time.Second, observability.NewLoggerFromZap(zap.New(core)))

	q.Submit(Job{Name: "fails", Run: func(context.Context) error { return errors.New("smtp down") }})
	q.Submit(Job{Name: "panics", Run: func(context.Context) error { panic("boom") }})
	q.Close()

	assert.Equal(t, 1, logs.FilterMessage("job_failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("job_panic").Len())
}

func TestQueue_AppliesTimeout(t *testing.T) {
	q := NewQueue(1, 1, 20*time.Millisecond, observability.NewNopLogger())

	var deadline atomic.Bool
	q.Submit(Job{Name: "slow", Run: func(ctx context.Context) error {
		<-ctx.Done()
		deadline.Store(errors.Is(ctx.Err(), context.DeadlineExceeded))
		return ctx.Err()
	}})
	q.Close()

	assert.True(t, deadline.Load())
}
