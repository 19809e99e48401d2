package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"chatroom/internal/dto"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (c *countingSweeper) Sweep(ctx context.Context) (dto.SweepResult, error) {
	c.calls.Add(1)
	return dto.SweepResult{Expired: 1}, c.err
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	s := &countingSweeper{err: errors.New("db down")}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Run(ctx, s, 5*time.Millisecond, time.Second)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for s.calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("expected repeated sweeps despite errors, got %d", s.calls.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunDisabled(t *testing.T) {
	s := &countingSweeper{}
	Run(context.Background(), s, 0, time.Second)
	if s.calls.Load() != 0 {
		t.Fatal("disabled sweeper must not sweep")
	}
}

func TestOnceReturnsResult(t *testing.T) {
	res, err := Once(context.Background(), &countingSweeper{}, 0)
	if err != nil || res.Expired != 1 {
		t.Fatalf("unexpected %+v %v", res, err)
	}
}
