package loop_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ESiegman/Thermo-PID/internal/dynamo"
)

var errHardware = errors.New("hardware fault")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) SleepUntil(ctx context.Context, t time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
	return nil
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// scriptedSource returns temps in order, repeating the last one, and fails
// from read failAt onwards when failAt >= 0.
type scriptedSource struct {
	temps  []float64
	failAt int
	block  bool
	// stuck makes Read block without watching ctx until released.
	stuck chan struct{}
	reads int
}

func (s *scriptedSource) Read(ctx context.Context, ch dynamo.Channel) (float64, error) {
	n := s.reads
	s.reads++
	if s.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.stuck != nil {
		<-s.stuck
		return 20, nil
	}
	if s.failAt >= 0 && n >= s.failAt {
		return 0, errHardware
	}
	if n >= len(s.temps) {
		n = len(s.temps) - 1
	}
	return s.temps[n], nil
}

type setCall struct {
	Channel   dynamo.Channel
	Magnitude float64
}

type recordingSink struct {
	// stuckOff makes ShutdownAll block without watching ctx until released.
	stuckOff    chan struct{}
	sets        []setCall
	shutdowns   int
	failSetAt   int
	failOff     bool
	onSet       func()
	ctxCanceled []bool
}

func (s *recordingSink) Set(ctx context.Context, ch dynamo.Channel, magnitude float64) error {
	if s.onSet != nil {
		s.onSet()
	}
	s.ctxCanceled = append(s.ctxCanceled, ctx.Err() != nil)
	if s.failSetAt >= 0 && len(s.sets) >= s.failSetAt {
		return errHardware
	}
	s.sets = append(s.sets, setCall{ch, magnitude})
	return nil
}

func (s *recordingSink) ShutdownAll(ctx context.Context) error {
	s.shutdowns++
	if s.stuckOff != nil {
		<-s.stuckOff
	}
	if s.failOff {
		return errHardware
	}
	return nil
}

type memRecorder struct {
	records []dynamo.Record
	failAt  int
	closed  int
}

func (r *memRecorder) Append(rec dynamo.Record) error {
	if r.failAt >= 0 && len(r.records) >= r.failAt {
		return errHardware
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *memRecorder) Close() error {
	r.closed++
	return nil
}
