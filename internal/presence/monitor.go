// Package presence watches the backing storage device and drives the kill
// switch when it disappears.
//
// Detection is conservative in one direction only: a single slow probe does
// not trigger teardown, but if no probe has succeeded within the deadline
// the device is declared lost. With the default 200ms interval and 750ms
// deadline, loss is detected and teardown started well inside the one
// second budget.
package presence

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pinvault/pinvault/internal/common"
	"github.com/pinvault/pinvault/internal/logging"
)

const (
	DefaultInterval = 200 * time.Millisecond
	DefaultDeadline = 750 * time.Millisecond
)

// DirProbe returns a probe that checks the vault directory is still
// reachable on its device.
func DirProbe(dir string) func() error {
	return func() error {
		info, err := os.Stat(dir)
		if err != nil {
			return fmt.Errorf("%w: %v", common.ErrStorageUnavailable, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: vault path is not a directory", common.ErrStorageUnavailable)
		}
		return nil
	}
}

// Monitor polls a probe and invokes onLost exactly once when the probe has
// not succeeded within the deadline.
type Monitor struct {
	probe    func() error
	interval time.Duration
	deadline time.Duration
	onLost   func()
	log      logging.Logger

	lostOnce sync.Once
}

// NewMonitor wires a monitor. interval and deadline fall back to defaults
// when zero; onLost may be invoked from the monitor goroutine and must be
// safe to call concurrently with vault operations.
func NewMonitor(probe func() error, interval, deadline time.Duration, onLost func(), log logging.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Monitor{
		probe:    probe,
		interval: interval,
		deadline: deadline,
		onLost:   onLost,
		log:      log,
	}
}

// Run polls until ctx is canceled or the device is lost. Probes execute in
// their own goroutine so a probe stalled on dead media cannot delay the
// deadline check; a stalled probe simply never refreshes the success
// timestamp.
func (m *Monitor) Run(ctx context.Context) {
	var lastOK atomic.Int64
	lastOK.Store(time.Now().UnixNano())

	probeTicks := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-probeTicks:
			}
			if err := m.probe(); err == nil {
				lastOK.Store(time.Now().UnixNano())
			} else {
				m.log.Warn(ctx, "storage probe failed", "error", err)
			}
		}
	}()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Skip the tick if the previous probe is still in flight.
			select {
			case probeTicks <- struct{}{}:
			default:
			}

			silence := time.Since(time.Unix(0, lastOK.Load()))
			if silence > m.deadline {
				m.log.Error(ctx, "storage presence lost", "silence", silence)
				m.fireLost()
				return
			}
		}
	}
}

func (m *Monitor) fireLost() {
	m.lostOnce.Do(func() {
		if m.onLost != nil {
			m.onLost()
		}
	})
}
