package projection

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// TickerService advances every registered projection on a fixed interval,
// implementing the runner.Service (and runner.HealthChecker) contract so
// the Projection Manager can run as a background component of the demo
// binary instead of requiring callers to drive Advance by hand.
type TickerService struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	lastTick atomic.Int64 // unix nanos of the last completed tick
	stopping atomic.Bool  // set by Stop, so HealthCheck doesn't flag an intentional shutdown
}

// NewTickerService builds a TickerService advancing manager every interval.
func NewTickerService(manager *Manager, interval time.Duration, logger *slog.Logger) *TickerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TickerService{manager: manager, interval: interval, logger: logger}
}

func (t *TickerService) Name() string { return "projection-ticker" }

// Start launches the background advance loop and returns immediately.
func (t *TickerService) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.done = make(chan struct{})
	t.lastTick.Store(timeNowNano())

	go func() {
		defer close(t.done)
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				for name, result := range t.manager.AdvanceAll(loopCtx) {
					if result.Err != nil {
						t.logger.Error("projection advance failed",
							slog.String("projection", name), slog.Int("processed", result.Processed), slog.Any("error", result.Err))
					}
				}
				t.lastTick.Store(timeNowNano())
			}
		}
	}()
	return nil
}

// Stop signals the advance loop to exit and waits for it, bounded by ctx.
func (t *TickerService) Stop(ctx context.Context) error {
	if t.cancel == nil {
		return nil
	}
	t.stopping.Store(true)
	t.cancel()
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HealthCheck reports the ticker unhealthy once it has gone more than
// 3 intervals without completing a tick — either the loop stalled on a
// slow Advance or it exited without Stop having been called.
func (t *TickerService) HealthCheck(ctx context.Context) error {
	select {
	case <-t.done:
		if !t.stopping.Load() {
			return fmt.Errorf("projection-ticker: advance loop exited unexpectedly")
		}
		return nil
	default:
	}

	stale := time.Duration(timeNowNano()-t.lastTick.Load()) * time.Nanosecond
	if budget := 3 * t.interval; stale > budget {
		return fmt.Errorf("projection-ticker: no tick in %s (budget %s)", stale, budget)
	}
	return nil
}

func timeNowNano() int64 { return time.Now().UnixNano() }
