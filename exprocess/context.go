// Package exprocess watches processes that this program does not own.
package exprocess

import (
	"context"
	"log"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const DefaultInterval = time.Second

// ExitCtxConfig configures ExitCtx.
type ExitCtxConfig struct {
	// PID is the process to watch.
	PID uint32

	// OptInterval is the time between checks. DefaultInterval is
	// used when it is zero.
	OptInterval time.Duration

	// OptExistsFn reports whether a process exists. It defaults to
	// gopsutil's PidExistsWithContext.
	OptExistsFn func(ctx context.Context, pid uint32) (bool, error)

	OptLogger *log.Logger
}

// ExitCtx returns a context.Context that is marked as done when the
// process exits or when ctx is done. The returned function stops the
// watch and must be called.
//
// Errors from the existence check are logged and the check is
// retried on the next interval.
func ExitCtx(ctx context.Context, config ExitCtxConfig) (context.Context, context.CancelFunc) {
	interval := config.OptInterval
	if interval <= 0 {
		interval = DefaultInterval
	}

	existsFn := config.OptExistsFn
	if existsFn == nil {
		existsFn = pidExists
	}

	watchCtx, cancelFn := context.WithCancel(ctx)

	go func() {
		defer cancelFn()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-ticker.C:
			}

			exists, err := existsFn(watchCtx, config.PID)
			if err != nil {
				if watchCtx.Err() != nil {
					return
				}

				if config.OptLogger != nil {
					config.OptLogger.Printf("failed to check if process %d exists - %v", config.PID, err)
				}

				continue
			}

			if !exists {
				if config.OptLogger != nil {
					config.OptLogger.Printf("process %d has exited", config.PID)
				}

				return
			}
		}
	}()

	return watchCtx, cancelFn
}

func pidExists(ctx context.Context, pid uint32) (bool, error) {
	return process.PidExistsWithContext(ctx, int32(pid))
}
