package runtime

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/thin-edge/tedge-core/pkg/logger"
)

// RunWithSignals wraps Run with the OS signal handling spec §4.8
// describes: SIGHUP requests a reload, SIGTERM/SIGINT request shutdown.
// Signals are handled on their own goroutine so a busy actor loop never
// blocks them (spec §4.8: "Signals arriving while run monopolises the
// scheduler are honoured only at the next cooperative yield ...
// implementations must avoid uninterrupted busy loops" — here the signal
// goroutine itself never blocks on actor work, so delivery is immediate
// regardless of what the actors are doing).
func (r *Runtime) RunWithSignals(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		for {
			select {
			case <-runCtx.Done():
				return
			case sig := <-sigCh:
				switch sig {
				case syscall.SIGHUP:
					logger.L().InfoContext(runCtx, "received SIGHUP, reloading")
					if err := r.Reload(runCtx); err != nil {
						logger.L().ErrorContext(runCtx, "reload failed", "error", err)
					}
				case syscall.SIGTERM, syscall.SIGINT:
					logger.L().InfoContext(runCtx, "received shutdown signal", "signal", sig.String())
					cancel()
					return
				}
			}
		}
	}()

	return r.Run(runCtx)
}
