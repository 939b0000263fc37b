package httpd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nabbar/httpd/daemon"
	"github.com/nabbar/httpd/internal/log"
)

// RunUntilSignal blocks until SIGINT or SIGTERM, then drives spec §5's
// graceful shutdown with the given grace period before returning. It
// adapts the teacher's app.App.awaitSignal signal-handling shape away
// from its unconditional os.Exit(0) towards the Stop/context discipline
// this module's Daemon actually requires (see DESIGN.md).
func RunUntilSignal(d *daemon.Daemon, grace time.Duration) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Default().WithFields(log.Fields{"signal": sig.String()}).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	return StopDaemon(ctx, d)
}
