package shutdown

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func CreateGracefulShutdownChannel() chan os.Signal {
	gracefulShutdown := make(chan os.Signal, 1)
	signal.Notify(gracefulShutdown, syscall.SIGTERM, syscall.SIGINT)

	return gracefulShutdown
}

// ListenForShutdown blocks until a signal arrives, runs signalHandler and closes done once the handler
// returns or timeToWait has passed, whichever comes first.
func ListenForShutdown(
	signalChan chan os.Signal,
	done chan bool,
	signalHandler func(),
	timeToWait time.Duration,
	l *zap.Logger,
) {
	sig := <-signalChan
	l.Sugar().Infow("Caught signal", zap.String("signal", sig.String()))

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		signalHandler()
	}()

	select {
	case <-finished:
		l.Sugar().Infow("Shutdown complete")
	case <-time.After(timeToWait):
		l.Sugar().Warnw("Shutdown timed out, exiting anyway", zap.Duration("waited", timeToWait))
	}
	close(done)
}
