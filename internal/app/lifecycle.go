package app

import (
	"os"
	"os/signal"
	"syscall"
)

// WaitForShutdown blocks until SIGINT/SIGTERM, a listener failure or the app
// stopping itself, then shuts the app down. It returns the listener error,
// if that is what ended the run.
func WaitForShutdown(a *App) error {
	if a == nil {
		return nil
	}
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	var err error
	select {
	case s := <-sig:
		a.log.Info().Str("signal", s.String()).Msg("shutting down")
	case err = <-a.Errors():
		a.log.Error().Err(err).Msg("listener failed, shutting down")
	case <-a.Done():
	}
	a.Shutdown()
	return err
}
