package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"draftwire/internal/retention"
	"draftwire/pkg/api"
	"draftwire/pkg/banner"
	"draftwire/pkg/logger"
)

// printBanner prints the startup banner and build info.
func (a *App) printBanner() {
	verStr := a.version
	if a.commit != "none" && a.commit != "" {
		verStr += " (" + a.commit + ")"
	}
	if a.buildDate != "unknown" && a.buildDate != "" {
		verStr += " @ " + a.buildDate
	}
	banner.PrintWithEff(a.eff, verStr)
}

// Run starts the relay processor, the retention sweeper, and the HTTP
// server, and blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	relayCtx, stopRelay := context.WithCancel(context.Background())
	relayDone := make(chan struct{})
	go func() {
		defer close(relayDone)
		a.rl.Run(relayCtx)
	}()

	stopSweeper, err := retention.Start(ctx, a.eff.Config.Retention, a.rl)
	if err != nil {
		stopRelay()
		<-relayDone
		return err
	}

	a.printBanner()
	a.ready.Store(true)

	errCh := a.startHTTP()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	a.ready.Store(false)
	stopSweeper()

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if a.srv != nil {
		if err := a.srv.Shutdown(shutCtx); err != nil {
			logger.Warn("http_shutdown_failed", "error", err)
		}
	}

	// stop the relay after the listener so in-flight submissions drain
	stopRelay()
	<-relayDone

	if err := a.st.Close(); err != nil {
		logger.Error("store_close_failed", "error", err)
	}
	logger.Info("server_stopped")
	return runErr
}

// startHTTP builds the route table, starts the HTTP server in a goroutine
// and returns a channel that will contain any server error.
func (a *App) startHTTP() <-chan error {
	router := api.NewRouter(api.Options{
		Relay:          a.rl,
		Store:          a.st,
		Limiter:        a.limiter,
		AllowedOrigins: append([]string{}, a.eff.Config.Security.CORS.AllowedOrigins...),
		Ready:          func() bool { return a.ready.Load() },
		Version:        a.version,
	})

	a.srv = &http.Server{
		Addr:              a.eff.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http_listening", "addr", a.eff.Addr)
		errCh <- a.srv.ListenAndServe()
	}()
	return errCh
}
