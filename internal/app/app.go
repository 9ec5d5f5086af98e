package app

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

// Worker is a long-running unit of work (a category pipeline, a rollup
// job) that exits when its context is cancelled.
type Worker interface {
	Run(ctx context.Context)
}

type App struct {
	log     logger.Logger
	httpSrv HTTPServer
	workers []Worker

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(log logger.Logger, httpSrv HTTPServer, workers ...Worker) *App {
	return &App{log: log, httpSrv: httpSrv, workers: workers}
}

func (a *App) Start() error {
	a.log.Debug("App start begin...")

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w Worker) {
			defer a.wg.Done()
			w.Run(ctx)
		}(w)
	}

	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("Start HTTP server is error=%v", err)
		}
	}()

	a.log.Infof("App started with %d workers", len(a.workers))
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stop begin...")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Errorf("Workers did not stop before deadline: %v", ctx.Err())
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("App stopped")
	return nil
}
