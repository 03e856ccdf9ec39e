package app

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soocke/ccd-inspect-go/debug"
	"github.com/soocke/ccd-inspect-go/domain/camera"
)

const stopWait = time.Second

// App runs the assembled container as a headless service: both acquisition
// workers plus the result reporter, until the context is cancelled.
type App struct {
	c *Container
}

func NewApp(c *Container) *App {
	return &App{c: c}
}

// Run starts the workers and blocks until ctx is cancelled, then shuts
// everything down in order. Camera start failures abort the run; a reporter
// dial failure does not, the link is retried once it has been up.
func (a *App) Run(ctx context.Context) error {
	cfg := a.c.Config
	logger := a.c.Logger

	if cfg.Debug {
		debug.StartGoroutineLogger(5*time.Second, logger)
		debug.StartMemLogger(5*time.Second, logger)
	}

	if a.c.Reporter != nil {
		if err := a.c.Reporter.Connect(); err != nil {
			logger.Warn("controller link down at startup", "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	workers := []struct {
		name string
		w    *camera.AcquisitionWorker
	}{
		{"ccd1", a.c.CCD1},
		{"ccd2", a.c.CCD2},
	}
	for _, it := range workers {
		g.Go(func() error {
			if err := it.w.Start(); err != nil {
				return fmt.Errorf("%s: %w", it.name, err)
			}
			<-ctx.Done()
			it.w.Stop()
			if !it.w.Wait(stopWait) {
				logger.Warn("worker did not stop in time", "camera", it.name)
			}
			return nil
		})
	}

	err := g.Wait()
	if a.c.Reporter != nil {
		a.c.Reporter.Close()
	}
	logger.Info("inspection service stopped")
	return err
}
