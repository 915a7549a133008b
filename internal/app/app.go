// Package app boots the client engine from resolved options and drives it for
// the lifetime of the process.
package app

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/inkwell-ai/inkwell/internal/api"
	"github.com/inkwell-ai/inkwell/internal/engine"
	"github.com/inkwell-ai/inkwell/internal/options"
	"github.com/inkwell-ai/inkwell/internal/session"
	"github.com/inkwell-ai/inkwell/pkg/model"
)

// Run opens the configured notebook, optionally executes its code cells, and
// keeps the engine alive until the context is canceled.
func Run(ctx context.Context, version string, opts options.Options) error {
	log.Infof("inkwell %s starting", version)

	cli, err := api.NewClient(opts.ClientOptions())
	if err != nil {
		return err
	}

	nb, err := resolveNotebook(ctx, cli, opts)
	if err != nil {
		return err
	}

	eng := engine.New(cli, nb, model.ActorID(opts.ActorID), engine.Callbacks{
		OnKernelStatus: func(s session.Status) {
			log.Infof("kernel status: %s", s)
		},
		OnSaveError: func(err error) {
			log.WithError(err).Error("autosave failed; retrying on the next change")
		},
		OnSaveWarning: func(err error) {
			log.WithError(err).Warn("save warning")
		},
	})
	if opts.ExecTimeoutMs > 0 {
		eng.Coordinator().SetExecTimeout(opts.ExecTimeoutMs)
	}
	if opts.AutosaveIntervalMs > 0 {
		eng.Saver().SetInterval(time.Duration(opts.AutosaveIntervalMs) * time.Millisecond)
	}

	if err := eng.Open(ctx, !opts.ReadOnly); err != nil {
		return errors.Wrap(err, "opening notebook")
	}
	defer func() {
		if cErr := eng.Close(context.Background()); cErr != nil {
			log.WithError(cErr).Warn("closing engine")
		}
	}()

	if opts.RunAll {
		return runAll(ctx, eng)
	}

	<-ctx.Done()
	return nil
}

func resolveNotebook(
	ctx context.Context, cli *api.Client, opts options.Options,
) (*model.Notebook, error) {
	if opts.NotebookID != "" {
		return cli.FetchNotebook(ctx, model.NotebookID(opts.NotebookID))
	}
	return cli.CreateNotebook(ctx, opts.NotebookName)
}

// runAll submits every code cell in document order and waits for the run queue
// to drain.
func runAll(ctx context.Context, eng *engine.Engine) error {
	var cellIDs []model.CellID
	eng.Store().With(func(nb *model.Notebook) {
		for _, cell := range nb.Cells {
			if cell.Code != nil {
				cellIDs = append(cellIDs, cell.ID)
			}
		}
	})
	for _, id := range cellIDs {
		if err := eng.RunCell(ctx, id); err != nil {
			return errors.Wrapf(err, "submitting cell %s", id)
		}
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if eng.Coordinator().Running() == "" && len(eng.Coordinator().Queued()) == 0 {
				return eng.SaveNow(ctx)
			}
		}
	}
}
