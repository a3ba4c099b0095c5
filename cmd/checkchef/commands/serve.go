package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mr-karan/checkchef/internal/app"
)

// serveCommand runs the scheduler, drift runner and HTTP API until interrupted.
func (a *App) serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "run the check scheduler and HTTP API",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			server, err := app.New(app.Options{
				ConfigPath: cmd.String("config"),
				Version:    a.Version,
				BuildInfo:  fmt.Sprintf("%s (%s)", a.Commit, a.Date),
			})
			if err != nil {
				return err
			}
			if err := server.Initialize(ctx); err != nil {
				return err
			}

			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			var runErr error
			select {
			case <-ctx.Done():
				log.Info("shutdown signal received")
			case runErr = <-errCh:
				if runErr != nil {
					log.Error("server stopped", "error", runErr)
				}
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return errors.Join(runErr, server.Shutdown(shutdownCtx))
		},
	}
}
