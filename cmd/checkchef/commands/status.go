package commands

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mr-karan/checkchef/internal/cli/client"
	"github.com/mr-karan/checkchef/internal/cli/render"
)

var remoteFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "server",
		Usage:   "checkchef server URL (defaults to the configured listen address)",
		Sources: cli.EnvVars("CHECKCHEF_SERVER_URL"),
	},
	&cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "output format: text, table, json",
		Value:   "text",
	},
}

// statusCommand reads statuses from a running server.
func (a *App) statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show check and service status from a running server",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "show a check's debounced status",
				ArgsUsage: "<check-id>",
				Flags:     remoteFlags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, r, err := a.remote(cmd)
					if err != nil {
						return err
					}
					st, err := c.CheckStatus(ctx, cmd.Args().First())
					if err != nil {
						return err
					}
					return r.Check(st)
				},
			},
			{
				Name:      "service",
				Usage:     "show a service roll-up, or every service without an id",
				ArgsUsage: "[service-id]",
				Flags:     remoteFlags,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					c, r, err := a.remote(cmd)
					if err != nil {
						return err
					}
					if id := cmd.Args().First(); id != "" {
						st, err := c.ServiceStatus(ctx, id)
						if err != nil {
							return err
						}
						return r.Service(st)
					}
					services, err := c.ListServices(ctx)
					if err != nil {
						return err
					}
					return r.Services(services)
				},
			},
		},
	}
}

// runCommand triggers an immediate evaluation on a running server.
func (a *App) runCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "evaluate a check now on a running server",
		ArgsUsage: "<check-id>",
		Flags:     remoteFlags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id := cmd.Args().First()
			if id == "" {
				return fmt.Errorf("check id is required")
			}
			c, r, err := a.remote(cmd)
			if err != nil {
				return err
			}
			res, err := c.RunCheck(ctx, id)
			if err != nil {
				return err
			}
			return r.Result(res)
		},
	}
}

func (a *App) remote(cmd *cli.Command) (*client.Client, *render.Renderer, error) {
	url := cmd.String("server")
	if url == "" {
		addr := a.Config.Server.Address
		if strings.HasPrefix(addr, ":") {
			addr = "localhost" + addr
		}
		url = "http://" + addr
	}
	c, err := client.New(client.Options{URL: url, Timeout: a.Config.Engine.StoreTimeout * 2})
	if err != nil {
		return nil, nil, err
	}
	r, err := render.New(os.Stdout, render.Options{
		Format: cmd.String("output"),
		Color:  !cmd.Bool("no-color") && isTerminal(),
	})
	if err != nil {
		return nil, nil, err
	}
	return c, r, nil
}

// isTerminal returns true if stdout is a terminal
func isTerminal() bool {
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
