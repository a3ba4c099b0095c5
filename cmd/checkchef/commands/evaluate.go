package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/mr-karan/checkchef/internal/backends"
	"github.com/mr-karan/checkchef/internal/backends/elastic"
	"github.com/mr-karan/checkchef/internal/builds"
	"github.com/mr-karan/checkchef/internal/definitions"
	"github.com/mr-karan/checkchef/internal/engine"
	"github.com/mr-karan/checkchef/pkg/logger"
	"github.com/mr-karan/checkchef/pkg/models"
)

// definitionsCommand validates a checks and services file without touching the database.
func (a *App) definitionsCommand() *cli.Command {
	return &cli.Command{
		Name:  "definitions",
		Usage: "work with check and service definition files",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "parse and validate a definitions file",
				ArgsUsage: "[definitions.yaml]",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					set, err := a.loadDefinitions(cmd.Args().First())
					if err != nil {
						fmt.Println(errorStyle.Render("✗ " + err.Error()))
						return cli.Exit("", 1)
					}
					fmt.Printf("%s %d checks, %d services\n", successStyle.Render("✓ valid:"), len(set.Checks), len(set.Services))
					for _, c := range set.Checks {
						state := successStyle.Render("active")
						if !c.Active {
							state = mutedStyle.Render("inactive")
						}
						fmt.Printf("  %-24s %-8s %s\n", c.ID, c.Kind, state)
					}
					return nil
				},
			},
		},
	}
}

// evaluateCommand runs checks from a definitions file once and prints their outcome.
func (a *App) evaluateCommand() *cli.Command {
	return &cli.Command{
		Name:      "evaluate",
		Usage:     "evaluate checks once against the configured stores",
		ArgsUsage: "[check-id...]",
		Description: `Evaluates checks from the definitions file and prints each result. Nothing
is written to the database. With no ids, every active check is evaluated.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "definitions",
				Aliases: []string{"d"},
				Usage:   "definitions file (defaults to the configured path)",
			},
		},
		Action: a.runEvaluate,
	}
}

func (a *App) loadDefinitions(path string) (*definitions.Set, error) {
	if path == "" {
		path = a.Config.Definitions.Path
	}
	if path == "" {
		return nil, fmt.Errorf("no definitions file given or configured")
	}
	return definitions.Load(path, definitions.AcceptOptions{DefaultInterval: a.Config.Engine.DefaultInterval})
}

func (a *App) runEvaluate(ctx context.Context, cmd *cli.Command) error {
	set, err := a.loadDefinitions(cmd.String("definitions"))
	if err != nil {
		return err
	}

	log := logger.New(a.Config.Logging.Level, a.Config.Logging.Format)
	registry := backends.NewRegistry(elastic.NewFactory(log), log)
	defer registry.Close()
	for _, src := range a.Config.Sources {
		if err := registry.AddSource(src); err != nil {
			return err
		}
	}

	opts := engine.Options{
		Sources:          registry,
		Logger:           log,
		StoreTimeout:     a.Config.Engine.StoreTimeout,
		IncompleteWindow: a.Config.Engine.IncompleteWindow,
		DefaultInterval:  a.Config.Engine.DefaultInterval,
	}
	if a.Config.Builds.URL != "" {
		client, err := builds.NewClient(builds.ClientOptions{
			URL:      a.Config.Builds.URL,
			Username: a.Config.Builds.Username,
			Token:    a.Config.Builds.Token,
			Timeout:  a.Config.Builds.Timeout,
		}, log)
		if err != nil {
			return err
		}
		opts.Builds = client
	}
	eng := engine.New(opts)

	wanted := make(map[string]bool)
	for _, id := range cmd.Args().Slice() {
		wanted[id] = true
	}

	failed := 0
	for _, def := range set.Checks {
		if len(wanted) > 0 && !wanted[def.ID] {
			continue
		}
		if len(wanted) == 0 && !def.Active {
			continue
		}
		delete(wanted, def.ID)

		check, err := engine.FromDefinition(def)
		if err != nil {
			return err
		}
		res := eng.Evaluate(ctx, check)
		if !res.Succeeded {
			failed++
		}
		fmt.Println(renderResult(def, res))
	}

	if len(wanted) > 0 {
		missing := make([]string, 0, len(wanted))
		for id := range wanted {
			missing = append(missing, id)
		}
		return fmt.Errorf("unknown checks: %s", strings.Join(missing, ", "))
	}
	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d checks failing", failed), 2)
	}
	return nil
}

func renderResult(def models.CheckDefinition, res models.CheckResult) string {
	took := mutedStyle.Render(res.Duration().String())
	if res.Succeeded {
		return fmt.Sprintf("%s %s %s", successStyle.Render("PASS"), def.ID, took)
	}
	label := errorStyle.Render(res.Severity.String())
	if res.Severity == models.SeverityWarning {
		label = warningStyle.Render(res.Severity.String())
	}
	return fmt.Sprintf("%s %s %s\n     %s", label, def.ID, took, res.Error)
}
