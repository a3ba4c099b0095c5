package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/pkg/models"
)

// queryCommand groups the offline query builder and validator.
func (a *App) queryCommand() *cli.Command {
	return &cli.Command{
		Name:  "query",
		Usage: "build and validate search bodies",
		Commands: []*cli.Command{
			{
				Name:      "build",
				Usage:     "build a search body from a panel series definition",
				ArgsUsage: "<series.yaml>",
				Description: `Reads one series definition (YAML or JSON) and prints the search body
the engine would send.

Examples:
   checkchef query build series.yaml --range 30
   checkchef query build series.yaml --var host=web-1 --var env=prod`,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "range",
						Usage: "time range in minutes",
						Value: 60,
					},
					&cli.StringFlag{
						Name:  "interval",
						Usage: "interval for auto date histograms (defaults to the engine's)",
					},
					&cli.StringSliceFlag{
						Name:  "var",
						Usage: "template variable as name=value (repeatable)",
					},
				},
				Action: a.runQueryBuild,
			},
			{
				Name:      "validate",
				Usage:     "validate a stored search body",
				ArgsUsage: "<query.json>",
				Action:    a.runQueryValidate,
			},
		},
	}
}

func (a *App) runQueryBuild(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("series file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read series file: %w", err)
	}
	var series models.SeriesDefinition
	if err := yaml.Unmarshal(data, &series); err != nil {
		return fmt.Errorf("failed to parse series file: %w", err)
	}

	vars, err := parseVars(cmd.StringSlice("var"))
	if err != nil {
		return err
	}
	interval := cmd.String("interval")
	if interval == "" {
		interval = a.Config.Engine.DefaultInterval
	}

	body, err := query.Build(series, query.Options{
		MinTime:         query.MinTimeFor(int(cmd.Int("range"))),
		DefaultInterval: interval,
		Templating:      vars,
	})
	if err != nil {
		return err
	}
	if err := query.Validate(body); err != nil {
		return err
	}
	return printJSON(body)
}

func (a *App) runQueryValidate(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return fmt.Errorf("query file is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read query file: %w", err)
	}
	var body query.Body
	if err := json.Unmarshal(data, &body); err != nil {
		return fmt.Errorf("failed to parse query file: %w", err)
	}
	if err := query.Validate(body); err != nil {
		fmt.Println(errorStyle.Render("✗ " + err.Error()))
		return cli.Exit("", 1)
	}
	fmt.Println(successStyle.Render("✓ valid"), mutedStyle.Render("time field: "+query.TimeField(body)))
	return nil
}

func parseVars(raw []string) (map[string]any, error) {
	vars := make(map[string]any, len(raw))
	for _, kv := range raw {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid variable %q, expected name=value", kv)
		}
		if prev, exists := vars[name]; exists {
			switch p := prev.(type) {
			case []any:
				vars[name] = append(p, value)
			default:
				vars[name] = []any{p, value}
			}
			continue
		}
		vars[name] = value
	}
	return vars, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
