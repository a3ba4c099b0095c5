// Package definitions loads checks and services from a YAML file, validates them and
// seeds them into the store.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/pkg/models"
)

// ErrInvalidDefinition indicates a check or service failed validation.
var ErrInvalidDefinition = errors.New("invalid definition")

// DefaultFrequencySeconds applies to checks that do not set a frequency.
const DefaultFrequencySeconds = 60

var validate = validator.New()

type checkEntry struct {
	models.CheckDefinition `yaml:",inline"`
	Active                 *bool `yaml:"active"`
}

type file struct {
	Checks   []checkEntry               `yaml:"checks"`
	Services []models.ServiceDefinition `yaml:"services"`
}

// Set is a validated collection of definitions.
type Set struct {
	Checks   []models.CheckDefinition
	Services []models.ServiceDefinition
}

// AcceptOptions controls how missing queries are built at acceptance.
type AcceptOptions struct {
	DefaultInterval string
}

// Load reads and validates the definitions file at path.
func Load(path string, opts AcceptOptions) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions: %w", err)
	}
	return Parse(data, opts)
}

// Parse validates YAML definitions. Checks default to active.
func Parse(data []byte, opts AcceptOptions) (*Set, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse definitions: %w", err)
	}

	set := &Set{}
	checkIDs := make(map[string]struct{}, len(f.Checks))
	for _, entry := range f.Checks {
		def := entry.CheckDefinition
		def.Active = entry.Active == nil || *entry.Active
		if err := Accept(&def, opts); err != nil {
			return nil, err
		}
		if _, dup := checkIDs[def.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate check id %q", ErrInvalidDefinition, def.ID)
		}
		checkIDs[def.ID] = struct{}{}
		set.Checks = append(set.Checks, def)
	}

	serviceIDs := make(map[string]struct{}, len(f.Services))
	for _, svc := range f.Services {
		if err := validate.Struct(svc); err != nil {
			return nil, fmt.Errorf("%w: service %q: %v", ErrInvalidDefinition, svc.ID, err)
		}
		if _, dup := serviceIDs[svc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate service id %q", ErrInvalidDefinition, svc.ID)
		}
		serviceIDs[svc.ID] = struct{}{}
		for _, id := range svc.CheckIDs {
			if _, ok := checkIDs[id]; !ok {
				return nil, fmt.Errorf("%w: service %q references unknown check %q", ErrInvalidDefinition, svc.ID, id)
			}
		}
		set.Services = append(set.Services, svc)
	}
	return set, nil
}

// Accept validates a check definition and fills in defaults. Metrics checks without
// stored queries get them built from their series; stored queries are validated and
// normalized. Query errors wrap query.ErrValidation.
func Accept(def *models.CheckDefinition, opts AcceptOptions) error {
	def.ID = strings.TrimSpace(def.ID)
	if err := validate.Struct(def); err != nil {
		return fmt.Errorf("%w: check %q: %v", ErrInvalidDefinition, def.ID, err)
	}
	if def.FrequencySeconds == 0 {
		def.FrequencySeconds = DefaultFrequencySeconds
	}

	switch def.Kind {
	case models.CheckKindBuild:
		if def.Metrics != nil {
			return fmt.Errorf("%w: check %q: build checks carry no metrics block", ErrInvalidDefinition, def.ID)
		}
		if def.Build.Severity == 0 {
			def.Build.Severity = models.SeverityError
		}
		return nil
	case models.CheckKindMetrics:
		if def.Build != nil {
			return fmt.Errorf("%w: check %q: metrics checks carry no build block", ErrInvalidDefinition, def.ID)
		}
	}

	spec := def.Metrics
	if spec.Threshold.HighAlertSeverity != 0 && !spec.Threshold.HighAlertSeverity.Valid() {
		return fmt.Errorf("%w: check %q: invalid high alert severity", ErrInvalidDefinition, def.ID)
	}
	if spec.Upstream != nil {
		for _, id := range spec.Upstream.SeriesIDs {
			if !hasSeries(spec.Series, id) && len(spec.Queries) == 0 {
				return fmt.Errorf("%w: check %q: upstream series %q has no definition", ErrInvalidDefinition, def.ID, id)
			}
		}
	}

	if len(spec.Queries) == 0 {
		if len(spec.Series) == 0 {
			return fmt.Errorf("%w: check %q: either series or queries are required", ErrInvalidDefinition, def.ID)
		}
		queries, err := BuildQueries(*spec, opts.DefaultInterval)
		if err != nil {
			return fmt.Errorf("check %q: %w", def.ID, err)
		}
		spec.Queries = queries
		return nil
	}

	for i, q := range spec.Queries {
		normalized, err := query.Normalize(q)
		if err != nil {
			return fmt.Errorf("check %q: query %d: %w", def.ID, i, err)
		}
		if err := query.Validate(normalized); err != nil {
			return fmt.Errorf("check %q: query %d: %w", def.ID, i, err)
		}
		spec.Queries[i] = normalized
	}
	return nil
}

// BuildQueries builds one normalized query per series of spec, in order.
func BuildQueries(spec models.MetricsCheckSpec, defaultInterval string) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(spec.Series))
	for _, s := range spec.Series {
		body, err := query.Build(s, query.Options{
			MinTime:         query.MinTimeFor(spec.TimeRangeMinutes),
			DefaultInterval: defaultInterval,
			Templating:      spec.Templating,
		})
		if err != nil {
			return nil, fmt.Errorf("series %s: %w", s.RefID, err)
		}
		normalized, err := query.Normalize(body)
		if err != nil {
			return nil, err
		}
		out = append(out, normalized)
	}
	return out, nil
}

func hasSeries(series []models.SeriesDefinition, refID string) bool {
	for _, s := range series {
		if s.RefID == refID {
			return true
		}
	}
	return false
}

// Store is the slice of the store seeding writes to.
type Store interface {
	CreateCheckIfMissing(ctx context.Context, def models.CheckDefinition) (bool, error)
	CreateServiceIfMissing(ctx context.Context, def models.ServiceDefinition) (bool, error)
}

// SeedResult counts the rows a seed run created.
type SeedResult struct {
	ChecksCreated   int
	ChecksSkipped   int
	ServicesCreated int
	ServicesSkipped int
}

// Seed writes every definition that does not exist yet. Existing rows, including
// drift-applied changes, are left untouched.
func Seed(ctx context.Context, store Store, set *Set, log *slog.Logger) (SeedResult, error) {
	var res SeedResult
	for _, def := range set.Checks {
		created, err := store.CreateCheckIfMissing(ctx, def)
		if err != nil {
			return res, fmt.Errorf("seeding check %s: %w", def.ID, err)
		}
		if created {
			res.ChecksCreated++
			log.Debug("seeded check", "check_id", def.ID, "kind", def.Kind)
		} else {
			res.ChecksSkipped++
		}
	}
	for _, svc := range set.Services {
		created, err := store.CreateServiceIfMissing(ctx, svc)
		if err != nil {
			return res, fmt.Errorf("seeding service %s: %w", svc.ID, err)
		}
		if created {
			res.ServicesCreated++
		} else {
			res.ServicesSkipped++
		}
	}
	log.Info("definitions seeded",
		"checks_created", res.ChecksCreated, "checks_skipped", res.ChecksSkipped,
		"services_created", res.ServicesCreated, "services_skipped", res.ServicesSkipped)
	return res, nil
}
