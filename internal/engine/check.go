package engine

import (
	"context"
	"fmt"

	"github.com/mr-karan/checkchef/pkg/models"
)

// Check is one evaluable check. The set of implementations is closed: MetricsCheck and
// BuildCheck.
type Check interface {
	Definition() models.CheckDefinition
	evaluate(ctx context.Context, e *Engine) outcome
}

// outcome is what a check variant reports back to Evaluate.
type outcome struct {
	succeeded bool
	severity  models.Severity
	message   string
	rawData   []byte
}

func failed(err error) outcome {
	return outcome{severity: models.SeverityError, message: err.Error()}
}

// MetricsCheck runs aggregation queries against a metrics store and judges the result
// against thresholds.
type MetricsCheck struct {
	def models.CheckDefinition
}

// Definition implements Check.
func (c MetricsCheck) Definition() models.CheckDefinition { return c.def }

// BuildCheck fails when a CI job has failed more often in a row than allowed.
type BuildCheck struct {
	def models.CheckDefinition
}

// Definition implements Check.
func (c BuildCheck) Definition() models.CheckDefinition { return c.def }

// FromDefinition returns the check variant for a stored definition.
func FromDefinition(def models.CheckDefinition) (Check, error) {
	switch def.Kind {
	case models.CheckKindMetrics:
		if def.Metrics == nil {
			return nil, fmt.Errorf("check %s: metrics check without metrics spec", def.ID)
		}
		return MetricsCheck{def: def}, nil
	case models.CheckKindBuild:
		if def.Build == nil {
			return nil, fmt.Errorf("check %s: build check without build spec", def.ID)
		}
		return BuildCheck{def: def}, nil
	default:
		return nil, fmt.Errorf("check %s: unknown kind %q", def.ID, def.Kind)
	}
}
