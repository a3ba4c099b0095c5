// Package drift detects when a metrics check has diverged from the dashboard panel it
// was created from, and decides whether the difference can be applied automatically.
package drift

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/internal/template"
	"github.com/mr-karan/checkchef/pkg/models"
)

// ErrUnresolvable marks drift that cannot be reconciled automatically. The check is
// deactivated and its owner notified.
var ErrUnresolvable = errors.New("drift cannot be reconciled")

// Kind names one class of detected drift.
type Kind string

const (
	KindSourceChanged Kind = "source_changed"
	KindSeriesChanged Kind = "series_changed"
	KindQueryChanged  Kind = "query_changed"
)

// Action is what the caller should do with a check after detection.
type Action string

const (
	ActionNone       Action = "none"
	ActionApply      Action = "apply"
	ActionNeedsHuman Action = "needs_human"
	ActionDeactivate Action = "deactivate"
)

// FieldChange is one differing leaf of the stored and upstream definitions.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Report is the outcome of comparing one check against its upstream panel.
type Report struct {
	CheckID    string                    `json:"check_id"`
	CheckName  string                    `json:"check_name"`
	Kinds      []Kind                    `json:"kinds,omitempty"`
	Changes    []FieldChange             `json:"changes,omitempty"`
	Action     Action                    `json:"action"`
	Reason     string                    `json:"reason,omitempty"`
	NewSource  string                    `json:"new_source,omitempty"`
	NewQueries []map[string]any          `json:"new_queries,omitempty"`
	Variables  []string                  `json:"variables,omitempty"`
	NewSeries  []models.SeriesDefinition `json:"-"`
}

// Has reports whether the report carries drift of kind k.
func (r Report) Has(k Kind) bool {
	return slices.Contains(r.Kinds, k)
}

// Drifted reports whether any drift was found.
func (r Report) Drifted() bool {
	return len(r.Kinds) > 0 || r.Action == ActionDeactivate
}

// Apply writes the auto-applicable parts of the report into def. It is a no-op unless
// the action is ActionApply.
func (r Report) Apply(def *models.CheckDefinition) {
	if r.Action != ActionApply || def.Metrics == nil {
		return
	}
	if r.NewSource != "" {
		def.Metrics.Source = r.NewSource
	}
	if r.NewQueries != nil {
		def.Metrics.Queries = r.NewQueries
		def.Metrics.Series = r.NewSeries
	}
}

// Text renders the report as the body of a change notification.
func (r Report) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Check %q (%s) has drifted from its dashboard panel.\n", r.CheckName, r.CheckID)
	if r.Reason != "" {
		fmt.Fprintf(&b, "%s\n", r.Reason)
	}
	switch r.Action {
	case ActionApply:
		b.WriteString("The upstream change was applied to the check.\n")
	case ActionNeedsHuman:
		b.WriteString("The check was left unchanged and needs to be updated by hand.\n")
	case ActionDeactivate:
		b.WriteString("The check was deactivated.\n")
	}
	if len(r.Changes) > 0 {
		b.WriteString("\nChanges:\n")
		for _, c := range r.Changes {
			fmt.Fprintf(&b, "  %s: %s -> %s\n", c.Field, render(c.Old), render(c.New))
		}
	}
	if r.Has(KindQueryChanged) && len(r.Variables) > 0 {
		fmt.Fprintf(&b, "\nThe new queries use dashboard variables: $%s\n", strings.Join(r.Variables, ", $"))
	}
	return b.String()
}

func render(v any) string {
	if v == nil {
		return "(none)"
	}
	switch t := v.(type) {
	case string:
		return strconv.Quote(t)
	case []string:
		return "[" + strings.Join(t, ", ") + "]"
	default:
		return fmt.Sprint(t)
	}
}

// SourceResolver tells whether a data-source name is bound to a known metrics store.
type SourceResolver interface {
	HasSource(name string) bool
}

// Options controls query rebuilding during detection.
type Options struct {
	DefaultInterval string
}

// ShouldRefetch reports whether a dashboard last modified at lastModified is recent
// enough to be fetched and compared again.
func ShouldRefetch(lastModified, now time.Time, window time.Duration) bool {
	if lastModified.IsZero() || window <= 0 {
		return true
	}
	return now.Sub(lastModified) <= window
}

// Detect compares a stored metrics check against its upstream panel. A nil panel means
// the dashboard or panel no longer exists. ErrUnresolvable is returned along with a
// deactivate report; build failures of the upstream series are returned with a
// needs_human report.
func Detect(check models.CheckDefinition, panel *models.PanelDefinition, sources SourceResolver, opts Options) (Report, error) {
	report := Report{CheckID: check.ID, CheckName: check.Name, Action: ActionNone}

	spec := check.Metrics
	if spec == nil || spec.Upstream == nil {
		return report, fmt.Errorf("check %s is not linked to a dashboard panel", check.ID)
	}
	link := spec.Upstream

	if panel == nil {
		report.Action = ActionDeactivate
		report.Reason = fmt.Sprintf("Panel %d on dashboard %s no longer exists.", link.PanelID, link.DashboardUID)
		return report, fmt.Errorf("%w: panel %d on dashboard %s is gone", ErrUnresolvable, link.PanelID, link.DashboardUID)
	}

	if panel.Datasource != "" && panel.Datasource != spec.Source {
		report.Kinds = append(report.Kinds, KindSourceChanged)
		report.Changes = append(report.Changes, FieldChange{Field: "source", Old: spec.Source, New: panel.Datasource})
		if sources == nil || !sources.HasSource(panel.Datasource) {
			report.Action = ActionDeactivate
			report.Reason = fmt.Sprintf("Data source %q is not bound to any known metrics store.", panel.Datasource)
			return report, fmt.Errorf("%w: unknown data source %q", ErrUnresolvable, panel.Datasource)
		}
		report.NewSource = panel.Datasource
		report.Action = ActionApply
	}

	selected := panel.SelectedSeries()
	if !sameSet(selected, link.SeriesIDs) {
		report.Kinds = append(report.Kinds, KindSeriesChanged)
		report.Changes = append(report.Changes, FieldChange{Field: "series_ids", Old: link.SeriesIDs, New: selected})
		report.Action = ActionNeedsHuman
		report.Reason = "The selected panel series changed."
		report.NewSource = ""
		return report, nil
	}

	minTime := query.MinTimeFor(spec.TimeRangeMinutes)
	templating := panel.Templating
	if templating == nil {
		templating = spec.Templating
	}

	rebuilt := make([]map[string]any, 0, len(link.SeriesIDs))
	series := make([]models.SeriesDefinition, 0, len(link.SeriesIDs))
	for _, id := range link.SeriesIDs {
		target, _ := panel.Target(id)
		body, err := query.Build(target, query.Options{
			MinTime:         minTime,
			DefaultInterval: opts.DefaultInterval,
			Templating:      templating,
		})
		if err == nil {
			body, err = query.Normalize(body)
		}
		if err != nil {
			report.Action = ActionNeedsHuman
			report.Reason = fmt.Sprintf("Series %s can no longer be turned into a query.", id)
			report.NewSource = ""
			return report, fmt.Errorf("rebuilding series %s: %w", id, err)
		}
		rebuilt = append(rebuilt, body)
		series = append(series, target)
	}

	stored := make([]any, 0, len(spec.Queries))
	for _, q := range spec.Queries {
		b, err := query.Normalize(query.Rebound(q, query.TimeField(q), minTime))
		if err != nil {
			return report, err
		}
		stored = append(stored, map[string]any(b))
	}
	fresh := make([]any, 0, len(rebuilt))
	for _, q := range rebuilt {
		fresh = append(fresh, q)
	}

	if changes := Diff("queries", stored, fresh); len(changes) > 0 {
		report.Kinds = append(report.Kinds, KindQueryChanged)
		report.Changes = append(report.Changes, changes...)
		report.NewQueries = rebuilt
		report.NewSeries = series
		report.Variables = referencedVariables(series)
		report.Action = ActionApply
	}
	return report, nil
}

func referencedVariables(series []models.SeriesDefinition) []string {
	var names []string
	for _, s := range series {
		for _, name := range template.ExtractVariableNames(s.Query) {
			if !slices.Contains(names, name) {
				names = append(names, name)
			}
		}
	}
	return names
}

// Diff flattens both documents to dotted paths under root and returns every path whose
// value differs, sorted by path.
func Diff(root string, old, updated any) []FieldChange {
	before := map[string]any{}
	after := map[string]any{}
	flattenInto(before, root, old)
	flattenInto(after, root, updated)

	paths := make([]string, 0, len(before)+len(after))
	for p := range before {
		paths = append(paths, p)
	}
	for p := range after {
		if _, ok := before[p]; !ok {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	var changes []FieldChange
	for _, p := range paths {
		o, n := before[p], after[p]
		if !reflect.DeepEqual(o, n) {
			changes = append(changes, FieldChange{Field: p, Old: o, New: n})
		}
	}
	return changes
}

type pathValue struct {
	path  string
	value any
}

func flattenInto(out map[string]any, root string, v any) {
	stack := []pathValue{{root, v}}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch t := cur.value.(type) {
		case map[string]any:
			if len(t) == 0 {
				out[cur.path] = t
				continue
			}
			for k, child := range t {
				stack = append(stack, pathValue{joinPath(cur.path, k), child})
			}
		case query.Body:
			stack = append(stack, pathValue{cur.path, map[string]any(t)})
		case []any:
			if len(t) == 0 {
				out[cur.path] = t
				continue
			}
			for i, child := range t {
				stack = append(stack, pathValue{fmt.Sprintf("%s[%d]", cur.path, i), child})
			}
		default:
			out[cur.path] = t
		}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x := slices.Clone(a)
	y := slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}
