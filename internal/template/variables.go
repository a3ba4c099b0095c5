// Package template resolves dashboard template variables and substitutes them into
// panel series definitions.
package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// AllValue is the dashboard's "select all" sentinel. It resolves to a wildcard.
	AllValue = "$__all"
	// AutoIntervalToken is replaced with "auto"; the query builder then picks an interval.
	AutoIntervalToken = "$__auto_interval"
	// Wildcard is what AllValue resolves to.
	Wildcard = "*"
)

// variablePattern matches $name references.
var variablePattern = regexp.MustCompile(`\$([a-zA-Z_][a-zA-Z0-9_]*)`)

// Resolve converts raw template values (string, number, list) into the literal text each
// $name token is replaced with. Lists become an OR-joined parenthesized group.
func Resolve(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for name, value := range raw {
		name = strings.TrimPrefix(strings.TrimSpace(name), "$")
		if name == "" {
			continue
		}
		out[name] = resolveValue(value)
	}
	return out
}

func resolveValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		if v == AllValue {
			return Wildcard
		}
		return v
	case []string:
		return joinValues(v)
	case []any:
		items := make([]string, 0, len(v))
		for _, item := range v {
			items = append(items, resolveValue(item))
		}
		return joinValues(items)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func joinValues(items []string) string {
	for _, item := range items {
		if item == AllValue || item == Wildcard {
			return Wildcard
		}
	}
	if len(items) == 1 {
		return items[0]
	}
	return "(" + strings.Join(items, " OR ") + ")"
}

// Apply replaces every $name token with its resolved value in a single pass, so values
// are never substituted into again. The longest defined name wins: $hostname resolves
// before $host. Unknown tokens are left untouched.
func Apply(s string, vars map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	auto := strings.TrimPrefix(AutoIntervalToken, "$")

	return variablePattern.ReplaceAllStringFunc(s, func(token string) string {
		name := token[1:]
		for i := len(name); i > 0; i-- {
			if name[:i] == auto {
				return "auto" + name[i:]
			}
			if v, ok := vars[name[:i]]; ok {
				return v + name[i:]
			}
		}
		return token
	})
}

// ApplyAny walks maps and slices and substitutes into every string it finds, returning a
// new value. The input is never mutated.
func ApplyAny(value any, vars map[string]string) any {
	switch v := value.(type) {
	case string:
		return Apply(v, vars)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = ApplyAny(item, vars)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = ApplyAny(item, vars)
		}
		return out
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = Apply(item, vars)
		}
		return out
	default:
		return value
	}
}

// ExtractVariableNames returns all unique variable names referenced in s.
func ExtractVariableNames(s string) []string {
	matches := variablePattern.FindAllStringSubmatch(s, -1)
	seen := make(map[string]bool)
	names := make([]string, 0, len(matches))

	for _, m := range matches {
		if len(m) == 2 && !seen[m[1]] {
			names = append(names, m[1])
			seen[m[1]] = true
		}
	}
	return names
}
