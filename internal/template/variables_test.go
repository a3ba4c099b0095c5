package template

import (
	"reflect"
	"testing"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want map[string]string
	}{
		{
			name: "plain string",
			raw:  map[string]any{"env": "prod"},
			want: map[string]string{"env": "prod"},
		},
		{
			name: "all sentinel",
			raw:  map[string]any{"host": "$__all"},
			want: map[string]string{"host": "*"},
		},
		{
			name: "list value",
			raw:  map[string]any{"host": []any{"web-1", "web-2"}},
			want: map[string]string{"host": "(web-1 OR web-2)"},
		},
		{
			name: "single element list",
			raw:  map[string]any{"host": []string{"web-1"}},
			want: map[string]string{"host": "web-1"},
		},
		{
			name: "list containing all",
			raw:  map[string]any{"host": []any{"web-1", "$__all"}},
			want: map[string]string{"host": "*"},
		},
		{
			name: "number and dollar-prefixed name",
			raw:  map[string]any{"$limit": float64(10)},
			want: map[string]string{"limit": "10"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	vars := map[string]string{
		"host":     "web-1",
		"hostname": "web-1.example.com",
		"env":      "(prod OR staging)",
		"query":    "env:$env",
	}

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no tokens", "status:500", "status:500"},
		{"simple", "host:$host", "host:web-1"},
		{"longest name wins", "fqdn:$hostname host:$host", "fqdn:web-1.example.com host:web-1"},
		{"list group", "env:$env", "env:(prod OR staging)"},
		{"unknown left as is", "dc:$dc", "dc:$dc"},
		{"auto interval", "$__auto_interval", "auto"},
		{"defined prefix of a longer token", "$hosts", "web-1s"},
		{"substituted text is not rescanned", "q:$query", "q:env:$env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Apply(tt.in, vars); got != tt.want {
				t.Errorf("Apply(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestApplyAnyDoesNotMutate(t *testing.T) {
	in := map[string]any{
		"field": "$field",
		"nested": map[string]any{
			"list": []any{"$field", 5},
		},
	}
	out := ApplyAny(in, map[string]string{"field": "latency"}).(map[string]any)

	if out["field"] != "latency" {
		t.Errorf("field = %v, want latency", out["field"])
	}
	list := out["nested"].(map[string]any)["list"].([]any)
	if list[0] != "latency" || list[1] != 5 {
		t.Errorf("nested list = %v", list)
	}
	if in["field"] != "$field" {
		t.Errorf("input was mutated: %v", in["field"])
	}
}

func TestExtractVariableNames(t *testing.T) {
	got := ExtractVariableNames("host:$host AND env:$env OR host:$host")
	want := []string{"host", "env"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ExtractVariableNames() = %v, want %v", got, want)
	}
}
