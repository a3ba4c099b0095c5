package query

import (
	"sort"
)

// Validate checks an already-built query against the shape the flattener relies on:
// every nested aggregation is named "agg", the date_histogram is the innermost bucket,
// metric types are supported and each metric is named after its type. It is run on
// freshly built queries as well as on definitions read back from storage.
func Validate(b Body) error {
	if b == nil {
		return validationErr("query is empty")
	}
	aggs, ok := asMap(b["aggs"])
	if !ok || len(aggs) == 0 {
		return validationErr("query has no aggregations")
	}

	node, err := namedChild(aggs, "top level")
	if err != nil {
		return err
	}

	for depth := 1; ; depth++ {
		bucketType, err := bucketTypeOf(node, depth)
		if err != nil {
			return err
		}
		children, _ := asMap(node["aggs"])

		if bucketType == BucketDateHistogram {
			if _, nested := children[NestedAggName]; nested {
				return validationErr("%s must be the innermost bucket aggregation (found a nested bucket at depth %d)", BucketDateHistogram, depth+1)
			}
			return validateMetrics(children)
		}

		if len(children) == 0 {
			return validationErr("no %s aggregation found below %s at depth %d", BucketDateHistogram, bucketType, depth)
		}
		node, err = namedChild(children, bucketType)
		if err != nil {
			return err
		}
	}
}

// namedChild returns the single "agg" entry of an aggregation map.
func namedChild(aggs map[string]any, parent string) (map[string]any, error) {
	for _, name := range sortedKeys(aggs) {
		if name != NestedAggName {
			return nil, validationErr("aggregation under %s is named %q, expected %q", parent, name, NestedAggName)
		}
	}
	child, ok := asMap(aggs[NestedAggName])
	if !ok {
		return nil, validationErr("aggregation %q under %s is not an object", NestedAggName, parent)
	}
	return child, nil
}

func bucketTypeOf(node map[string]any, depth int) (string, error) {
	var found string
	for _, key := range sortedKeys(node) {
		if key == "aggs" {
			continue
		}
		if _, ok := supportedBuckets[key]; !ok {
			return "", validationErr("unsupported bucket aggregation %q at depth %d", key, depth)
		}
		if found != "" {
			return "", validationErr("more than one bucket aggregation at depth %d", depth)
		}
		found = key
	}
	if found == "" {
		return "", validationErr("no bucket aggregation at depth %d", depth)
	}
	return found, nil
}

func validateMetrics(metrics map[string]any) error {
	for _, name := range sortedKeys(metrics) {
		body, ok := asMap(metrics[name])
		if !ok {
			return validationErr("metric aggregation %q is not an object", name)
		}
		if len(body) != 1 {
			return validationErr("metric aggregation %q must contain exactly one type", name)
		}
		for metricType := range body {
			if !IsSupportedMetric(metricType) {
				return validationErr("metric aggregation type %q is not supported", metricType)
			}
			if metricType != name {
				return validationErr("metric aggregation %q must be named after its type %q", name, metricType)
			}
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Rebound rewrites the lower time bound of a query in place of whatever the stored copy
// carried: the range filter on timeField and every date_histogram extended_bounds.min.
// The input is not modified.
func Rebound(b Body, timeField, minTime string) Body {
	out := Clone(b)
	if out == nil {
		return nil
	}

	if q, ok := asMap(out["query"]); ok {
		if boolQ, ok := asMap(q["bool"]); ok {
			if must, ok := boolQ["must"].([]any); ok {
				for _, clause := range must {
					c, ok := asMap(clause)
					if !ok {
						continue
					}
					rng, ok := asMap(c["range"])
					if !ok {
						continue
					}
					if field, ok := asMap(rng[timeField]); ok {
						field["gte"] = minTime
					}
				}
			}
		}
	}

	stack := []map[string]any{}
	if aggs, ok := asMap(out["aggs"]); ok {
		stack = append(stack, aggs)
	}
	for len(stack) > 0 {
		aggs := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		node, ok := asMap(aggs[NestedAggName])
		if !ok {
			continue
		}
		if hist, ok := asMap(node[BucketDateHistogram]); ok {
			if bounds, ok := asMap(hist["extended_bounds"]); ok {
				bounds["min"] = minTime
			}
		}
		if children, ok := asMap(node["aggs"]); ok {
			stack = append(stack, children)
		}
	}
	return out
}

// TimeField returns the field the query's range filter applies to, or "" if the query
// carries none.
func TimeField(b Body) string {
	q, ok := asMap(b["query"])
	if !ok {
		return ""
	}
	boolQ, ok := asMap(q["bool"])
	if !ok {
		return ""
	}
	must, _ := boolQ["must"].([]any)
	for _, clause := range must {
		c, ok := asMap(clause)
		if !ok {
			continue
		}
		if rng, ok := asMap(c["range"]); ok {
			for field := range rng {
				return field
			}
		}
	}
	return ""
}
