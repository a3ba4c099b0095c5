package elastic

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/mr-karan/checkchef/internal/backends"
)

type multiSearchResponse struct {
	Responses []searchResponse `json:"responses"`
}

type searchResponse struct {
	Took         int64          `json:"took"`
	TimedOut     bool           `json:"timed_out"`
	Status       int            `json:"status"`
	Hits         hits           `json:"hits"`
	Aggregations map[string]any `json:"aggregations"`
	Error        *searchError   `json:"error"`
}

type hits struct {
	Total json.RawMessage `json:"total"`
}

// count handles both the legacy numeric total and the {"value": n} form.
func (h hits) count() int64 {
	if len(h.Total) == 0 {
		return 0
	}
	var n int64
	if err := json.Unmarshal(h.Total, &n); err == nil {
		return n
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(h.Total, &obj); err == nil {
		return obj.Value
	}
	return 0
}

type searchError struct {
	Type   string       `json:"type"`
	Reason string       `json:"reason"`
	Caused *searchError `json:"caused_by"`
}

func (e *searchError) String() string {
	msg := e.Type
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Caused != nil && e.Caused.Reason != "" {
		msg += " (caused by " + e.Caused.Reason + ")"
	}
	return msg
}

func parseMultiSearch(r io.Reader, expected int) ([]*backends.Response, error) {
	var msr multiSearchResponse
	if err := json.NewDecoder(r).Decode(&msr); err != nil {
		return nil, fmt.Errorf("%w: parsing multi-search response: %v", backends.ErrStore, err)
	}
	if len(msr.Responses) != expected {
		return nil, fmt.Errorf("%w: expected %d responses, got %d", backends.ErrStore, expected, len(msr.Responses))
	}

	out := make([]*backends.Response, len(msr.Responses))
	for i, sr := range msr.Responses {
		if sr.Error != nil {
			return nil, fmt.Errorf("%w: query %d failed: %s", backends.ErrStore, i, sr.Error)
		}
		if sr.Status != 0 && (sr.Status < 200 || sr.Status >= 300) {
			return nil, fmt.Errorf("%w: query %d returned status %d", backends.ErrStore, i, sr.Status)
		}
		out[i] = &backends.Response{
			Aggregations: sr.Aggregations,
			TookMillis:   sr.Took,
			TimedOut:     sr.TimedOut,
			Hits:         sr.Hits.count(),
		}
	}
	return out, nil
}
