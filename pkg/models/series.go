package models

// SeriesPoint is a single sample of a flattened series. Timestamps are unix seconds.
// Absent or NaN values are dropped before a point is ever constructed.
type SeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// TimeSeries is a named, time-ascending sequence of points. The name is the dot-joined
// path of bucket keys followed by the metric name.
type TimeSeries struct {
	Name   string        `json:"name"`
	Points []SeriesPoint `json:"points"`
}

// Clone returns a deep copy of the series.
func (s TimeSeries) Clone() TimeSeries {
	points := make([]SeriesPoint, len(s.Points))
	copy(points, s.Points)
	return TimeSeries{Name: s.Name, Points: points}
}

// NoDataSeriesName is the synthetic series emitted when a query matched no buckets.
const NoDataSeriesName = "no_data_fill_0"
