package models

import "time"

// PanelDefinition is the upstream dashboard panel a metrics check was created from, as
// fetched from the dashboard API.
type PanelDefinition struct {
	DashboardUID string             `json:"dashboard_uid"`
	DashboardURL string             `json:"dashboard_url,omitempty"`
	PanelID      int                `json:"panel_id"`
	Title        string             `json:"title"`
	Datasource   string             `json:"datasource"`
	Targets      []SeriesDefinition `json:"targets"`
	Templating   map[string]any     `json:"templating,omitempty"`
	Updated      time.Time          `json:"updated"`
}

// SelectedSeries returns the reference ids of the panel's visible targets.
func (p PanelDefinition) SelectedSeries() []string {
	ids := make([]string, 0, len(p.Targets))
	for _, t := range p.Targets {
		if !t.Hide {
			ids = append(ids, t.RefID)
		}
	}
	return ids
}

// Target returns the target with the given reference id.
func (p PanelDefinition) Target(refID string) (SeriesDefinition, bool) {
	for _, t := range p.Targets {
		if t.RefID == refID {
			return t, true
		}
	}
	return SeriesDefinition{}, false
}
