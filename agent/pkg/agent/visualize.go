package agent

import (
	"context"
)

// VizKind is a chart type recommendation.
type VizKind string

const (
	VizBar           VizKind = "bar"
	VizHorizontalBar VizKind = "horizontal_bar"
	VizLine          VizKind = "line"
	VizPie           VizKind = "pie"
	VizScatter       VizKind = "scatter"
	VizTable         VizKind = "table"
	VizNone          VizKind = "none"
)

var validVizKinds = map[VizKind]bool{
	VizBar: true, VizHorizontalBar: true, VizLine: true, VizPie: true,
	VizScatter: true, VizTable: true, VizNone: true,
}

// Visualization is a chart recommendation with the model's reasoning.
type Visualization struct {
	Kind   VizKind `json:"kind"`
	Reason string  `json:"reason"`
}

// RecommendVisualization asks the model for a chart type. One call, no cache;
// any failure degrades to none rather than erroring.
func (a *Agent) RecommendVisualization(ctx context.Context, question, sql string, sample Table) Visualization {
	var viz Visualization
	err := a.lm.CompleteJSON(ctx, visualizeSystem, visualizePrompt(question, sql, sample, a.cfg.SampleRows), a.cfg.SummaryTemperature, &viz)
	if err != nil || !validVizKinds[viz.Kind] {
		if err != nil {
			a.log.Debug("agent: visualization call failed, degrading to none", "error", err)
		}
		return Visualization{Kind: VizNone, Reason: "no recommendation available"}
	}
	return viz
}
