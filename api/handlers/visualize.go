package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/landmarklabs/sqlchat/agent/pkg/agent"
)

// VisualizeRequest asks for a chart recommendation on a finished result.
type VisualizeRequest struct {
	Question   string   `json:"question"`
	SQL        string   `json:"sql"`
	Columns    []string `json:"columns"`
	SampleRows [][]any  `json:"sample_rows"`
}

// Visualize recommends a chart type for a result sample. The endpoint always
// answers 200; an unavailable model degrades to kind "none".
func (s *Server) Visualize(w http.ResponseWriter, r *http.Request) {
	var req VisualizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, agent.Errf(agent.KindInvalidInput, "malformed request body"))
		return
	}
	if len(req.Columns) == 0 {
		writeJSON(w, http.StatusOK, agent.Visualization{Kind: agent.VizNone, Reason: "no columns provided"})
		return
	}

	viz := s.Visualizer.RecommendVisualization(r.Context(), req.Question, req.SQL, agent.Table{
		Columns: req.Columns,
		Rows:    req.SampleRows,
	})
	writeJSON(w, http.StatusOK, viz)
}
