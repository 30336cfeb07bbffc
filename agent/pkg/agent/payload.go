package agent

// Table is an ordered tabular result: column names plus rows of scalars or
// nulls. Every row has exactly len(Columns) cells.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Payload is the complete product of one successful pipeline run.
type Payload struct {
	SQL               string   `json:"sql"`
	Summary           string   `json:"summary"`
	Table             Table    `json:"table"`
	Suggestions       []string `json:"suggestions"`
	CorrectionApplied bool     `json:"correction_applied"`
}

// MaxSuggestions caps the follow-up list.
const MaxSuggestions = 5
