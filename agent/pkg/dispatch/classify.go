package dispatch

import (
	"context"
	"log/slog"
	"strings"

	"github.com/landmarklabs/sqlchat/agent/pkg/llm"
)

// Pool names. Pools differ only in their time limits and worker counts.
const (
	PoolSimple   = "simple"
	PoolStandard = "standard"
	PoolComplex  = "complex"
)

// Classifier routes a question to a worker pool at submit time.
type Classifier interface {
	Route(ctx context.Context, question string) string
}

// StaticClassifier routes everything to one pool. The stock deployment routes
// all-to-standard.
type StaticClassifier string

func (s StaticClassifier) Route(context.Context, string) string { return string(s) }

const classifySystem = `You estimate the complexity of an analytics question.
Reply with exactly one word: simple, standard or complex.
simple = single-table lookup or count. complex = multi-table joins, trends,
cohort or window analysis. Everything else is standard.`

// LMClassifier asks the model for a complexity estimate, falling back to a
// local heuristic when the model is unavailable or answers off-script. The
// call runs at temperature 0, so repeats of a question hit the response cache.
type LMClassifier struct {
	lm  llm.Client
	log *slog.Logger
}

// NewLMClassifier creates an LMClassifier.
func NewLMClassifier(lm llm.Client, log *slog.Logger) *LMClassifier {
	if log == nil {
		log = slog.Default()
	}
	return &LMClassifier{lm: lm, log: log}
}

func (c *LMClassifier) Route(ctx context.Context, question string) string {
	text, err := c.lm.Complete(ctx, classifySystem, question, 0)
	if err != nil {
		c.log.Debug("classify: model unavailable, using heuristic", "error", err)
		return HeuristicRoute(question)
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case PoolSimple:
		return PoolSimple
	case PoolComplex:
		return PoolComplex
	case PoolStandard:
		return PoolStandard
	default:
		return HeuristicRoute(question)
	}
}

var complexMarkers = []string{"join", "trend", "over time", "cohort", "correlat", "compare", "versus", " vs ", "breakdown", "percentile"}

// HeuristicRoute is the local fallback: short count/lookup questions are
// simple, questions with analytical markers are complex, the rest standard.
func HeuristicRoute(question string) string {
	q := strings.ToLower(question)
	for _, m := range complexMarkers {
		if strings.Contains(q, m) {
			return PoolComplex
		}
	}
	words := len(strings.Fields(q))
	if words <= 6 && (strings.Contains(q, "how many") || strings.Contains(q, "count") || strings.Contains(q, "total")) {
		return PoolSimple
	}
	return PoolStandard
}
