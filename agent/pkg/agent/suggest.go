package agent

import (
	"context"
	"encoding/json"

	"github.com/landmarklabs/sqlchat/agent/pkg/cache"
)

// Suggest produces up to MaxSuggestions follow-up questions for an answered
// question. Failures degrade to an empty list; suggestions are decoration,
// never a reason to fail a job. Results are cached on (question, answer).
func (a *Agent) Suggest(ctx context.Context, question, summary string) []string {
	key := cache.SuggestionKey(question, cache.Digest(summary))
	if raw, ok, _ := a.store.Get(ctx, cache.NSSuggestion, key); ok {
		var cached []string
		if err := json.Unmarshal(raw, &cached); err == nil {
			return cached
		}
	}

	completion, err := a.lm.Complete(ctx, suggestionSystem, suggestionPrompt(question, summary), a.cfg.SuggestionTemperature)
	if err != nil {
		a.log.Debug("agent: suggestion call failed, returning none", "error", err)
		return nil
	}
	suggestions := ParseSuggestions(completion)

	if raw, err := json.Marshal(suggestions); err == nil {
		_ = a.store.Put(ctx, cache.NSSuggestion, key, raw, a.cfg.SuggestionCacheTTL)
	}
	return suggestions
}
