package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// NormalizeQuestion canonicalizes user text for cache keying: lowercase with
// all whitespace runs collapsed to single spaces. Two questions that differ
// only in casing or spacing share an answer cache entry.
func NormalizeQuestion(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// fingerprint hashes the namespace together with a canonical JSON rendering
// of the inputs that uniquely determine the cached output. Struct field order
// is fixed at compile time, so two writers with the same inputs always derive
// the same key.
func fingerprint(ns Namespace, inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		// Key inputs are plain strings and numbers; Marshal cannot fail for
		// the types used below. Fall back to the raw representation anyway.
		data = fmt.Appendf(nil, "%v", inputs)
	}
	h := sha256.New()
	h.Write([]byte(ns))
	h.Write([]byte{0})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// LMResponseKey derives the cache key for a raw LLM completion.
func LMResponseKey(systemPrompt, userPrompt string, temperature float32, model string) string {
	return fingerprint(NSLMResponse, struct {
		System      string  `json:"system"`
		User        string  `json:"user"`
		Temperature float32 `json:"temperature"`
		Model       string  `json:"model"`
	}{systemPrompt, userPrompt, temperature, model})
}

// AnswerKey derives the cache key for a complete answer payload. The history
// digest binds the entry to the conversation context it was produced in.
func AnswerKey(question, historyDigest string) string {
	return fingerprint(NSAnswer, struct {
		Question string `json:"question"`
		History  string `json:"history"`
	}{NormalizeQuestion(question), historyDigest})
}

// SchemaKey is the cache key for a table's DDL snapshot.
func SchemaKey(table string) string { return table }

// SchemaTablesKey is the cache key for the ordered table list.
const SchemaTablesKey = "_tables"

// SuggestionKey derives the cache key for follow-up suggestions.
func SuggestionKey(question, answerDigest string) string {
	return fingerprint(NSSuggestion, struct {
		Question string `json:"question"`
		Answer   string `json:"answer"`
	}{NormalizeQuestion(question), answerDigest})
}

// Digest returns the hex SHA-256 of arbitrary text. Used for history and
// answer digests that feed back into key derivation.
func Digest(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
