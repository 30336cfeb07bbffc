// Package cache implements the layered blob cache shared by the query core:
// LLM responses, final answers, schema snapshots, follow-up suggestions,
// session history and job results all live behind the same Store contract.
//
// Reads are best-effort. A backend failure degrades to an all-miss,
// all-discard mode rather than surfacing an error to the pipeline.
package cache

import (
	"context"
	"time"
)

// Namespace partitions cache keys. Keys from different namespaces never
// collide even when the key text is identical.
type Namespace string

const (
	// NSLMResponse caches raw LLM completions keyed on the full prompt.
	NSLMResponse Namespace = "lm_response"
	// NSAnswer caches complete answer payloads keyed on the normalized
	// question and the session history digest.
	NSAnswer Namespace = "answer"
	// NSSchema caches rendered DDL snapshots keyed on the table name.
	NSSchema Namespace = "schema"
	// NSSuggestion caches follow-up suggestions keyed on the question and
	// the answer digest.
	NSSuggestion Namespace = "suggestion"
	// NSSession holds per-session conversation state. Keys are session IDs.
	NSSession Namespace = "session"
	// NSResult holds job result records. Keys are job IDs.
	NSResult Namespace = "result"
)

// Store is the cache contract. Implementations must be safe for concurrent
// use. Get returns (nil, false, nil) on a miss; backend failures are reported
// through the error return but callers are expected to treat them as misses.
type Store interface {
	Get(ctx context.Context, ns Namespace, key string) ([]byte, bool, error)
	Put(ctx context.Context, ns Namespace, key string, value []byte, ttl time.Duration) error
	Invalidate(ctx context.Context, ns Namespace, key string) error
}
