package feed

import "context"

// Source is a streaming message feed. Implementations own their reconnect
// policy: a connection loss is retried with backoff, never surfaced as a
// process-terminating error.
type Source interface {
	// Run delivers raw messages to handler until the context is canceled
	Run(ctx context.Context, handler func(context.Context, []byte) error) error
	Close() error
}
