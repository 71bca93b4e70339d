package swrcache

import (
	"context"

	"github.com/rs/zerolog"
)

// ILogger is an interface for logging fetch failures and cache hit/miss ratio.
// Implementations must not block.
type ILogger interface {
	LogFetchError(ctx context.Context, name, key string, err error)
	LogCacheHitRatio(ctx context.Context, name string, hit bool)
}

// ZerologLogger writes cache events to a zerolog logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates an ILogger backed by log.
func NewZerologLogger(log zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: log}
}

// LogFetchError logs a failed remote fetch.
func (z *ZerologLogger) LogFetchError(_ context.Context, name, key string, err error) {
	z.log.Error().Err(err).Str("cache", name).Str("key", key).Msg("Fetch failed")
}

// LogCacheHitRatio logs a single lookup outcome at trace level.
func (z *ZerologLogger) LogCacheHitRatio(_ context.Context, name string, hit bool) {
	z.log.Trace().Str("cache", name).Bool("hit", hit).Msg("Cache lookup")
}
