// Package logging provides structured logging using uber/zap.
//
// Production loggers write JSON; development loggers write colored console
// output at debug level. Both write to stderr so the CLI can print results
// on stdout.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Fetch complete", zap.String("url", u), zap.Int("chunks", n))
//	logger.Warn("Cache write failed", zap.Error(err))
package logging
