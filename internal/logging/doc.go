// Package logging provides structured logging for brlink.
//
// This package wraps a package-global zap logger with convenience functions
// for common logging patterns, plus helpers for logging frames as they cross
// a link.
//
// # Log Levels
//
// The package supports standard log levels:
//   - Debug: Detailed debugging info (payload hex dumps, discarded bytes)
//   - Info: Normal operations (frames, connections, startup)
//   - Warn: Non-fatal issues (checksum failures, dropped clients)
//   - Error: Fatal issues (port failures, startup errors)
//
// # Frame Logging
//
//	logging.LogFrame("received", portName, msg.View())
//	logging.LogChecksumFailure(portName, cerr)
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// With an empty level the BRLINK_LOG_LEVEL environment variable is used.
// When neither is set the logger is a no-op, so CLI output stays clean.
// Logs go to stderr so decoded output on stdout can be piped.
package logging
