/*
Package log provides structured logging for HyperBox using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all HyperBox packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (chunk boundaries, gear hash values)
  - Info: General informational messages (container created, checkpoint taken)
  - Warn: Potential issues (security layer unavailable, falling back)
  - Error: Operation failed (runtime execution error, CRIU dump failed)
  - Fatal: Critical errors causing process exit

Context Loggers:
  - WithComponent: tag logs with a subsystem name ("dedup", "criu", "memory")
  - WithContainerID: tag logs with the container they concern
  - WithLayer: tag logs with the security layer being applied
  - WithCheckpointID: tag logs with the checkpoint they concern
  - WithProject: tag logs with the project/compose file they concern

# Usage

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	log.Info("hyperbox starting")

	dedupLog := log.WithComponent("dedup")
	dedupLog.Info().Int("chunks", 128).Msg("layer chunked")

	secLog := log.WithLayer("seccomp")
	secLog.Warn().Msg("seccomp ABI below minimum, skipping layer")

# Integration Points

This package integrates with:

  - pkg/security: logs per-layer application and audit results
  - pkg/criu: logs checkpoint/restore lifecycle
  - pkg/memory: logs balloon adjustments and idle detection
  - pkg/nydus: logs RAFS conversion and cache GC
  - pkg/project: logs orchestration and rollback

# Design Patterns

Global Logger Pattern: a single package-level instance initialized once at
startup and accessible from all packages without passing a logger down
every call chain.

Context Logger Pattern: create child loggers carrying fixed fields so
callers don't repeat them on every log line.

# Security

Never log secrets or profile encryption keys. Neither this package nor
pkg/security redacts log fields.

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log
