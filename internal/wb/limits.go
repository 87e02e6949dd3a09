package wb

// Limits holds the size and retention ceilings enforced by the engine.
// They are configuration, not compile-time constants, so limit-boundary
// behavior is testable.
type Limits struct {
	// MaxFiles caps the number of manifest entries per workbench. File-add
	// batches that would exceed it fail atomically.
	MaxFiles int

	// MaxFileSize is the per-file size ceiling in bytes. Oversized files are
	// skipped individually; the rest of the batch proceeds.
	MaxFileSize int64

	// Checkpoint retention caps, bucketed by reason.
	MaxManualCheckpoints int
	MaxAutoCheckpoints   int
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxFiles:             10,
		MaxFileSize:          25 * 1024 * 1024,
		MaxManualCheckpoints: 50,
		MaxAutoCheckpoints:   200,
	}
}
