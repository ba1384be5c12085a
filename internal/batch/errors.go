package batch

import (
	"fmt"
	"strings"
)

// ValidationError rejects a source before it enters the item list. The
// message names the violated constraint so the shell can surface it
// verbatim.
type ValidationError struct {
	Name   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

var acceptedExtensions = []string{".heic", ".heif"}

// ValidateSource checks the intake constraints: accepted extension and
// the size ceiling. maxBytes <= 0 disables the size check.
func ValidateSource(name string, size int64, maxBytes int64) error {
	lower := strings.ToLower(name)
	ok := false
	for _, ext := range acceptedExtensions {
		if strings.HasSuffix(lower, ext) {
			ok = true
			break
		}
	}
	if !ok {
		return &ValidationError{Name: name, Reason: "unsupported extension (expected .heic or .heif)"}
	}
	if maxBytes > 0 && size > maxBytes {
		return &ValidationError{Name: name, Reason: fmt.Sprintf("file exceeds the %d MB size limit", maxBytes/(1024*1024))}
	}
	return nil
}

// Summary reports the outcome of one batch run. Item failures surface
// here only as counts and notices; per-item detail stays introspectable
// through Snapshot.
type Summary struct {
	Total   int
	Done    int
	Failed  int
	Rasters int
	Docs    int
	Outputs []string
	Notices []string
}

// ProgressUpdate is one progress event for the shell. Deltas accumulate
// into aggregate counters; Item/State/Percent describe the transition
// that produced the event.
type ProgressUpdate struct {
	Item    string
	State   State
	Percent int

	TotalDelta  int
	DoneDelta   int
	FailedDelta int
	OutputDelta int
}
