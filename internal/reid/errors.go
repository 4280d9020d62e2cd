package reid

import (
	"errors"
	"fmt"
)

// Error taxonomy. All failure kinds are explicit values at the package
// surface; nothing is recovered silently inside scoring.
var (
	// ErrConfigInvalid marks out-of-range or mutually inconsistent
	// configuration, fatal at startup before any work begins.
	ErrConfigInvalid = errors.New("reid: invalid configuration")

	// ErrSinkFailure marks an output write that kept failing after
	// bounded retries. Inputs are left untouched.
	ErrSinkFailure = errors.New("reid: sink write failed")

	// ErrCancelled marks a clean cancellation; no output was written.
	ErrCancelled = errors.New("reid: run cancelled")
)

// DataModelError is fatal to the batch: the inputs violate the data model
// (missing pin, asymmetric adjacency, non-finite score, branching link
// graph). It carries enough context to locate the offending record.
type DataModelError struct {
	MallID     string
	TrackletID string
	PinID      string
	Detail     string
}

func (e *DataModelError) Error() string {
	msg := "reid: data model violation"
	if e.MallID != "" {
		msg += " mall=" + e.MallID
	}
	if e.TrackletID != "" {
		msg += " tracklet=" + e.TrackletID
	}
	if e.PinID != "" {
		msg += " pin=" + e.PinID
	}
	return msg + ": " + e.Detail
}

// IsDataModelError reports whether err is (or wraps) a DataModelError.
func IsDataModelError(err error) bool {
	var dm *DataModelError
	return errors.As(err, &dm)
}

func dataModelErrorf(mallID, trackletID, pinID, format string, args ...any) error {
	return &DataModelError{
		MallID:     mallID,
		TrackletID: trackletID,
		PinID:      pinID,
		Detail:     fmt.Sprintf(format, args...),
	}
}
