package models

import (
	"fmt"
	"strings"
)

// The stage failures below are structured (kind plus context) so a batch
// caller can decide per group whether to retry, skip, or abort, instead of
// parsing free text. Fatal kinds abort the affected group only; recoverable
// kinds degrade the group and annotate its provenance.

// InsufficientInputError is returned when fewer than three orientations are
// present for a group and no explicit grid override was given. Fatal to the
// group.
type InsufficientInputError struct {
	Have    int
	Missing []Orientation
}

func (e *InsufficientInputError) Error() string {
	tags := make([]string, len(e.Missing))
	for i, o := range e.Missing {
		tags[i] = string(o)
	}
	return fmt.Sprintf("insufficient input: have %d orientation(s), missing [%s]",
		e.Have, strings.Join(tags, " "))
}

// DegenerateGeometryError reports a malformed physical-space header:
// a non-orthonormal direction matrix or non-positive spacing. Fatal to the
// group; there is no safe fallback.
type DegenerateGeometryError struct {
	Orientation Orientation
	Reason      string
}

func (e *DegenerateGeometryError) Error() string {
	return fmt.Sprintf("degenerate geometry in %s acquisition: %s", e.Orientation, e.Reason)
}

// GuidanceShapeMismatchError reports an externally supplied guidance field
// whose lattice does not match the high-resolution grid. Fatal to the group.
type GuidanceShapeMismatchError struct {
	Want [3]int
	Got  [3]int
}

func (e *GuidanceShapeMismatchError) Error() string {
	return fmt.Sprintf("guidance field shape %v does not match high-res grid %v", e.Got, e.Want)
}

// AlignmentFailure reports that rigid registration of one orientation did
// not converge. Recoverable: the stage falls back to the identity transform
// and the run continues with a provenance warning.
type AlignmentFailure struct {
	Orientation Orientation
	Reason      string
}

func (e *AlignmentFailure) Error() string {
	return fmt.Sprintf("rigid alignment of %s acquisition failed: %s", e.Orientation, e.Reason)
}

// NonConvergence reports that the solver hit its iteration cap before the
// relative change fell below tolerance. Recoverable: the best available
// estimate is still returned, annotated as non-converged.
type NonConvergence struct {
	Iterations int
	Change     float64
	Tolerance  float64
}

func (e *NonConvergence) Error() string {
	return fmt.Sprintf("solver stopped after %d iterations with relative change %.3g (tolerance %.3g)",
		e.Iterations, e.Change, e.Tolerance)
}
