package models

import "fmt"

// Provenance records how a reconstruction was produced and whether any stage
// degraded. It travels with the output volume so a degraded-but-completed
// group is clearly marked instead of silently looking like a clean run.
type Provenance struct {
	// Group labels the reconstruction group (subject/session token).
	Group string

	// AlignmentFallbacks lists orientations whose registration fell back to
	// the identity transform.
	AlignmentFallbacks []Orientation

	// Converged reports whether the solver met its tolerance within the
	// iteration cap.
	Converged bool

	// Iterations is the number of solver iterations actually run.
	Iterations int

	// FinalChange is the last relative-change value observed by the solver.
	FinalChange float64

	// Warnings holds human-readable annotations for recoverable failures.
	Warnings []string
}

// Degraded reports whether the output should be treated as degraded:
// the run completed, but alignment fell back or the solver hit its cap.
func (p *Provenance) Degraded() bool {
	return len(p.AlignmentFallbacks) > 0 || !p.Converged
}

// Warn appends a provenance warning.
func (p *Provenance) Warn(format string, args ...interface{}) {
	p.Warnings = append(p.Warnings, fmt.Sprintf(format, args...))
}
