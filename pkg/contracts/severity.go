// Package contracts holds the shared wire types of the dissonance oracle:
// findings, rule definitions, analysis inputs, persisted calibration records,
// and the error taxonomy. Everything here is plain data; engines live in
// their own packages.
package contracts

// Severity is a point on the decision lattice.
type Severity string

// Decision lattice, ordered pass < warn < high < block.
const (
	SeverityPass  Severity = "pass"
	SeverityWarn  Severity = "warn"
	SeverityHigh  Severity = "high"
	SeverityBlock Severity = "block"
)

var severityRank = map[Severity]int{
	SeverityPass:  0,
	SeverityWarn:  1,
	SeverityHigh:  2,
	SeverityBlock: 3,
}

// Rank returns the lattice position of s; unknown severities rank below pass
// so they can never drive a decision.
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the four lattice points.
func (s Severity) Valid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast reports whether s ranks at or above other.
func (s Severity) AtLeast(other Severity) bool {
	return s.Rank() >= other.Rank()
}

// MaxSeverity returns the greater of a and b on the lattice.
func MaxSeverity(a, b Severity) Severity {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
