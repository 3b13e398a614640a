package domain

import (
	"fmt"
)

// Pattern is a detected muling pattern. The set is closed: ring patterns
// describe a FraudRing, the smurfing patterns are per-account flags.
type Pattern uint8

const (
	PatternUnknown Pattern = iota
	PatternCycle3
	PatternCycle4
	PatternCycle5
	PatternShellChain
	PatternFanIn
	PatternFanOut

	patternCount
)

var patternNames = [patternCount]string{
	PatternUnknown:    "unknown",
	PatternCycle3:     "cycle_length_3",
	PatternCycle4:     "cycle_length_4",
	PatternCycle5:     "cycle_length_5",
	PatternShellChain: "shell_network_chain",
	PatternFanIn:      "smurfing_fan_in",
	PatternFanOut:     "smurfing_fan_out",
}

// CyclePattern returns the ring pattern for a cycle with n members.
func CyclePattern(n int) (Pattern, bool) {
	switch n {
	case 3:
		return PatternCycle3, true
	case 4:
		return PatternCycle4, true
	case 5:
		return PatternCycle5, true
	default:
		return PatternUnknown, false
	}
}

// ParsePattern converts a wire tag back to a Pattern.
func ParsePattern(s string) (Pattern, error) {
	for p := PatternCycle3; p < patternCount; p++ {
		if patternNames[p] == s {
			return p, nil
		}
	}
	return PatternUnknown, fmt.Errorf("unknown pattern %q", s)
}

func (p Pattern) String() string {
	if p >= patternCount {
		return patternNames[PatternUnknown]
	}
	return patternNames[p]
}

// IsRing reports whether the pattern is a fraud-ring pattern type.
func (p Pattern) IsRing() bool {
	switch p {
	case PatternCycle3, PatternCycle4, PatternCycle5, PatternShellChain:
		return true
	default:
		return false
	}
}

// IsShell reports whether the pattern is the shell-chain ring type.
func (p Pattern) IsShell() bool {
	return p == PatternShellChain
}

// MarshalText implements encoding.TextMarshaler.
func (p Pattern) MarshalText() ([]byte, error) {
	if p == PatternUnknown || p >= patternCount {
		return nil, fmt.Errorf("cannot marshal pattern %d", uint8(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Pattern) UnmarshalText(text []byte) error {
	parsed, err := ParsePattern(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// PatternSet is a small bitset of per-account patterns.
type PatternSet uint16

// Add returns the set with p included.
func (s PatternSet) Add(p Pattern) PatternSet {
	return s | 1<<p
}

// Has reports whether p is in the set.
func (s PatternSet) Has(p Pattern) bool {
	return s&(1<<p) != 0
}

// Patterns returns the members of the set in enum order.
func (s PatternSet) Patterns() []Pattern {
	var out []Pattern
	for p := PatternCycle3; p < patternCount; p++ {
		if s.Has(p) {
			out = append(out, p)
		}
	}
	return out
}
