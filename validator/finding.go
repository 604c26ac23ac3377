package validator

import (
	"fmt"
	"strings"
)

// Severity grades how alarming a finding is.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarn
	SeverityCritical
)

// String returns the lowercase token used in reports and policies.
func (s Severity) String() string {
	switch s {
	case SeverityWarn:
		return "warn"
	case SeverityCritical:
		return "critical"
	default:
		return "info"
	}
}

// MarshalJSON encodes the severity as its string token.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON decodes a severity token.
func (s *Severity) UnmarshalJSON(data []byte) error {
	parsed, err := ParseSeverity(strings.Trim(string(data), `"`))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity converts a token to a Severity.
func ParseSeverity(token string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarn, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return SeverityInfo, fmt.Errorf("unknown severity %q", token)
	}
}

// Kind identifies the class of anomaly a finding reports.
type Kind string

const (
	KindMalformedStructure    Kind = "malformed-structure"
	KindOversized             Kind = "oversized"
	KindNestedArchiveDepth    Kind = "nested-archive-depth-exceeded"
	KindHighEntropyRegion     Kind = "high-entropy-region"
	KindTrailingData          Kind = "trailing-data"
	KindResourceLimit         Kind = "resource-limit-exceeded"
	KindInconclusive          Kind = "validator-inconclusive"
	KindExtensionMismatch     Kind = "extension-mismatch"
	KindActiveContent         Kind = "active-content"
	KindEmbeddedFiles         Kind = "embedded-files"
	KindPathTraversal         Kind = "path-traversal"
	KindSymlinkEntry          Kind = "symlink-entry"
	KindExcessiveEntries      Kind = "excessive-entries"
	KindExcessiveObjects      Kind = "excessive-objects"
	KindExcessiveFrames       Kind = "excessive-frames"
	KindSuspiciousFilterChain Kind = "suspicious-filter-chain"
	KindDimensionMismatch     Kind = "dimension-mismatch"
)

// kindSeverities maps each kind to its conventional severity. Validators
// may escalate with WithSeverity when context warrants it.
var kindSeverities = map[Kind]Severity{
	KindMalformedStructure:    SeverityCritical,
	KindOversized:             SeverityWarn,
	KindNestedArchiveDepth:    SeverityCritical,
	KindHighEntropyRegion:     SeverityWarn,
	KindTrailingData:          SeverityWarn,
	KindResourceLimit:         SeverityWarn,
	KindInconclusive:          SeverityInfo,
	KindExtensionMismatch:     SeverityWarn,
	KindActiveContent:         SeverityCritical,
	KindEmbeddedFiles:         SeverityWarn,
	KindPathTraversal:         SeverityCritical,
	KindSymlinkEntry:          SeverityCritical,
	KindExcessiveEntries:      SeverityWarn,
	KindExcessiveObjects:      SeverityWarn,
	KindExcessiveFrames:       SeverityWarn,
	KindSuspiciousFilterChain: SeverityWarn,
	KindDimensionMismatch:     SeverityWarn,
}

// KnownKind reports whether token names a finding kind this package emits.
func KnownKind(token string) bool {
	_, ok := kindSeverities[Kind(token)]
	return ok
}

// DefaultSeverity returns the conventional severity for the kind.
func (k Kind) DefaultSeverity() Severity {
	if s, ok := kindSeverities[k]; ok {
		return s
	}
	return SeverityInfo
}

// Finding is one observed anomaly. Findings are data, not errors: a file
// accumulates zero or more of them and always proceeds to a decision.
type Finding struct {
	Kind     Kind     `json:"kind"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail,omitempty"`
}

// Newf builds a finding with the conventional severity for kind.
func Newf(kind Kind, format string, args ...any) Finding {
	return Finding{
		Kind:     kind,
		Severity: kind.DefaultSeverity(),
		Detail:   fmt.Sprintf(format, args...),
	}
}

// WithSeverity returns a copy of the finding at the given severity.
func (f Finding) WithSeverity(s Severity) Finding {
	f.Severity = s
	return f
}

// HighestSeverity returns the maximum severity among findings, and false
// when there are none.
func HighestSeverity(findings []Finding) (Severity, bool) {
	if len(findings) == 0 {
		return SeverityInfo, false
	}
	max := SeverityInfo
	for _, f := range findings {
		if f.Severity > max {
			max = f.Severity
		}
	}
	return max, true
}
