package guardfile

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"github.com/guardfile/guardfile/validator"
)

// Outcome is a policy decision severity. Ordered: a worse outcome always
// wins a conflict.
type Outcome int

const (
	OutcomeAllow Outcome = iota
	OutcomeWarn
	OutcomeDeny
)

var outcomeNames = map[Outcome]string{
	OutcomeAllow: "allow",
	OutcomeWarn:  "warn",
	OutcomeDeny:  "deny",
}

// String returns the lowercase outcome token.
func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// MarshalJSON encodes the outcome as its token.
func (o Outcome) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.String())
}

// UnmarshalJSON decodes an outcome token.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseOutcome(s)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOutcome resolves an outcome token.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return OutcomeAllow, nil
	case "warn":
		return OutcomeWarn, nil
	case "deny":
		return OutcomeDeny, nil
	}
	return OutcomeAllow, fmt.Errorf("unknown outcome %q", s)
}

// FailOn is the minimum decision severity that turns an otherwise
// successful run into a non-zero exit.
type FailOn int

const (
	FailOnNone FailOn = iota
	FailOnDeny
	FailOnWarn
)

var failOnNames = map[FailOn]string{
	FailOnNone: "none",
	FailOnDeny: "deny",
	FailOnWarn: "warn",
}

// String returns the lowercase fail-on token.
func (f FailOn) String() string {
	if name, ok := failOnNames[f]; ok {
		return name
	}
	return fmt.Sprintf("fail-on(%d)", int(f))
}

// ParseFailOn resolves a fail-on token.
func ParseFailOn(s string) (FailOn, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none":
		return FailOnNone, nil
	case "deny":
		return FailOnDeny, nil
	case "warn":
		return FailOnWarn, nil
	}
	return FailOnNone, fmt.Errorf("unknown fail-on threshold %q", s)
}

// builtinRulePrefix is reserved for rules the engine synthesizes itself;
// loaded policies must not claim it.
const builtinRulePrefix = "default/"

// ruleMaxSize is the synthesized rule enforcing Defaults.MaxSizeMB.
const ruleMaxSize = builtinRulePrefix + "max-size"

// Match is the predicate half of a rule. Within a field, listed values OR
// together; across fields, constraints AND together. A zero field places no
// constraint.
type Match struct {
	// MediaTypes are glob patterns matched against the sniffed type.
	MediaTypes []string

	// FindingKinds name finding kinds; the rule matches when the file
	// carries at least one finding of a listed kind.
	FindingKinds []string

	// MinSeverity restricts the finding constraint to findings at or above
	// this severity.
	MinSeverity *validator.Severity

	// MinSizeBytes and MaxSizeBytes bound the file size, inclusive.
	MinSizeBytes *int64
	MaxSizeBytes *int64

	// Digests are exact hex digests.
	Digests []string

	globs []glob.Glob
}

// compile prepares the media type patterns for evaluation.
func (m *Match) compile() error {
	m.globs = nil
	for _, pattern := range m.MediaTypes {
		g, err := glob.Compile(strings.ToLower(pattern))
		if err != nil {
			return fmt.Errorf("media type pattern %q: %w", pattern, err)
		}
		m.globs = append(m.globs, g)
	}
	return nil
}

// empty reports whether the match carries no predicate at all.
func (m *Match) empty() bool {
	return len(m.MediaTypes) == 0 &&
		len(m.FindingKinds) == 0 &&
		m.MinSeverity == nil &&
		m.MinSizeBytes == nil &&
		m.MaxSizeBytes == nil &&
		len(m.Digests) == 0
}

// matches evaluates the predicate against a file. Pure: no I/O, no
// mutation.
func (m *Match) matches(f *FileFacts) bool {
	if len(m.globs) > 0 {
		mediaType := strings.ToLower(f.MediaType)
		hit := false
		for _, g := range m.globs {
			if g.Match(mediaType) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if m.MinSizeBytes != nil && f.SizeBytes < *m.MinSizeBytes {
		return false
	}
	if m.MaxSizeBytes != nil && f.SizeBytes > *m.MaxSizeBytes {
		return false
	}

	if len(m.Digests) > 0 {
		hit := false
		for _, d := range m.Digests {
			if strings.EqualFold(d, f.Digest) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}

	if len(m.FindingKinds) > 0 || m.MinSeverity != nil {
		if !m.matchesFindings(f.Findings) {
			return false
		}
	}

	return true
}

// matchesFindings looks for one finding satisfying both the kind and the
// severity constraint.
func (m *Match) matchesFindings(findings []validator.Finding) bool {
	for _, f := range findings {
		if m.MinSeverity != nil && f.Severity < *m.MinSeverity {
			continue
		}
		if len(m.FindingKinds) == 0 {
			return true
		}
		for _, kind := range m.FindingKinds {
			if string(f.Kind) == kind {
				return true
			}
		}
	}
	return false
}

// Rule binds a predicate to an outcome under a unique identifier.
type Rule struct {
	ID          string
	Description string
	Outcome     Outcome
	Match       Match
}

// Defaults are the policy-wide fallbacks: the size ceiling enforced by the
// synthesized default/max-size rule, the decision applied when no rule
// matches, and the exit threshold.
type Defaults struct {
	MaxSizeMB int64
	Decision  Outcome
	FailOn    FailOn
}

// Policy is an immutable effective rule set. Build one with ParsePolicy,
// LoadPolicy or DefaultPolicy; Decide never mutates it.
type Policy struct {
	Version  int
	Defaults Defaults
	Limits   validator.Limits
	Rules    map[string]Rule
}

// compile prepares every rule predicate. Called once at construction.
func (p *Policy) compile() error {
	for id, rule := range p.Rules {
		if err := rule.Match.compile(); err != nil {
			return &PolicyError{Rule: id, Field: "match.media_types", Err: err}
		}
		p.Rules[id] = rule
	}
	return nil
}

// FileFacts are the attributes a rule predicate may observe.
type FileFacts struct {
	Name      string
	MediaType string
	SizeBytes int64
	Digest    string
	Findings  []validator.Finding
}

// Decision is the policy verdict for one file: the outcome, the rule that
// determined it, and every rule that matched.
type Decision struct {
	Outcome   Outcome  `json:"outcome"`
	RuleID    string   `json:"rule_id,omitempty"`
	Triggered []string `json:"triggered,omitempty"`
}

// Decide evaluates every rule against the file and resolves conflicts
// deterministically: the worst outcome wins; among rules of equal outcome
// the lexicographically smallest identifier decides. Evaluation order never
// affects the result.
func (p *Policy) Decide(f *FileFacts) Decision {
	type hit struct {
		id      string
		outcome Outcome
	}
	var hits []hit

	for id, rule := range p.Rules {
		if rule.Match.matches(f) {
			hits = append(hits, hit{id: id, outcome: rule.Outcome})
		}
	}

	if p.Defaults.MaxSizeMB > 0 && f.SizeBytes > p.Defaults.MaxSizeMB*validator.MB {
		hits = append(hits, hit{id: ruleMaxSize, outcome: OutcomeDeny})
	}

	if len(hits) == 0 {
		return Decision{Outcome: p.Defaults.Decision}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].outcome != hits[j].outcome {
			return hits[i].outcome > hits[j].outcome
		}
		return hits[i].id < hits[j].id
	})

	triggered := make([]string, len(hits))
	for i, h := range hits {
		triggered[i] = h.id
	}
	sort.Strings(triggered)

	return Decision{
		Outcome:   hits[0].outcome,
		RuleID:    hits[0].id,
		Triggered: triggered,
	}
}

// DefaultPolicy is the protective baseline used when no policy document is
// given: executables and escape attempts are denied, resource pressure and
// content anomalies warn, everything else is allowed up to a 10MB ceiling.
func DefaultPolicy() *Policy {
	p := &Policy{
		Version: 1,
		Defaults: Defaults{
			MaxSizeMB: 10,
			Decision:  OutcomeAllow,
			FailOn:    FailOnDeny,
		},
		Limits: validator.DefaultLimits(),
		Rules: map[string]Rule{
			"deny-executables": {
				ID:          "deny-executables",
				Description: "native executables, bytecode and scripts",
				Outcome:     OutcomeDeny,
				Match:       Match{MediaTypes: validator.ExecutableTypes()},
			},
			"deny-traversal": {
				ID:          "deny-traversal",
				Description: "archive entries that escape the extraction root",
				Outcome:     OutcomeDeny,
				Match: Match{FindingKinds: []string{
					string(validator.KindPathTraversal),
					string(validator.KindSymlinkEntry),
				}},
			},
			"deny-active-content": {
				ID:          "deny-active-content",
				Description: "script actions embedded in documents",
				Outcome:     OutcomeDeny,
				Match:       Match{FindingKinds: []string{string(validator.KindActiveContent)}},
			},
			"deny-malformed": {
				ID:          "deny-malformed",
				Description: "structurally damaged files",
				Outcome:     OutcomeDeny,
				Match:       Match{FindingKinds: []string{string(validator.KindMalformedStructure)}},
			},
			"warn-embedded-files": {
				ID:          "warn-embedded-files",
				Description: "documents carrying embedded file trees",
				Outcome:     OutcomeWarn,
				Match:       Match{FindingKinds: []string{string(validator.KindEmbeddedFiles)}},
			},
			"warn-resource-pressure": {
				ID:          "warn-resource-pressure",
				Description: "inputs engineered to exhaust processing resources",
				Outcome:     OutcomeWarn,
				Match: Match{FindingKinds: []string{
					string(validator.KindResourceLimit),
					string(validator.KindNestedArchiveDepth),
					string(validator.KindExcessiveEntries),
					string(validator.KindExcessiveObjects),
					string(validator.KindExcessiveFrames),
					string(validator.KindSuspiciousFilterChain),
				}},
			},
			"warn-content-anomalies": {
				ID:          "warn-content-anomalies",
				Description: "content that does not match its declared shape",
				Outcome:     OutcomeWarn,
				Match: Match{FindingKinds: []string{
					string(validator.KindTrailingData),
					string(validator.KindHighEntropyRegion),
					string(validator.KindDimensionMismatch),
					string(validator.KindExtensionMismatch),
					string(validator.KindOversized),
				}},
			},
		},
	}

	if err := p.compile(); err != nil {
		// The built-in patterns are literals; a compile failure here is a
		// programming error.
		panic(err)
	}
	return p
}
