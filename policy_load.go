package guardfile

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guardfile/guardfile/validator"
)

// policyFile is the on-disk policy schema. Every field is a pointer or map
// so that override documents may carry only the parts they change; layering
// happens on this representation before any validation runs.
type policyFile struct {
	Version  *int                 `yaml:"version"`
	Defaults *defaultsFile        `yaml:"defaults"`
	Limits   *limitsFile          `yaml:"limits"`
	Rules    map[string]*ruleFile `yaml:"rules"`
}

type defaultsFile struct {
	MaxSizeMB *int64  `yaml:"max_size_mb"`
	Decision  *string `yaml:"decision"`
	FailOn    *string `yaml:"fail_on"`
}

type limitsFile struct {
	MaxFileMB         *int64   `yaml:"max_file_mb"`
	TimeoutMS         *int64   `yaml:"timeout_ms"`
	MaxProcessingMB   *int64   `yaml:"max_processing_mb"`
	MaxExpansionRatio *float64 `yaml:"max_expansion_ratio"`
	MaxArchiveDepth   *int     `yaml:"max_archive_depth"`
	MaxArchiveEntries *int     `yaml:"max_archive_entries"`
	MaxNestedArchives *int     `yaml:"max_nested_archives"`
	MaxPDFObjects     *int     `yaml:"max_pdf_objects"`
	MaxFilterChain    *int     `yaml:"max_filter_chain"`
	MaxImageFrames    *int     `yaml:"max_image_frames"`
	MaxPixels         *int64   `yaml:"max_pixels"`
	EntropyThreshold  *float64 `yaml:"entropy_threshold"`
	EntropyWindowKB   *int     `yaml:"entropy_window_kb"`
}

type ruleFile struct {
	Description string     `yaml:"description"`
	Outcome     *string    `yaml:"outcome"`
	Match       *matchFile `yaml:"match"`
}

type matchFile struct {
	MediaTypes   []string `yaml:"media_types"`
	FindingKinds []string `yaml:"finding_kinds"`
	MinSeverity  *string  `yaml:"min_severity"`
	MinSizeMB    *int64   `yaml:"min_size_mb"`
	MaxSizeMB    *int64   `yaml:"max_size_mb"`
	Digests      []string `yaml:"digests"`
}

// ParsePolicy builds an effective policy from one or more YAML documents.
// The first document is the base; each later document is layered onto it.
// Defaults and limits merge field by field, while a rule in a later
// document replaces any earlier rule with the same identifier wholly.
// Fields absent from every document keep their built-in values.
func ParsePolicy(docs ...[]byte) (*Policy, error) {
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no documents given", ErrInvalidPolicy)
	}

	merged := &policyFile{}
	for i, data := range docs {
		doc, err := parseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("%w: document %d: %w", ErrInvalidPolicy, i+1, err)
		}
		mergeDocuments(merged, doc)
	}
	return hydrate(merged)
}

// LoadPolicy reads and layers policy documents from disk. The first path is
// the base policy; the rest are overrides applied in order.
func LoadPolicy(paths ...string) (*Policy, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no documents given", ErrInvalidPolicy)
	}

	docs := make([][]byte, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read policy %s: %w", path, err)
		}
		docs = append(docs, data)
	}
	return ParsePolicy(docs...)
}

// parseDocument decodes one YAML document strictly: unknown keys are
// rejected so a typo cannot silently disable a rule.
func parseDocument(data []byte) (*policyFile, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc policyFile
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &policyFile{}, nil
		}
		return nil, err
	}
	return &doc, nil
}

// mergeDocuments layers override onto base in place.
func mergeDocuments(base, override *policyFile) {
	if override.Version != nil {
		base.Version = override.Version
	}

	if o := override.Defaults; o != nil {
		if base.Defaults == nil {
			base.Defaults = &defaultsFile{}
		}
		b := base.Defaults
		if o.MaxSizeMB != nil {
			b.MaxSizeMB = o.MaxSizeMB
		}
		if o.Decision != nil {
			b.Decision = o.Decision
		}
		if o.FailOn != nil {
			b.FailOn = o.FailOn
		}
	}

	if o := override.Limits; o != nil {
		if base.Limits == nil {
			base.Limits = &limitsFile{}
		}
		b := base.Limits
		if o.MaxFileMB != nil {
			b.MaxFileMB = o.MaxFileMB
		}
		if o.TimeoutMS != nil {
			b.TimeoutMS = o.TimeoutMS
		}
		if o.MaxProcessingMB != nil {
			b.MaxProcessingMB = o.MaxProcessingMB
		}
		if o.MaxExpansionRatio != nil {
			b.MaxExpansionRatio = o.MaxExpansionRatio
		}
		if o.MaxArchiveDepth != nil {
			b.MaxArchiveDepth = o.MaxArchiveDepth
		}
		if o.MaxArchiveEntries != nil {
			b.MaxArchiveEntries = o.MaxArchiveEntries
		}
		if o.MaxNestedArchives != nil {
			b.MaxNestedArchives = o.MaxNestedArchives
		}
		if o.MaxPDFObjects != nil {
			b.MaxPDFObjects = o.MaxPDFObjects
		}
		if o.MaxFilterChain != nil {
			b.MaxFilterChain = o.MaxFilterChain
		}
		if o.MaxImageFrames != nil {
			b.MaxImageFrames = o.MaxImageFrames
		}
		if o.MaxPixels != nil {
			b.MaxPixels = o.MaxPixels
		}
		if o.EntropyThreshold != nil {
			b.EntropyThreshold = o.EntropyThreshold
		}
		if o.EntropyWindowKB != nil {
			b.EntropyWindowKB = o.EntropyWindowKB
		}
	}

	for id, rule := range override.Rules {
		if base.Rules == nil {
			base.Rules = map[string]*ruleFile{}
		}
		base.Rules[id] = rule
	}
}

// hydrate validates the merged document and builds the effective policy.
// Defects are collected rather than reported one at a time, so a broken
// policy surfaces every problem in a single error.
func hydrate(doc *policyFile) (*Policy, error) {
	var defects []error

	p := &Policy{
		Version: 1,
		Defaults: Defaults{
			MaxSizeMB: 10,
			Decision:  OutcomeAllow,
			FailOn:    FailOnDeny,
		},
		Limits: validator.DefaultLimits(),
		Rules:  map[string]Rule{},
	}

	if doc.Version == nil {
		defects = append(defects, &PolicyError{Field: "version", Err: errors.New("missing")})
	} else if *doc.Version != 1 {
		defects = append(defects, &PolicyError{Field: "version", Err: fmt.Errorf("unsupported version %d", *doc.Version)})
	}

	if d := doc.Defaults; d != nil {
		if d.MaxSizeMB != nil {
			if *d.MaxSizeMB < 0 {
				defects = append(defects, &PolicyError{Field: "defaults.max_size_mb", Err: errNegative})
			} else {
				p.Defaults.MaxSizeMB = *d.MaxSizeMB
			}
		}
		if d.Decision != nil {
			if outcome, err := ParseOutcome(*d.Decision); err != nil {
				defects = append(defects, &PolicyError{Field: "defaults.decision", Err: err})
			} else {
				p.Defaults.Decision = outcome
			}
		}
		if d.FailOn != nil {
			if failOn, err := ParseFailOn(*d.FailOn); err != nil {
				defects = append(defects, &PolicyError{Field: "defaults.fail_on", Err: err})
			} else {
				p.Defaults.FailOn = failOn
			}
		}
	}

	if l := doc.Limits; l != nil {
		defects = append(defects, hydrateLimits(l, &p.Limits)...)
	}

	for _, id := range sortedRuleIDs(doc.Rules) {
		rule, errs := hydrateRule(id, doc.Rules[id])
		if len(errs) > 0 {
			defects = append(defects, errs...)
			continue
		}
		p.Rules[id] = rule
	}

	if len(defects) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPolicy, errors.Join(defects...))
	}
	return p, nil
}

var errNegative = errors.New("must not be negative")

func hydrateLimits(l *limitsFile, dst *validator.Limits) []error {
	var defects []error
	reject := func(field string) {
		defects = append(defects, &PolicyError{Field: "limits." + field, Err: errNegative})
	}
	setInt := func(field string, src *int, out *int) {
		if src == nil {
			return
		}
		if *src < 0 {
			reject(field)
			return
		}
		*out = *src
	}

	if l.MaxFileMB != nil {
		if *l.MaxFileMB < 0 {
			reject("max_file_mb")
		} else {
			dst.MaxFileBytes = *l.MaxFileMB * validator.MB
		}
	}
	if l.TimeoutMS != nil {
		if *l.TimeoutMS < 0 {
			reject("timeout_ms")
		} else {
			dst.Timeout = time.Duration(*l.TimeoutMS) * time.Millisecond
		}
	}
	if l.MaxProcessingMB != nil {
		if *l.MaxProcessingMB < 0 {
			reject("max_processing_mb")
		} else {
			dst.MaxProcessingBytes = *l.MaxProcessingMB * validator.MB
		}
	}
	if l.MaxExpansionRatio != nil {
		if *l.MaxExpansionRatio < 0 {
			reject("max_expansion_ratio")
		} else {
			dst.MaxExpansionRatio = *l.MaxExpansionRatio
		}
	}
	setInt("max_archive_depth", l.MaxArchiveDepth, &dst.MaxArchiveDepth)
	setInt("max_archive_entries", l.MaxArchiveEntries, &dst.MaxArchiveEntries)
	setInt("max_nested_archives", l.MaxNestedArchives, &dst.MaxNestedArchives)
	setInt("max_pdf_objects", l.MaxPDFObjects, &dst.MaxPDFObjects)
	setInt("max_filter_chain", l.MaxFilterChain, &dst.MaxFilterChain)
	setInt("max_image_frames", l.MaxImageFrames, &dst.MaxImageFrames)
	if l.MaxPixels != nil {
		if *l.MaxPixels < 0 {
			reject("max_pixels")
		} else {
			dst.MaxPixels = *l.MaxPixels
		}
	}
	if l.EntropyThreshold != nil {
		if *l.EntropyThreshold < 0 {
			reject("entropy_threshold")
		} else {
			dst.EntropyThreshold = *l.EntropyThreshold
		}
	}
	if l.EntropyWindowKB != nil {
		if *l.EntropyWindowKB < 0 {
			reject("entropy_window_kb")
		} else {
			dst.EntropyWindow = *l.EntropyWindowKB * validator.KB
		}
	}
	return defects
}

func hydrateRule(id string, rf *ruleFile) (Rule, []error) {
	var defects []error
	fail := func(field string, err error) {
		defects = append(defects, &PolicyError{Rule: id, Field: field, Err: err})
	}

	if strings.TrimSpace(id) == "" {
		fail("id", errors.New("must not be empty"))
	}
	if strings.HasPrefix(id, builtinRulePrefix) {
		fail("id", fmt.Errorf("prefix %q is reserved for built-in rules", builtinRulePrefix))
	}
	if rf == nil {
		fail("", errors.New("rule body is empty"))
		return Rule{}, defects
	}

	rule := Rule{ID: id, Description: rf.Description}

	if rf.Outcome == nil {
		fail("outcome", errors.New("missing"))
	} else if outcome, err := ParseOutcome(*rf.Outcome); err != nil {
		fail("outcome", err)
	} else {
		rule.Outcome = outcome
	}

	if rf.Match == nil {
		fail("match", errors.New("missing"))
		return Rule{}, defects
	}

	m := rf.Match
	rule.Match.MediaTypes = append([]string(nil), m.MediaTypes...)

	for _, kind := range m.FindingKinds {
		if !validator.KnownKind(kind) {
			fail("match.finding_kinds", fmt.Errorf("unknown finding kind %q", kind))
		}
	}
	rule.Match.FindingKinds = append([]string(nil), m.FindingKinds...)

	if m.MinSeverity != nil {
		if sev, err := validator.ParseSeverity(*m.MinSeverity); err != nil {
			fail("match.min_severity", err)
		} else {
			rule.Match.MinSeverity = &sev
		}
	}

	if m.MinSizeMB != nil {
		if *m.MinSizeMB < 0 {
			fail("match.min_size_mb", errNegative)
		} else {
			v := *m.MinSizeMB * validator.MB
			rule.Match.MinSizeBytes = &v
		}
	}
	if m.MaxSizeMB != nil {
		if *m.MaxSizeMB < 0 {
			fail("match.max_size_mb", errNegative)
		} else {
			v := *m.MaxSizeMB * validator.MB
			rule.Match.MaxSizeBytes = &v
		}
	}
	if m.MinSizeMB != nil && m.MaxSizeMB != nil && *m.MinSizeMB > *m.MaxSizeMB {
		fail("match", fmt.Errorf("min_size_mb %d exceeds max_size_mb %d", *m.MinSizeMB, *m.MaxSizeMB))
	}

	for _, digest := range m.Digests {
		if !validHexDigest(digest) {
			fail("match.digests", fmt.Errorf("not a hex digest: %q", digest))
			continue
		}
		rule.Match.Digests = append(rule.Match.Digests, strings.ToLower(digest))
	}

	if rule.Match.empty() {
		fail("match", errors.New("at least one predicate is required"))
	}
	if err := rule.Match.compile(); err != nil {
		fail("match.media_types", err)
	}

	if len(defects) > 0 {
		return Rule{}, defects
	}
	return rule, nil
}

func validHexDigest(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func sortedRuleIDs(rules map[string]*ruleFile) []string {
	ids := make([]string, 0, len(rules))
	for id := range rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
