package guardfile

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/guardfile/guardfile/validator"
)

func testPolicy(t *testing.T, rules ...Rule) *Policy {
	t.Helper()
	p := &Policy{
		Version:  1,
		Defaults: Defaults{MaxSizeMB: 10, Decision: OutcomeAllow, FailOn: FailOnDeny},
		Limits:   validator.DefaultLimits(),
		Rules:    map[string]Rule{},
	}
	for _, r := range rules {
		p.Rules[r.ID] = r
	}
	if err := p.compile(); err != nil {
		t.Fatalf("compile policy: %v", err)
	}
	return p
}

func facts(mediaType string, size int64, findings ...validator.Finding) *FileFacts {
	return &FileFacts{
		Name:      "input.bin",
		MediaType: mediaType,
		SizeBytes: size,
		Digest:    "aa11bb22",
		Findings:  findings,
	}
}

func TestDecideWorstOutcomeWins(t *testing.T) {
	p := testPolicy(t,
		Rule{ID: "allow-images", Outcome: OutcomeAllow, Match: Match{MediaTypes: []string{"image/*"}}},
		Rule{ID: "warn-images", Outcome: OutcomeWarn, Match: Match{MediaTypes: []string{"image/*"}}},
		Rule{ID: "deny-images", Outcome: OutcomeDeny, Match: Match{MediaTypes: []string{"image/*"}}},
	)

	got := p.Decide(facts("image/png", 100))
	want := Decision{
		Outcome:   OutcomeDeny,
		RuleID:    "deny-images",
		Triggered: []string{"allow-images", "deny-images", "warn-images"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecideTieBreaksOnSmallestID(t *testing.T) {
	p := testPolicy(t,
		Rule{ID: "zz-deny", Outcome: OutcomeDeny, Match: Match{MediaTypes: []string{"application/pdf"}}},
		Rule{ID: "aa-deny", Outcome: OutcomeDeny, Match: Match{MediaTypes: []string{"application/*"}}},
	)

	got := p.Decide(facts("application/pdf", 100))
	if got.RuleID != "aa-deny" {
		t.Errorf("RuleID = %s, want aa-deny", got.RuleID)
	}
	if got.Outcome != OutcomeDeny {
		t.Errorf("Outcome = %s, want deny", got.Outcome)
	}
}

func TestDecideNoMatchAppliesDefault(t *testing.T) {
	p := testPolicy(t,
		Rule{ID: "deny-pdf", Outcome: OutcomeDeny, Match: Match{MediaTypes: []string{"application/pdf"}}},
	)
	p.Defaults.Decision = OutcomeWarn

	got := p.Decide(facts("text/plain", 100))
	want := Decision{Outcome: OutcomeWarn}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Decide() mismatch (-want +got):\n%s", diff)
	}
}

func TestDecideDeterministic(t *testing.T) {
	p := testPolicy(t,
		Rule{ID: "r1", Outcome: OutcomeWarn, Match: Match{MediaTypes: []string{"image/*"}}},
		Rule{ID: "r2", Outcome: OutcomeWarn, Match: Match{MediaTypes: []string{"image/png"}}},
		Rule{ID: "r3", Outcome: OutcomeDeny, Match: Match{MediaTypes: []string{"image/png"}}},
		Rule{ID: "r4", Outcome: OutcomeAllow, Match: Match{MediaTypes: []string{"*"}}},
	)

	first := p.Decide(facts("image/png", 100))
	for i := 0; i < 50; i++ {
		if diff := cmp.Diff(first, p.Decide(facts("image/png", 100))); diff != "" {
			t.Fatalf("Decide() varies across evaluations (-first +got):\n%s", diff)
		}
	}
	if first.RuleID != "r3" {
		t.Errorf("RuleID = %s, want r3", first.RuleID)
	}
}

func TestDecideMaxSizeRule(t *testing.T) {
	p := testPolicy(t,
		Rule{ID: "warn-big", Outcome: OutcomeWarn, Match: Match{MinSizeBytes: ptr(int64(validator.MB))}},
	)

	t.Run("over the ceiling", func(t *testing.T) {
		got := p.Decide(facts("application/octet-stream", 10*validator.MB+1))
		if got.Outcome != OutcomeDeny {
			t.Fatalf("Outcome = %s, want deny", got.Outcome)
		}
		if got.RuleID != "default/max-size" {
			t.Errorf("RuleID = %s, want default/max-size", got.RuleID)
		}
		want := []string{"default/max-size", "warn-big"}
		if diff := cmp.Diff(want, got.Triggered); diff != "" {
			t.Errorf("Triggered mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("exactly at the ceiling", func(t *testing.T) {
		got := p.Decide(facts("application/octet-stream", 10*validator.MB))
		if got.Outcome != OutcomeWarn || got.RuleID != "warn-big" {
			t.Errorf("Decision = %+v, want warn by warn-big", got)
		}
	})

	t.Run("disabled ceiling", func(t *testing.T) {
		open := testPolicy(t)
		open.Defaults.MaxSizeMB = 0
		got := open.Decide(facts("application/octet-stream", 500*validator.MB))
		if got.Outcome != OutcomeAllow || got.RuleID != "" {
			t.Errorf("Decision = %+v, want default allow", got)
		}
	})
}

func TestMatchPredicates(t *testing.T) {
	warnSev := validator.SeverityWarn
	tests := []struct {
		name  string
		match Match
		facts *FileFacts
		want  bool
	}{
		{
			"media glob hit",
			Match{MediaTypes: []string{"image/*"}},
			facts("image/png", 10),
			true,
		},
		{
			"media glob miss",
			Match{MediaTypes: []string{"image/*"}},
			facts("application/pdf", 10),
			false,
		},
		{
			"media case insensitive",
			Match{MediaTypes: []string{"IMAGE/PNG"}},
			facts("image/png", 10),
			true,
		},
		{
			"media values OR",
			Match{MediaTypes: []string{"text/plain", "application/pdf"}},
			facts("application/pdf", 10),
			true,
		},
		{
			"executable pattern",
			Match{MediaTypes: []string{"application/x-*"}},
			facts("application/x-msdownload", 10),
			true,
		},
		{
			"finding kind hit",
			Match{FindingKinds: []string{string(validator.KindTrailingData)}},
			facts("image/png", 10, validator.Newf(validator.KindTrailingData, "x")),
			true,
		},
		{
			"finding kind miss",
			Match{FindingKinds: []string{string(validator.KindTrailingData)}},
			facts("image/png", 10, validator.Newf(validator.KindOversized, "x")),
			false,
		},
		{
			"finding kinds OR",
			Match{FindingKinds: []string{string(validator.KindPathTraversal), string(validator.KindSymlinkEntry)}},
			facts("application/zip", 10, validator.Newf(validator.KindSymlinkEntry, "x")),
			true,
		},
		{
			"severity constrains the same finding",
			Match{FindingKinds: []string{string(validator.KindInconclusive)}, MinSeverity: &warnSev},
			facts("image/png", 10, validator.Newf(validator.KindInconclusive, "x")),
			false,
		},
		{
			"severity met on another finding does not help",
			Match{FindingKinds: []string{string(validator.KindInconclusive)}, MinSeverity: &warnSev},
			facts("image/png", 10,
				validator.Newf(validator.KindInconclusive, "x"),
				validator.Newf(validator.KindTrailingData, "y")),
			false,
		},
		{
			"severity alone",
			Match{MinSeverity: &warnSev},
			facts("image/png", 10, validator.Newf(validator.KindTrailingData, "x")),
			true,
		},
		{
			"severity alone no findings",
			Match{MinSeverity: &warnSev},
			facts("image/png", 10),
			false,
		},
		{
			"size bounds inclusive",
			Match{MinSizeBytes: ptr(int64(10)), MaxSizeBytes: ptr(int64(10))},
			facts("image/png", 10),
			true,
		},
		{
			"size below minimum",
			Match{MinSizeBytes: ptr(int64(11))},
			facts("image/png", 10),
			false,
		},
		{
			"size above maximum",
			Match{MaxSizeBytes: ptr(int64(9))},
			facts("image/png", 10),
			false,
		},
		{
			"digest exact",
			Match{Digests: []string{"aa11bb22"}},
			facts("image/png", 10),
			true,
		},
		{
			"digest case insensitive",
			Match{Digests: []string{"AA11BB22"}},
			facts("image/png", 10),
			true,
		},
		{
			"digest miss",
			Match{Digests: []string{"deadbeef"}},
			facts("image/png", 10),
			false,
		},
		{
			"fields AND together",
			Match{MediaTypes: []string{"image/*"}, FindingKinds: []string{string(validator.KindTrailingData)}},
			facts("image/png", 10),
			false,
		},
		{
			"fields AND together satisfied",
			Match{MediaTypes: []string{"image/*"}, FindingKinds: []string{string(validator.KindTrailingData)}},
			facts("image/png", 10, validator.Newf(validator.KindTrailingData, "x")),
			true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.match
			if err := m.compile(); err != nil {
				t.Fatalf("compile: %v", err)
			}
			if got := m.matches(tt.facts); got != tt.want {
				t.Errorf("matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		name        string
		facts       *FileFacts
		wantOutcome Outcome
		wantRule    string
	}{
		{
			"clean text allowed",
			facts("text/plain", 100),
			OutcomeAllow,
			"",
		},
		{
			"native executable denied",
			facts("application/x-executable", 100),
			OutcomeDeny,
			"deny-executables",
		},
		{
			"windows executable denied",
			facts("application/x-msdownload", 100),
			OutcomeDeny,
			"deny-executables",
		},
		{
			"shell script denied",
			facts("text/x-shellscript", 100),
			OutcomeDeny,
			"deny-executables",
		},
		{
			"traversal denied",
			facts("application/zip", 100, validator.Newf(validator.KindPathTraversal, "x")),
			OutcomeDeny,
			"deny-traversal",
		},
		{
			"active content denied",
			facts("application/pdf", 100, validator.Newf(validator.KindActiveContent, "x")),
			OutcomeDeny,
			"deny-active-content",
		},
		{
			"ratio bomb warns",
			facts("application/zip", 100, validator.Newf(validator.KindResourceLimit, "x")),
			OutcomeWarn,
			"warn-resource-pressure",
		},
		{
			"trailing data warns",
			facts("image/png", 100, validator.Newf(validator.KindTrailingData, "x")),
			OutcomeWarn,
			"warn-content-anomalies",
		},
		{
			"inconclusive alone allowed",
			facts("image/bmp", 100, validator.Newf(validator.KindInconclusive, "x")),
			OutcomeAllow,
			"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Decide(tt.facts)
			if got.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %s, want %s", got.Outcome, tt.wantOutcome)
			}
			if got.RuleID != tt.wantRule {
				t.Errorf("RuleID = %q, want %q", got.RuleID, tt.wantRule)
			}
		})
	}
}

func TestDefaultPolicyCoversEveryExecutableType(t *testing.T) {
	p := DefaultPolicy()
	for _, mt := range validator.ExecutableTypes() {
		got := p.Decide(facts(mt, 100))
		if got.Outcome != OutcomeDeny {
			t.Errorf("Decide(%s) = %s, want deny", mt, got.Outcome)
		}
	}
}

func TestOutcomeJSON(t *testing.T) {
	for _, o := range []Outcome{OutcomeAllow, OutcomeWarn, OutcomeDeny} {
		data, err := json.Marshal(o)
		if err != nil {
			t.Fatalf("Marshal(%v) error = %v", o, err)
		}
		var back Outcome
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal(%s) error = %v", data, err)
		}
		if back != o {
			t.Errorf("roundtrip %v -> %s -> %v", o, data, back)
		}
	}

	var o Outcome
	if err := json.Unmarshal([]byte(`"quarantine"`), &o); err == nil {
		t.Error("Unmarshal accepted unknown outcome token")
	}
}

func TestParseFailOn(t *testing.T) {
	tests := []struct {
		in      string
		want    FailOn
		wantErr bool
	}{
		{"none", FailOnNone, false},
		{"deny", FailOnDeny, false},
		{"warn", FailOnWarn, false},
		{"WARN", FailOnWarn, false},
		{"error", FailOnNone, true},
		{"", FailOnNone, true},
	}

	for _, tt := range tests {
		got, err := ParseFailOn(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseFailOn(%q) accepted", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFailOn(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFailOn(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func ptr[T any](v T) *T { return &v }
