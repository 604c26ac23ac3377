package guardfile

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/segmentio/encoding/json"

	"github.com/guardfile/guardfile/validator"
)

// ReportVersion is the schema version stamped on every file report.
const ReportVersion = 1

// Process exit codes. When several apply the most severe wins:
// policy error, then operational error, then deny, then warn.
const (
	ExitOK          = 0
	ExitDeny        = 1
	ExitOperational = 2
	ExitWarn        = 3
	ExitPolicy      = 4
)

// Timings records per-stage wall-clock milliseconds for one file.
type Timings struct {
	SniffMS    float64 `json:"sniff_ms"`
	HashMS     float64 `json:"hash_ms"`
	ValidateMS float64 `json:"validate_ms"`
	DecideMS   float64 `json:"decide_ms"`
	TotalMS    float64 `json:"total_ms"`
}

// Add accumulates another set of stage timings into t.
func (t *Timings) Add(o Timings) {
	t.SniffMS += o.SniffMS
	t.HashMS += o.HashMS
	t.ValidateMS += o.ValidateMS
	t.DecideMS += o.DecideMS
	t.TotalMS += o.TotalMS
}

// FileReport is the full record for one scanned input. Reports for
// unreadable inputs carry Error and no decision.
type FileReport struct {
	Version      int                 `json:"version"`
	Name         string              `json:"file"`
	SizeBytes    int64               `json:"size_bytes"`
	Digest       string              `json:"digest,omitempty"`
	DigestAlgo   string              `json:"digest_algo,omitempty"`
	MediaType    string              `json:"media_type,omitempty"`
	DeclaredType string              `json:"declared_type,omitempty"`
	Magic        string              `json:"magic,omitempty"`
	Severity     string              `json:"severity,omitempty"`
	Findings     []validator.Finding `json:"findings,omitempty"`
	Decision     *Decision           `json:"decision,omitempty"`
	Timings      Timings             `json:"timings"`
	Notes        []string            `json:"notes,omitempty"`
	Error        string              `json:"error,omitempty"`
}

// formatMagic renders leading signature bytes for a report, e.g.
// "89 50 4E 47".
func formatMagic(sig []byte) string {
	if len(sig) == 0 {
		return ""
	}
	return fmt.Sprintf("% X", sig)
}

// Summary aggregates one run. It is owned by the run's collector goroutine
// and must not be mutated concurrently.
type Summary struct {
	RunID        string         `json:"run_id"`
	GeneratedAt  time.Time      `json:"generated_at"`
	Scanned      int            `json:"scanned"`
	Allowed      int            `json:"allowed"`
	Warned       int            `json:"warned"`
	Denied       int            `json:"denied"`
	Errors       int            `json:"errors"`
	TotalBytes   int64          `json:"total_bytes"`
	ByMediaType  map[string]int `json:"by_media_type,omitempty"`
	WorstOutcome Outcome        `json:"worst_outcome"`
	DurationMS   float64        `json:"duration_ms"`
	Stages       Timings        `json:"stages"`
}

// NewSummary starts an empty summary with a fresh run identifier.
func NewSummary() *Summary {
	return &Summary{
		RunID:       uuid.NewString(),
		GeneratedAt: time.Now().UTC(),
		ByMediaType: make(map[string]int),
	}
}

// Observe folds one file report into the summary. Errored inputs count in
// Scanned and Errors but not in any outcome bucket. Calls must be
// serialized by the caller; Run does this through its collector goroutine.
func (s *Summary) Observe(r *FileReport) {
	s.Scanned++
	s.TotalBytes += r.SizeBytes
	if r.MediaType != "" {
		s.ByMediaType[r.MediaType]++
	}
	s.Stages.Add(r.Timings)

	if r.Error != "" || r.Decision == nil {
		s.Errors++
		return
	}

	switch r.Decision.Outcome {
	case OutcomeDeny:
		s.Denied++
	case OutcomeWarn:
		s.Warned++
	default:
		s.Allowed++
	}
	if r.Decision.Outcome > s.WorstOutcome {
		s.WorstOutcome = r.Decision.Outcome
	}
}

// String renders a one-line digest of the run for logs.
func (s *Summary) String() string {
	return fmt.Sprintf("scanned %d files (%s): %d allowed, %d warned, %d denied, %d errors in %.0fms",
		s.Scanned, humanize.IBytes(uint64(s.TotalBytes)),
		s.Allowed, s.Warned, s.Denied, s.Errors, s.DurationMS)
}

// ExitCode maps a finished run to a process exit code under the given
// fail-on threshold. A missing summary is an operational failure.
func ExitCode(s *Summary, failOn FailOn) int {
	switch {
	case s == nil:
		return ExitOperational
	case s.Errors > 0:
		return ExitOperational
	case failOn == FailOnNone:
		return ExitOK
	case s.Denied > 0:
		return ExitDeny
	case failOn == FailOnWarn && s.Warned > 0:
		return ExitWarn
	}
	return ExitOK
}

// ReportWriter emits file reports as JSON lines. Safe for concurrent use.
type ReportWriter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewReportWriter wraps w in a line-oriented JSON report writer.
func NewReportWriter(w io.Writer) *ReportWriter {
	return &ReportWriter{enc: json.NewEncoder(w)}
}

// Write emits one file report line.
func (w *ReportWriter) Write(r *FileReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(r)
}

// WriteSummary emits the run summary as a final line.
func (w *ReportWriter) WriteSummary(s *Summary) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(s)
}
