package guardfile

import (
	"bytes"
	"context"
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/guardfile/guardfile/validator"
)

// Input is one unit of work: a named, openable byte stream.
type Input struct {
	// Name identifies the input in reports, logs and the audit trail.
	Name string

	// DeclaredType is the media type the input claims through its name or
	// metadata. Empty when nothing was declared.
	DeclaredType string

	// Open returns the content stream. It is called once per scan.
	Open func() (io.ReadCloser, error)
}

// FileInput builds an input for a file on disk. The declared type is
// derived from the file extension.
func FileInput(path string) Input {
	return Input{
		Name:         path,
		DeclaredType: validator.MediaTypeForExtension(filepath.Ext(path)),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// BytesInput builds an input over an in-memory buffer.
func BytesInput(name string, data []byte) Input {
	return Input{
		Name:         name,
		DeclaredType: validator.MediaTypeForExtension(filepath.Ext(name)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// ReaderInput builds a single-use input over an already-open stream, such as
// stdin or an upload body. The stream is consumed on first open; a second
// open fails.
func ReaderInput(name string, r io.Reader) Input {
	var opened bool
	return Input{
		Name:         name,
		DeclaredType: validator.MediaTypeForExtension(filepath.Ext(name)),
		Open: func() (io.ReadCloser, error) {
			if opened {
				return nil, &InputError{Op: "open", Name: name, Err: ErrNoInput}
			}
			opened = true
			if rc, ok := r.(io.ReadCloser); ok {
				return rc, nil
			}
			return io.NopCloser(r), nil
		},
	}
}

// Engine runs the scan pipeline: sniff, hash, validate under guard, decide,
// report. One engine may serve many runs concurrently.
type Engine struct {
	policy    *Policy
	registry  *validator.Registry
	algorithm Algorithm
	sampleCap int64
	workers   int
	logger    *slog.Logger
	guard     *Guard
	cache     *DecisionCache
	audit     *AuditStore
}

// Option configures an Engine.
type Option func(*Engine)

// WithPolicy sets the decision policy. Defaults to DefaultPolicy.
func WithPolicy(p *Policy) Option {
	return func(e *Engine) { e.policy = p }
}

// WithRegistry sets the validator registry. Defaults to validator.Default.
func WithRegistry(r *validator.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// WithDigestAlgorithm sets the content digest algorithm.
func WithDigestAlgorithm(a Algorithm) Option {
	return func(e *Engine) { e.algorithm = a }
}

// WithSampleCap bounds the bytes retained in memory for validation. The
// digest always covers the whole stream. Non-positive retains everything.
func WithSampleCap(n int64) Option {
	return func(e *Engine) { e.sampleCap = n }
}

// WithWorkers sets run concurrency. Non-positive means one per CPU.
func WithWorkers(n int) Option {
	return func(e *Engine) { e.workers = n }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithGuard replaces the resource guard derived from the policy limits.
func WithGuard(g *Guard) Option {
	return func(e *Engine) { e.guard = g }
}

// WithDecisionCache enables decision reuse for identical content.
func WithDecisionCache(c *DecisionCache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithAuditStore journals every decision to the store.
func WithAuditStore(s *AuditStore) Option {
	return func(e *Engine) { e.audit = s }
}

// New builds an engine. Unset options fall back to the default policy, the
// default validator registry, sha256 digests and one worker per CPU.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		algorithm: AlgorithmSHA256,
		sampleCap: 32 * validator.MB,
		workers:   runtime.GOMAXPROCS(0),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	if _, err := NewHasher(e.algorithm); err != nil {
		return nil, err
	}
	if e.policy == nil {
		e.policy = DefaultPolicy()
	}
	if e.registry == nil {
		e.registry = validator.Default()
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.guard == nil {
		e.guard = NewGuard(e.policy.Limits)
	}
	return e, nil
}

// NewFromEnv builds an engine from process environment configuration. A
// configured audit store that cannot be opened degrades to a warning
// instead of failing the build.
func NewFromEnv(logger *slog.Logger, opts ...Option) (*Engine, error) {
	cfg, err := GetConfig()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	algorithm, err := ParseAlgorithm(cfg.DigestAlgorithm)
	if err != nil {
		return nil, err
	}

	var policy *Policy
	if cfg.PolicyPath != "" {
		policy, err = LoadPolicy(cfg.PolicyPath)
		if err != nil {
			return nil, err
		}
	} else {
		policy = DefaultPolicy()
		if cfg.TimeoutMS > 0 {
			policy.Limits.Timeout = time.Duration(cfg.TimeoutMS) * time.Millisecond
		}
		if cfg.MaxProcessingBytes > 0 {
			policy.Limits.MaxProcessingBytes = cfg.MaxProcessingBytes
		}
		if cfg.MaxFileSize > 0 {
			policy.Limits.MaxFileBytes = cfg.MaxFileSize
		}
	}
	if cfg.FailOn != "" {
		failOn, err := ParseFailOn(cfg.FailOn)
		if err != nil {
			return nil, err
		}
		policy.Defaults.FailOn = failOn
	}

	base := []Option{
		WithLogger(logger),
		WithPolicy(policy),
		WithDigestAlgorithm(algorithm),
		WithSampleCap(cfg.SampleCapBytes),
		WithWorkers(cfg.Workers),
	}

	if cfg.CacheEnabled {
		ttl := time.Duration(cfg.CacheTTLSeconds) * time.Second
		base = append(base, WithDecisionCache(NewDecisionCache(ttl, cfg.CacheMaxEntries)))
	}

	if cfg.AuditDBPath != "" {
		store, err := OpenAuditStore(cfg.AuditDBPath)
		if err != nil {
			logger.Warn("audit store unavailable", "path", cfg.AuditDBPath, "err", err)
		} else {
			base = append(base, WithAuditStore(store))
		}
	}

	return New(append(base, opts...)...)
}

// Policy returns the engine's effective policy.
func (e *Engine) Policy() *Policy { return e.policy }

// Cache returns the decision cache, or nil when caching is disabled.
func (e *Engine) Cache() *DecisionCache { return e.cache }

// Audit returns the audit store, or nil when auditing is disabled.
func (e *Engine) Audit() *AuditStore { return e.audit }

// Close releases resources held by the engine.
func (e *Engine) Close() error {
	return e.audit.Close()
}

// Scan runs the pipeline for one input. The returned report is total: read
// failures surface in its Error field, never as a Go error.
func (e *Engine) Scan(ctx context.Context, in Input) *FileReport {
	return e.processOne(ctx, in)
}

// Run scans every input on a fixed worker pool and emits one report per
// input, in input order, as reports become releasable. The summary covers
// everything emitted; on context cancellation it is partial and the context
// error is returned.
func (e *Engine) Run(ctx context.Context, inputs []Input, emit func(*FileReport)) (*Summary, error) {
	start := time.Now()
	summary := NewSummary()
	if len(inputs) == 0 {
		return summary, ErrNoInput
	}

	workers := e.workers
	if workers > len(inputs) {
		workers = len(inputs)
	}

	type job struct {
		idx int
		in  Input
	}
	type result struct {
		idx    int
		report *FileReport
	}

	jobs := make(chan job)
	results := make(chan result, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results <- result{idx: j.idx, report: e.processOne(ctx, j.in)}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for i, in := range inputs {
			select {
			case jobs <- job{idx: i, in: in}:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	// Reports arrive in completion order; buffer them and release in input
	// order. The collector is the only goroutine touching the summary.
	pending := make(map[int]*FileReport)
	next := 0
	for res := range results {
		pending[res.idx] = res.report
		for {
			report, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++

			summary.Observe(report)
			if err := e.audit.Record(ctx, summary.RunID, report); err != nil {
				e.logger.Warn("audit record failed", "file", report.Name, "err", err)
			}
			if emit != nil {
				emit(report)
			}
		}
	}

	summary.DurationMS = msSince(start)
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// processOne takes one input through sniff, hash, validate and decide.
func (e *Engine) processOne(ctx context.Context, in Input) *FileReport {
	start := time.Now()
	report := &FileReport{
		Version:      ReportVersion,
		Name:         in.Name,
		DigestAlgo:   string(e.algorithm),
		DeclaredType: in.DeclaredType,
	}

	rc, err := in.Open()
	if err != nil {
		report.Error = (&InputError{Op: "open", Name: in.Name, Err: err}).Error()
		report.Timings.TotalMS = msSince(start)
		return report
	}

	// Hash the whole stream while retaining a bounded leading sample for
	// validation. The digest must cover bytes the validators never see.
	hashStart := time.Now()
	hasher, err := NewHasher(e.algorithm)
	if err != nil {
		rc.Close()
		report.Error = err.Error()
		report.Timings.TotalMS = msSince(start)
		return report
	}
	sample, size, truncated, err := sampleStream(rc, hasher, e.sampleCap)
	rc.Close()
	if err != nil {
		report.Error = (&InputError{Op: "read", Name: in.Name, Err: err}).Error()
		report.Timings.TotalMS = msSince(start)
		return report
	}
	report.SizeBytes = size
	report.Digest = hex.EncodeToString(hasher.Sum(nil))
	report.Timings.HashMS = msSince(hashStart)
	if truncated {
		report.Notes = append(report.Notes, "validation covers a leading sample; digest covers the full stream")
	}

	sniffStart := time.Now()
	det := validator.Sniff(sample)
	report.MediaType = det.MediaType
	report.Magic = formatMagic(det.Signature)
	report.Timings.SniffMS = msSince(sniffStart)

	if e.cache != nil {
		if hit, ok := e.cache.lookup(report.Digest); ok {
			report.MediaType = hit.mediaType
			report.Severity = hit.severity
			report.Findings = hit.findings
			decision := hit.decision
			report.Decision = &decision
			report.Notes = append(report.Notes, "decision reused from cache")
			report.Timings.TotalMS = msSince(start)
			return report
		}
	}

	validateStart := time.Now()
	v := e.registry.ForMediaType(report.MediaType)
	findings := e.guard.Invoke(ctx, v, validator.Input{
		Name:      in.Name,
		Data:      sample,
		Size:      size,
		MediaType: report.MediaType,
		Truncated: truncated,
	}, e.policy.Limits)

	if in.DeclaredType != "" && !validator.Compatible(in.DeclaredType, report.MediaType) {
		findings = append(findings, validator.Newf(validator.KindExtensionMismatch,
			"declared %s but content sniffs as %s", in.DeclaredType, report.MediaType))
	}
	report.Findings = findings
	if sev, ok := validator.HighestSeverity(findings); ok {
		report.Severity = sev.String()
	}
	report.Timings.ValidateMS = msSince(validateStart)

	decideStart := time.Now()
	decision := e.policy.Decide(&FileFacts{
		Name:      in.Name,
		MediaType: report.MediaType,
		SizeBytes: size,
		Digest:    report.Digest,
		Findings:  findings,
	})
	report.Decision = &decision
	report.Timings.DecideMS = msSince(decideStart)
	report.Timings.TotalMS = msSince(start)

	if e.cache != nil {
		e.cache.store(report.Digest, &cachedDecision{
			decision:  decision,
			findings:  findings,
			mediaType: report.MediaType,
			severity:  report.Severity,
		})
	}

	e.logger.Debug("scanned",
		"file", in.Name,
		"media_type", report.MediaType,
		"outcome", decision.Outcome.String(),
		"findings", len(findings))
	return report
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
