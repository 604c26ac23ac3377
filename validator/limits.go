package validator

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// File size constants
const (
	KB = 1024
	MB = 1024 * KB
	GB = 1024 * MB
)

// Limits carries the per-invocation ceilings validators honor. Zero values
// disable the corresponding check unless noted otherwise.
type Limits struct {
	// MaxFileBytes is the input size ceiling enforced by the generic
	// validator and mirrored by the policy size rule.
	MaxFileBytes int64

	// Timeout bounds wall-clock time for one validator invocation.
	// Enforced by the caller, not by validators themselves.
	Timeout time.Duration

	// MaxProcessingBytes caps cumulative bytes read or produced by
	// decompression while validating one input.
	MaxProcessingBytes int64

	// MaxExpansionRatio is the largest tolerated uncompressed/compressed
	// ratio for archive entries and whole archives.
	MaxExpansionRatio float64

	// MaxArchiveDepth bounds nested decompression (archive in archive).
	MaxArchiveDepth int

	// MaxArchiveEntries bounds the number of entries examined per archive.
	MaxArchiveEntries int

	// MaxNestedArchives bounds how many nested archives one archive may
	// carry regardless of depth.
	MaxNestedArchives int

	// MaxPDFObjects bounds indirect object counts in PDF documents.
	MaxPDFObjects int

	// MaxFilterChain bounds cascaded stream decode filters in PDFs.
	MaxFilterChain int

	// MaxImageFrames bounds animation frame counts.
	MaxImageFrames int

	// MaxPixels bounds decoded pixel counts (decompression bomb guard).
	MaxPixels int64

	// EntropyThreshold is the bits-per-byte level above which a scanned
	// window is flagged.
	EntropyThreshold float64

	// EntropyWindow is the sliding window size for entropy profiling.
	EntropyWindow int
}

// DefaultLimits returns the ceilings used when no policy overrides them.
func DefaultLimits() Limits {
	return Limits{
		MaxFileBytes:       10 * MB,
		Timeout:            2 * time.Second,
		MaxProcessingBytes: 256 * MB,
		MaxExpansionRatio:  100.0,
		MaxArchiveDepth:    4,
		MaxArchiveEntries:  1000,
		MaxNestedArchives:  3,
		MaxPDFObjects:      50000,
		MaxFilterChain:     3,
		MaxImageFrames:     500,
		MaxPixels:          50_000_000,
		EntropyThreshold:   7.8,
		EntropyWindow:      4 * KB,
	}
}

// errBudget halts internal read loops once the budget is spent. It never
// escapes a validator; breaches surface as findings.
var errBudget = errors.New("processing budget exhausted")

// Budget meters cumulative bytes processed on behalf of a single input,
// including bytes produced by decompression. It is safe for concurrent use
// so a supervising goroutine can observe usage while a validator runs.
type Budget struct {
	limit     int64
	used      atomic.Int64
	exhausted atomic.Bool
}

// NewBudget returns a budget capped at limit bytes. A non-positive limit
// means unlimited.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Charge records n more bytes of work. It returns false once cumulative
// usage crosses the limit; the exhausted state is sticky.
func (b *Budget) Charge(n int64) bool {
	if b == nil {
		return true
	}
	used := b.used.Add(n)
	if b.limit > 0 && used > b.limit {
		b.exhausted.Store(true)
		return false
	}
	return !b.exhausted.Load()
}

// Used returns the bytes charged so far.
func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

// Remaining returns the bytes left before exhaustion, or -1 when unlimited.
func (b *Budget) Remaining() int64 {
	if b == nil || b.limit <= 0 {
		return -1
	}
	left := b.limit - b.used.Load()
	if left < 0 {
		return 0
	}
	return left
}

// Exhausted reports whether any charge has been refused.
func (b *Budget) Exhausted() bool {
	return b != nil && b.exhausted.Load()
}

// meteredReader charges a budget for every byte read through it and stops
// the stream with errBudget once the budget is spent.
type meteredReader struct {
	r io.Reader
	b *Budget
}

func newMeteredReader(r io.Reader, b *Budget) *meteredReader {
	return &meteredReader{r: r, b: b}
}

func (m *meteredReader) Read(p []byte) (int, error) {
	n, err := m.r.Read(p)
	if n > 0 && !m.b.Charge(int64(n)) {
		return n, errBudget
	}
	return n, err
}
