package validator

import (
	"context"
)

// Input carries one file's sampled content through validation.
type Input struct {
	// Name is the logical identifier of the input (path, object key, form
	// filename). Used only in finding detail text.
	Name string

	// Data is the retained content sample. It holds the whole input unless
	// Truncated is set.
	Data []byte

	// Size is the true length of the input stream in bytes.
	Size int64

	// MediaType is the sniffed media type of the content.
	MediaType string

	// Truncated reports that Data holds only a leading sample of the
	// input. Checks that need the tail of the stream go inconclusive
	// instead of guessing.
	Truncated bool

	// Budget meters processing cost for this invocation. A nil budget is
	// unlimited.
	Budget *Budget
}

// charge records n bytes of work against the input's budget.
func (in Input) charge(n int64) bool {
	return in.Budget.Charge(n)
}

// budgetFinding is the standard finding for a spent processing budget.
func budgetFinding(in Input) Finding {
	return Newf(KindResourceLimit, "processing budget exhausted after %d bytes", in.Budget.Used())
}

// Validator inspects content of the media types it declares and reports
// anomalies as findings. Implementations must be total: structural damage,
// hostile payloads and resource pressure become findings, never errors or
// panics. Long-running loops check ctx and the input budget at natural
// checkpoints and return what they have when either trips.
type Validator interface {
	// Name identifies the validator in logs and detail text.
	Name() string

	// MediaTypes lists the media types this validator claims. A nil list
	// marks a fallback validator.
	MediaTypes() []string

	// Validate inspects the input under the given limits.
	Validate(ctx context.Context, in Input, limits Limits) []Finding
}

// Registry routes media types to validators.
type Registry struct {
	byType   map[string]Validator
	fallback Validator
}

// NewRegistry returns an empty registry with the generic validator as
// fallback.
func NewRegistry() *Registry {
	return &Registry{
		byType:   make(map[string]Validator),
		fallback: GenericValidator{},
	}
}

// Register routes every media type the validator declares to it. Later
// registrations win on conflict.
func (r *Registry) Register(v Validator) {
	for _, mt := range v.MediaTypes() {
		r.byType[mt] = v
	}
}

// SetFallback replaces the validator used for unclaimed media types.
func (r *Registry) SetFallback(v Validator) {
	r.fallback = v
}

// ForMediaType returns the validator claiming mediaType, or the fallback.
func (r *Registry) ForMediaType(mediaType string) Validator {
	if v, ok := r.byType[mediaType]; ok {
		return v
	}
	return r.fallback
}

// Default returns a registry wired with the full validator set: PDF, image
// and archive validators plus the generic fallback.
func Default() *Registry {
	r := NewRegistry()
	r.Register(PDFValidator{})
	r.Register(ImageValidator{})
	r.Register(ArchiveValidator{})
	return r
}
