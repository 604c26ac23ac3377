package validator

import "context"

// GenericValidator handles media types no dedicated validator claims. It
// knows nothing about internal structure, so its only check is the size
// ceiling.
type GenericValidator struct{}

// Name identifies the validator.
func (GenericValidator) Name() string { return "generic" }

// MediaTypes returns nil: the generic validator is the fallback.
func (GenericValidator) MediaTypes() []string { return nil }

// Validate flags inputs above the configured size ceiling.
func (GenericValidator) Validate(_ context.Context, in Input, limits Limits) []Finding {
	if limits.MaxFileBytes > 0 && in.Size > limits.MaxFileBytes {
		return []Finding{Newf(KindOversized, "size %d bytes exceeds ceiling %d", in.Size, limits.MaxFileBytes)}
	}
	return nil
}
