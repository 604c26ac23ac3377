// Package validator identifies and inspects untrusted byte content,
// reporting anomalies as findings instead of errors.
//
// The package has three layers:
//
//   - Sniffing: Sniff maps leading bytes to a media type using an ordered
//     magic signature table with container refinement (Office documents,
//     RIFF, ftyp brands) and an http.DetectContentType fallback. Sniffing
//     is total: anything unrecognized becomes application/octet-stream.
//
//   - Validators: per-type inspectors (PDF, image, archive, generic
//     fallback) implementing the Validator interface. A validator never
//     returns an error and never panics by contract; structural damage,
//     hostile payloads and resource pressure all surface as Findings with
//     a kind, a severity, and human-readable detail.
//
//   - Resource accounting: Limits carries the numeric ceilings (expansion
//     ratio, nesting depth, entry counts, pixel budgets, entropy
//     thresholds) and Budget meters cumulative bytes processed, counting
//     decompressed output as work. Validators check both at loop
//     checkpoints and stop early with what they found so far.
//
// # Inspecting content
//
//	det := validator.Sniff(data)
//	reg := validator.Default()
//	v := reg.ForMediaType(det.MediaType)
//
//	findings := v.Validate(ctx, validator.Input{
//	    Name:      "upload.pdf",
//	    Data:      data,
//	    Size:      int64(len(data)),
//	    MediaType: det.MediaType,
//	    Budget:    validator.NewBudget(256 * validator.MB),
//	}, validator.DefaultLimits())
//
// Findings carry everything a policy layer needs to decide the file's
// fate; this package itself never judges, it only observes.
//
// # Bomb containment
//
// Archive walking never fully expands content. Declared entry sizes are
// checked against the expansion ratio before any decompression; nested
// archives are inflated through the budget meter so lying headers cannot
// buy unbounded memory; entry counts and nesting depth abort expansion the
// moment a ceiling is crossed.
package validator
