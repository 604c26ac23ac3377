// Package guardfile decides whether untrusted file content is safe to
// accept. It inspects bytes, never executes them: each input is sniffed for
// its real media type, hashed, validated for structural anomalies under
// hard resource ceilings, and then judged by a deterministic rule policy.
//
// The pipeline is total by construction. Malformed or hostile content
// produces findings and a warn or deny decision; only an unreadable input
// (open or read failure) is an operational error. Identical bytes always
// yield the identical decision under the same policy.
//
// # Basic Usage
//
//	engine, err := guardfile.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx := context.Background()
//	report := engine.Scan(ctx, guardfile.FileInput("upload.pdf"))
//
//	fmt.Println(report.MediaType)        // sniffed, never trusted from the name
//	fmt.Println(report.Decision.Outcome) // allow, warn or deny
//	for _, f := range report.Findings {
//	    fmt.Printf("%s: %s\n", f.Kind, f.Detail)
//	}
//
// Batch runs use a fixed worker pool and emit reports in input order:
//
//	inputs := []guardfile.Input{
//	    guardfile.FileInput("a.png"),
//	    guardfile.FileInput("b.zip"),
//	}
//	summary, err := engine.Run(ctx, inputs, func(r *guardfile.FileReport) {
//	    writer.Write(r)
//	})
//	fmt.Println(summary)
//	os.Exit(guardfile.ExitCode(summary, engine.Policy().Defaults.FailOn))
//
// # Policies
//
// Decisions come from YAML policy documents. A rule binds a predicate over
// the sniffed media type, size, digest and validator findings to an
// outcome. Every rule is evaluated against every file; the worst matching
// outcome wins and ties break on the smallest rule identifier, so
// evaluation order never changes a decision:
//
//	version: 1
//	defaults:
//	  max_size_mb: 25
//	  decision: allow
//	  fail_on: deny
//	rules:
//	  deny-executables:
//	    outcome: deny
//	    match:
//	      media_types: ["application/x-*executable*"]
//	  warn-bombs:
//	    outcome: warn
//	    match:
//	      finding_kinds: [resource-limit-exceeded]
//
// Load a base policy plus site overrides with [LoadPolicy]. Later documents
// replace rules wholly by identifier and merge defaults and limits field by
// field. [DefaultPolicy] supplies a protective baseline when no document is
// given.
//
// # Validators
//
// Validators live in the validator subpackage and are routed by sniffed
// media type. The built-in set covers PDF documents, PNG/JPEG/GIF images
// and zip, gzip and tar archives, with a generic fallback for everything
// else. Validators are total: damage, hostile payloads and resource
// pressure become findings, never errors or panics.
//
// # Error Handling
//
// The package surfaces failures through sentinel errors and typed wrappers:
//
//	policy, err := guardfile.LoadPolicy("policy.yml")
//	if guardfile.IsInvalidPolicy(err) {
//	    // every defect in the document is reported, not just the first
//	}
//
//	var perr *guardfile.PolicyError
//	if errors.As(err, &perr) {
//	    fmt.Printf("rule %s, field %s\n", perr.Rule, perr.Field)
//	}
//
// # Configuration
//
// The engine can be configured via environment variables with the
// BEAVER_GUARDFILE_ prefix, or programmatically via options:
//
//	engine, err := guardfile.NewFromEnv(logger)
//
//	engine, err := guardfile.New(
//	    guardfile.WithPolicy(policy),
//	    guardfile.WithDigestAlgorithm(guardfile.AlgorithmBLAKE2b),
//	    guardfile.WithWorkers(8),
//	)
package guardfile
