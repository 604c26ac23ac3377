package validator

import (
	"bytes"
	"context"
)

var (
	pdfHeader  = []byte("%PDF-")
	pdfTrailer = []byte("%%EOF")
)

// PDFValidator checks PDF structural health and flags risky constructs:
// script actions, embedded file trees, object floods and cascaded stream
// filters. It works at byte-scan level and never interprets the object
// graph, so damaged cross-reference tables cannot take it down.
type PDFValidator struct{}

// Name identifies the validator.
func (PDFValidator) Name() string { return "pdf" }

// MediaTypes lists the PDF media type aliases.
func (PDFValidator) MediaTypes() []string {
	return []string{
		"application/pdf",
		"application/x-pdf",
		"application/vnd.pdf",
	}
}

// Validate inspects the sampled document.
func (v PDFValidator) Validate(ctx context.Context, in Input, limits Limits) []Finding {
	var findings []Finding
	data := in.Data

	if !in.charge(int64(len(data))) {
		return append(findings, budgetFinding(in))
	}

	if !bytes.HasPrefix(data, pdfHeader) {
		// Nothing below applies to a stream that is not a PDF at all.
		return append(findings, Newf(KindMalformedStructure, "missing %%PDF- header"))
	}

	// Trailer and cross-reference checks need the end of the document.
	if in.Truncated {
		findings = append(findings, Newf(KindInconclusive,
			"sampled %d of %d bytes, trailer not examined", len(data), in.Size))
	} else {
		tail := data
		if len(tail) > 1*KB {
			tail = tail[len(tail)-1*KB:]
		}
		if !bytes.Contains(tail, pdfTrailer) {
			findings = append(findings, Newf(KindMalformedStructure, "missing %%EOF trailer"))
		}
		if !bytes.Contains(data, []byte("startxref")) && !hasNameToken(data, []byte("/XRef")) {
			findings = append(findings, Newf(KindMalformedStructure, "no cross-reference section"))
		}
	}

	if ctx.Err() != nil {
		return findings
	}

	// Name scans run over a lowercased copy; charge for the extra pass.
	if !in.charge(int64(len(data))) {
		return append(findings, budgetFinding(in))
	}
	lower := bytes.ToLower(data)

	if hasNameToken(lower, []byte("/javascript")) || hasNameToken(lower, []byte("/js")) {
		findings = append(findings, Newf(KindActiveContent, "JavaScript action object"))
	}
	if hasNameToken(lower, []byte("/launch")) {
		findings = append(findings, Newf(KindActiveContent, "Launch action object"))
	}
	if hasNameToken(lower, []byte("/embeddedfiles")) {
		findings = append(findings, Newf(KindEmbeddedFiles, "embedded file tree present"))
	}

	if ctx.Err() != nil {
		return findings
	}

	if limits.MaxPDFObjects > 0 {
		if objects := bytes.Count(data, []byte(" obj")); objects > limits.MaxPDFObjects {
			findings = append(findings, Newf(KindExcessiveObjects,
				"%d indirect objects (limit %d)", objects, limits.MaxPDFObjects))
		}
	}

	findings = append(findings, scanFilterChains(lower, limits.MaxFilterChain)...)

	return findings
}

// isPDFDelim reports whether b terminates a PDF name token.
func isPDFDelim(b byte) bool {
	switch b {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20, '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// hasNameToken reports whether data contains name as a complete PDF name
// token; "/JS" must not fire on "/JSON".
func hasNameToken(data, name []byte) bool {
	for i := 0; ; {
		j := bytes.Index(data[i:], name)
		if j < 0 {
			return false
		}
		end := i + j + len(name)
		if end >= len(data) || isPDFDelim(data[end]) {
			return true
		}
		i = i + j + len(name)
	}
}

// scanFilterChains inspects /Filter entries for cascades that could hide
// unbounded decompression work. lower must be lowercased input.
func scanFilterChains(lower []byte, maxChain int) []Finding {
	if maxChain <= 0 {
		return nil
	}

	key := []byte("/filter")
	longest := 0
	repeated := ""

	for i := 0; ; {
		j := bytes.Index(lower[i:], key)
		if j < 0 {
			break
		}
		pos := i + j + len(key)
		i = pos

		// Skip whitespace between the key and its value.
		for pos < len(lower) && (lower[pos] == ' ' || lower[pos] == '\n' || lower[pos] == '\r' || lower[pos] == '\t') {
			pos++
		}
		if pos >= len(lower) || lower[pos] != '[' {
			continue // single filter, nothing to cascade
		}

		names, rep := parseFilterArray(lower[pos:])
		if names > longest {
			longest = names
		}
		if rep != "" && repeated == "" {
			repeated = rep
		}
	}

	var findings []Finding
	if longest > maxChain {
		findings = append(findings, Newf(KindSuspiciousFilterChain,
			"stream declares %d cascaded filters (limit %d)", longest, maxChain))
	}
	if repeated != "" {
		findings = append(findings, Newf(KindSuspiciousFilterChain,
			"decode filter %s repeated within one chain", repeated))
	}
	return findings
}

// parseFilterArray counts filter names inside a bracketed array starting at
// data[0] == '['. The scan is bounded so a hostile unterminated array
// cannot stall it.
func parseFilterArray(data []byte) (count int, repeated string) {
	const maxScan = 512
	limit := len(data)
	if limit > maxScan {
		limit = maxScan
	}

	seen := map[string]bool{}
	for i := 1; i < limit; i++ {
		switch {
		case data[i] == ']':
			return count, repeated
		case data[i] == '/':
			start := i + 1
			end := start
			for end < limit && !isPDFDelim(data[end]) {
				end++
			}
			name := string(data[start:end])
			if name != "" {
				count++
				if seen[name] && repeated == "" {
					repeated = "/" + name
				}
				seen[name] = true
			}
			i = end - 1
		}
	}
	return count, repeated
}
