package validator

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"strings"
)

// errRatio halts decompression loops when observed expansion crosses the
// configured ratio. Like errBudget it never escapes a validator.
var errRatio = errors.New("expansion ratio exceeded")

// ArchiveValidator walks ZIP, gzip and tar containers without ever
// expanding them in full. Declared sizes are checked before any byte is
// decompressed; actual decompression (needed for nested archives) runs
// through the input budget so a lying header cannot buy unbounded work.
type ArchiveValidator struct{}

// Name identifies the validator.
func (ArchiveValidator) Name() string { return "archive" }

// MediaTypes lists the container types routed here. Office documents are
// ZIP containers and get the same bomb checks.
func (ArchiveValidator) MediaTypes() []string {
	return []string{
		"application/zip",
		"application/x-zip-compressed",
		"application/java-archive",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.oasis.opendocument.text",
		"application/gzip",
		"application/x-tar",
	}
}

// Validate inspects the sampled archive.
func (v ArchiveValidator) Validate(ctx context.Context, in Input, limits Limits) []Finding {
	w := &archiveWalk{in: in, limits: limits}

	switch in.MediaType {
	case "application/gzip":
		if in.Truncated {
			return []Finding{Newf(KindInconclusive,
				"sampled %d of %d bytes, stream footer unavailable", len(in.Data), in.Size)}
		}
		w.scanGzip(ctx, in.Data, 0)

	case "application/x-tar":
		w.scanTar(ctx, in.Data, 0)
		if in.Truncated {
			w.add(Newf(KindInconclusive,
				"sampled %d of %d bytes, remainder not examined", len(in.Data), in.Size))
		}

	default:
		// ZIP locates its central directory at the end of the stream, so a
		// truncated sample is unreadable rather than malformed.
		if in.Truncated {
			return []Finding{Newf(KindInconclusive,
				"sampled %d of %d bytes, central directory unavailable", len(in.Data), in.Size)}
		}
		w.scanZip(ctx, in.Data, 0)
	}

	return w.findings
}

// archiveWalk carries shared state across nested archive levels: findings,
// the nested archive count, and the halt flag set when a limit trips.
type archiveWalk struct {
	in       Input
	limits   Limits
	findings []Finding
	nested   int
	halted   bool
}

func (w *archiveWalk) add(f Finding) {
	w.findings = append(w.findings, f)
}

// halt records the finding and stops all further expansion.
func (w *archiveWalk) halt(f Finding) {
	w.add(f)
	w.halted = true
}

func (w *archiveWalk) scanZip(ctx context.Context, data []byte, depth int) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		if depth == 0 {
			w.add(Newf(KindMalformedStructure, "cannot open archive: %v", err))
		} else {
			w.add(Newf(KindMalformedStructure, "nested archive at depth %d unreadable: %v", depth, err))
		}
		return
	}

	var totalDeclared uint64
	entries := 0

	for _, f := range zr.File {
		if w.halted || ctx.Err() != nil {
			return
		}
		entries++
		if w.limits.MaxArchiveEntries > 0 && entries > w.limits.MaxArchiveEntries {
			w.halt(Newf(KindExcessiveEntries,
				"more than %d entries, expansion halted", w.limits.MaxArchiveEntries))
			return
		}

		if dangerousEntryPath(f.Name) {
			w.add(Newf(KindPathTraversal, "entry %q escapes the extraction root", f.Name))
		}
		if f.Mode()&fs.ModeSymlink != 0 {
			w.add(Newf(KindSymlinkEntry, "entry %q is a symbolic link", f.Name))
		}

		ratio := declaredRatio(f.UncompressedSize64, f.CompressedSize64)
		if w.limits.MaxExpansionRatio > 0 && ratio > w.limits.MaxExpansionRatio {
			w.halt(Newf(KindResourceLimit,
				"entry %q declares %s expansion (limit %.0f:1)",
				f.Name, ratioString(ratio), w.limits.MaxExpansionRatio).
				WithSeverity(SeverityCritical))
			return
		}

		totalDeclared += f.UncompressedSize64
		if !w.in.charge(clampInt64(f.UncompressedSize64)) {
			w.halt(budgetFinding(w.in))
			return
		}

		if isNestedArchiveName(f.Name) {
			if !w.enterNested(depth + 1) {
				return
			}
			w.recurseZipEntry(ctx, f, depth+1)
		}
	}

	// Entries can look harmless one by one and still multiply into a bomb.
	if totalDeclared > 0 && len(data) > 0 && w.limits.MaxExpansionRatio > 0 {
		total := float64(totalDeclared) / float64(len(data))
		if total > w.limits.MaxExpansionRatio {
			w.halt(Newf(KindResourceLimit,
				"archive declares %s aggregate expansion (limit %.0f:1)",
				ratioString(total), w.limits.MaxExpansionRatio).
				WithSeverity(SeverityCritical))
		}
	}
}

// enterNested accounts for one more nested archive and reports whether the
// walk may continue into it.
func (w *archiveWalk) enterNested(depth int) bool {
	w.nested++
	if w.limits.MaxNestedArchives > 0 && w.nested > w.limits.MaxNestedArchives {
		w.halt(Newf(KindNestedArchiveDepth,
			"more than %d nested archives", w.limits.MaxNestedArchives))
		return false
	}
	if w.limits.MaxArchiveDepth > 0 && depth > w.limits.MaxArchiveDepth {
		w.halt(Newf(KindNestedArchiveDepth,
			"nesting depth %d exceeds limit %d", depth, w.limits.MaxArchiveDepth))
		return false
	}
	return true
}

func (w *archiveWalk) recurseZipEntry(ctx context.Context, f *zip.File, depth int) {
	rc, err := f.Open()
	if err != nil {
		w.add(Newf(KindMalformedStructure, "nested archive %q unreadable: %v", f.Name, err))
		return
	}
	defer rc.Close()

	content, err := readAllMetered(ctx, rc, w.in.Budget)
	if err != nil {
		switch {
		case errors.Is(err, errBudget):
			w.halt(budgetFinding(w.in))
		case ctx.Err() != nil:
			// cooperative stop, the guard reports the deadline
		default:
			w.add(Newf(KindMalformedStructure, "nested archive %q unreadable: %v", f.Name, err))
		}
		return
	}
	w.descend(ctx, content, depth)
}

// descend routes decompressed nested content to the walker for its real
// container type. Content that merely carries an archive extension without
// being one is left alone.
func (w *archiveWalk) descend(ctx context.Context, content []byte, depth int) {
	switch Sniff(content).MediaType {
	case "application/zip", "application/x-zip-compressed", "application/java-archive",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.oasis.opendocument.text":
		w.scanZip(ctx, content, depth)
	case "application/gzip":
		w.scanGzip(ctx, content, depth)
	case "application/x-tar":
		w.scanTar(ctx, content, depth)
	}
}

func (w *archiveWalk) scanGzip(ctx context.Context, data []byte, depth int) {
	if len(data) < 18 { // header (10) + footer (8)
		w.add(Newf(KindMalformedStructure, "gzip stream too short"))
		return
	}

	// The footer declares the uncompressed size mod 2^32; a hostile header
	// can lie, so the meter below re-checks the ratio while inflating.
	isize := binary.LittleEndian.Uint32(data[len(data)-4:])
	declared := declaredRatio(uint64(isize), uint64(len(data)))
	if w.limits.MaxExpansionRatio > 0 && declared > w.limits.MaxExpansionRatio {
		w.halt(Newf(KindResourceLimit,
			"stream declares %s expansion (limit %.0f:1)",
			ratioString(declared), w.limits.MaxExpansionRatio).
			WithSeverity(SeverityCritical))
		return
	}

	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		w.add(Newf(KindMalformedStructure, "cannot open gzip stream: %v", err))
		return
	}
	defer zr.Close()

	content, err := readAllMeteredRatio(ctx, zr, w.in.Budget, int64(len(data)), w.limits.MaxExpansionRatio)
	if err != nil {
		switch {
		case errors.Is(err, errBudget):
			w.halt(budgetFinding(w.in))
		case errors.Is(err, errRatio):
			w.halt(Newf(KindResourceLimit,
				"expansion exceeded %.0f:1 while inflating", w.limits.MaxExpansionRatio).
				WithSeverity(SeverityCritical))
		case ctx.Err() != nil:
			// cooperative stop
		default:
			w.add(Newf(KindMalformedStructure, "gzip stream damaged: %v", err))
		}
		return
	}

	if isArchiveType(Sniff(content).MediaType) {
		if !w.enterNested(depth + 1) {
			return
		}
		w.descend(ctx, content, depth+1)
	}
}

func (w *archiveWalk) scanTar(ctx context.Context, data []byte, depth int) {
	tr := tar.NewReader(bytes.NewReader(data))
	entries := 0

	for {
		if w.halted || ctx.Err() != nil {
			return
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return
		}
		if err != nil {
			// A truncated sample is expected to cut mid-stream.
			if !w.in.Truncated {
				w.add(Newf(KindMalformedStructure,
					"tar stream damaged after %d entries: %v", entries, err))
			}
			return
		}

		entries++
		if w.limits.MaxArchiveEntries > 0 && entries > w.limits.MaxArchiveEntries {
			w.halt(Newf(KindExcessiveEntries,
				"more than %d entries, expansion halted", w.limits.MaxArchiveEntries))
			return
		}

		if dangerousEntryPath(hdr.Name) {
			w.add(Newf(KindPathTraversal, "entry %q escapes the extraction root", hdr.Name))
		}
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			w.add(Newf(KindSymlinkEntry, "entry %q is a symbolic link to %q", hdr.Name, hdr.Linkname))
		case tar.TypeLink:
			w.add(Newf(KindSymlinkEntry, "entry %q is a hard link to %q", hdr.Name, hdr.Linkname))
		}

		if !w.in.charge(hdr.Size) {
			w.halt(budgetFinding(w.in))
			return
		}

		if isNestedArchiveName(hdr.Name) && hdr.Typeflag == tar.TypeReg {
			if !w.enterNested(depth + 1) {
				return
			}
			content, err := readAllMetered(ctx, tr, w.in.Budget)
			if err != nil {
				if errors.Is(err, errBudget) {
					w.halt(budgetFinding(w.in))
				}
				return
			}
			w.descend(ctx, content, depth+1)
		}
	}
}

// readAllMetered drains r into memory in bounded chunks, charging the
// budget and observing ctx between chunks.
func readAllMetered(ctx context.Context, r io.Reader, b *Budget) ([]byte, error) {
	var out bytes.Buffer
	chunk := make([]byte, 32*KB)
	for {
		if err := ctx.Err(); err != nil {
			return out.Bytes(), err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if !b.Charge(int64(n)) {
				return out.Bytes(), errBudget
			}
			out.Write(chunk[:n])
		}
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
	}
}

// readAllMeteredRatio is readAllMetered with a running expansion check
// against the compressed input size.
func readAllMeteredRatio(ctx context.Context, r io.Reader, b *Budget, compressed int64, maxRatio float64) ([]byte, error) {
	var out bytes.Buffer
	chunk := make([]byte, 32*KB)
	for {
		if err := ctx.Err(); err != nil {
			return out.Bytes(), err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			if !b.Charge(int64(n)) {
				return out.Bytes(), errBudget
			}
			out.Write(chunk[:n])
			if maxRatio > 0 && compressed > 0 {
				if float64(out.Len())/float64(compressed) > maxRatio {
					return out.Bytes(), errRatio
				}
			}
		}
		if err == io.EOF {
			return out.Bytes(), nil
		}
		if err != nil {
			return out.Bytes(), err
		}
	}
}

// nestedArchiveExtensions are the entry name suffixes that trigger nested
// inspection.
var nestedArchiveExtensions = []string{".zip", ".jar", ".war", ".ear", ".gz", ".tgz", ".tar"}

// isNestedArchiveName checks if an entry name indicates a nested archive.
func isNestedArchiveName(name string) bool {
	lower := strings.ToLower(name)
	for _, ext := range nestedArchiveExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// isArchiveType reports whether mediaType is a container the walker can
// descend into.
func isArchiveType(mediaType string) bool {
	switch mediaType {
	case "application/zip", "application/x-zip-compressed", "application/java-archive",
		"application/gzip", "application/x-tar":
		return true
	}
	return false
}

// dangerousEntryPath checks for entry names that would escape the
// extraction root: absolute paths, drive or UNC prefixes, and any ".."
// segment.
func dangerousEntryPath(name string) bool {
	if isAbsoluteEntryPath(name) {
		return true
	}
	normalized := strings.ReplaceAll(name, `\`, "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == ".." {
			return true
		}
	}
	return false
}

// isAbsoluteEntryPath checks Unix, Windows drive and UNC style roots.
func isAbsoluteEntryPath(path string) bool {
	if len(path) > 0 && (path[0] == '/' || path[0] == '\\') {
		return true
	}
	if len(path) > 2 && path[1] == ':' && (path[2] == '\\' || path[2] == '/') {
		return true
	}
	return false
}

// declaredRatio computes uncompressed/compressed; an entry claiming output
// from zero input rates as unbounded.
func declaredRatio(uncompressed, compressed uint64) float64 {
	if compressed == 0 {
		if uncompressed == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return float64(uncompressed) / float64(compressed)
}

// ratioString renders a ratio for detail text.
func ratioString(ratio float64) string {
	if math.IsInf(ratio, 1) {
		return "unbounded"
	}
	return fmt.Sprintf("%.0f:1", ratio)
}

// clampInt64 narrows a hostile uint64 size field without overflow.
func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}
