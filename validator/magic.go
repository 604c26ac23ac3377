package validator

import (
	"bytes"
	"encoding/binary"
	"net/http"
	"strings"
)

// UnknownMediaType is the token assigned when no signature or heuristic
// identifies the content. Sniffing is total: every input maps to some type.
const UnknownMediaType = "application/octet-stream"

// Detection is the outcome of content sniffing.
type Detection struct {
	// MediaType is the identified type, UnknownMediaType when nothing
	// matched.
	MediaType string

	// Signature holds the leading bytes of the input (at most 8), kept for
	// report evidence.
	Signature []byte
}

// magicSignature defines one file type signature.
type magicSignature struct {
	mediaType string
	offset    int // offset from start of file
	magic     []byte
}

// magicSignatures contains file signatures for media type detection,
// ordered by specificity (most specific first).
var magicSignatures = []magicSignature{
	// Images
	{mediaType: "image/jpeg", offset: 0, magic: []byte{0xFF, 0xD8, 0xFF}},
	{mediaType: "image/png", offset: 0, magic: []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}},
	{mediaType: "image/gif", offset: 0, magic: []byte("GIF87a")},
	{mediaType: "image/gif", offset: 0, magic: []byte("GIF89a")},
	{mediaType: "image/webp", offset: 8, magic: []byte("WEBP")}, // after RIFF header
	{mediaType: "image/bmp", offset: 0, magic: []byte("BM")},
	{mediaType: "image/tiff", offset: 0, magic: []byte{0x49, 0x49, 0x2A, 0x00}}, // little endian
	{mediaType: "image/tiff", offset: 0, magic: []byte{0x4D, 0x4D, 0x00, 0x2A}}, // big endian
	{mediaType: "image/x-icon", offset: 0, magic: []byte{0x00, 0x00, 0x01, 0x00}},
	{mediaType: "image/heic", offset: 4, magic: []byte("ftypheic")},
	{mediaType: "image/avif", offset: 4, magic: []byte("ftypavif")},

	// Documents
	{mediaType: "application/pdf", offset: 0, magic: []byte("%PDF-")},

	// Archives - ZIP-based. Office documents and JAR share the container;
	// refineDetection narrows them by probing the early directory content.
	{mediaType: "application/zip", offset: 0, magic: []byte{0x50, 0x4B, 0x03, 0x04}},
	{mediaType: "application/zip", offset: 0, magic: []byte{0x50, 0x4B, 0x05, 0x06}}, // empty ZIP
	{mediaType: "application/zip", offset: 0, magic: []byte{0x50, 0x4B, 0x07, 0x08}}, // spanned ZIP

	// Archives - other
	{mediaType: "application/gzip", offset: 0, magic: []byte{0x1F, 0x8B}},
	{mediaType: "application/x-tar", offset: 257, magic: []byte("ustar")}, // POSIX tar
	{mediaType: "application/x-rar-compressed", offset: 0, magic: []byte("Rar!\x1a\x07\x00")},
	{mediaType: "application/x-rar-compressed", offset: 0, magic: []byte("Rar!\x1a\x07\x01\x00")}, // RAR5
	{mediaType: "application/x-7z-compressed", offset: 0, magic: []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}},
	{mediaType: "application/x-bzip2", offset: 0, magic: []byte("BZh")},
	{mediaType: "application/x-xz", offset: 0, magic: []byte{0xFD, '7', 'z', 'X', 'Z', 0x00}},

	// Media containers (kept for RIFF/ftyp refinement)
	{mediaType: "audio/wav", offset: 0, magic: []byte("RIFF")},
	{mediaType: "video/mp4", offset: 4, magic: []byte("ftyp")},
	{mediaType: "video/webm", offset: 0, magic: []byte{0x1A, 0x45, 0xDF, 0xA3}},
	{mediaType: "audio/ogg", offset: 0, magic: []byte("OggS")},
	{mediaType: "audio/flac", offset: 0, magic: []byte("fLaC")},

	// Executables and bytecode
	{mediaType: "application/x-msdownload", offset: 0, magic: []byte("MZ")},                    // EXE/DLL
	{mediaType: "application/x-mach-binary", offset: 0, magic: []byte{0xCF, 0xFA, 0xED, 0xFE}}, // Mach-O 64-bit
	{mediaType: "application/x-mach-binary", offset: 0, magic: []byte{0xCE, 0xFA, 0xED, 0xFE}}, // Mach-O 32-bit
	{mediaType: "application/x-executable", offset: 0, magic: []byte{0x7F, 'E', 'L', 'F'}},     // ELF
	{mediaType: "application/java-vm", offset: 0, magic: []byte{0xCA, 0xFE, 0xBA, 0xBE}},       // class or fat Mach-O
	{mediaType: "application/wasm", offset: 0, magic: []byte{0x00, 'a', 's', 'm'}},
	{mediaType: "text/x-shellscript", offset: 0, magic: []byte("#!")},

	// Text/data
	{mediaType: "application/xml", offset: 0, magic: []byte("<?xml")},
	{mediaType: "text/html", offset: 0, magic: []byte("<!DOCTYPE html")},
	{mediaType: "text/html", offset: 0, magic: []byte("<!doctype html")},
	{mediaType: "text/html", offset: 0, magic: []byte("<html")},
}

// Sniff identifies the real media type of data from its content. It is
// total: unknown or empty input maps to UnknownMediaType, and no input can
// make it fail.
func Sniff(data []byte) Detection {
	det := Detection{MediaType: UnknownMediaType, Signature: leading(data, 8)}
	if len(data) == 0 {
		return det
	}

	if mt := detectByMagic(data); mt != "" {
		det.MediaType = refineDetection(data, mt)
		return det
	}

	// Heuristic fallback keeps text-ish content identifiable.
	contentType := http.DetectContentType(data)
	if idx := strings.Index(contentType, ";"); idx > 0 {
		contentType = contentType[:idx]
	}
	det.MediaType = strings.TrimSpace(contentType)
	return det
}

// detectByMagic checks data against known magic signatures.
func detectByMagic(data []byte) string {
	for _, sig := range magicSignatures {
		if sig.offset+len(sig.magic) > len(data) {
			continue
		}
		if bytes.Equal(data[sig.offset:sig.offset+len(sig.magic)], sig.magic) {
			return sig.mediaType
		}
	}
	return ""
}

// refineDetection handles cases where multiple formats share magic bytes.
func refineDetection(data []byte, initial string) string {
	switch initial {
	case "audio/wav":
		// RIFF container - the actual format sits at offset 8
		if len(data) >= 12 {
			switch string(data[8:12]) {
			case "WAVE":
				return "audio/wav"
			case "AVI ":
				return "video/x-msvideo"
			case "WEBP":
				return "image/webp"
			}
		}
		return initial

	case "application/zip":
		// Office and JAR containers carry telltale member names near the
		// start of the archive.
		probe := data
		if len(probe) > 4*KB {
			probe = probe[:4*KB]
		}
		switch {
		case bytes.Contains(probe, []byte("[Content_Types]")) && bytes.Contains(probe, []byte("word/")):
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case bytes.Contains(probe, []byte("xl/")):
			return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		case bytes.Contains(probe, []byte("ppt/")):
			return "application/vnd.openxmlformats-officedocument.presentationml.presentation"
		case bytes.Contains(probe, []byte("[Content_Types]")):
			return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
		case bytes.Contains(probe, []byte("META-INF/")):
			return "application/java-archive"
		case bytes.Contains(probe, []byte("mimetypeapplication/vnd.oasis.opendocument")):
			return "application/vnd.oasis.opendocument.text"
		}
		return initial

	case "video/mp4":
		if len(data) >= 12 {
			switch string(data[8:12]) {
			case "M4A ":
				return "audio/mp4"
			case "qt  ":
				return "video/quicktime"
			case "3gp4", "3gp5", "3gp6":
				return "video/3gpp"
			}
		}
		return initial

	case "application/java-vm":
		// 0xCAFEBABE is shared with fat Mach-O binaries; class files carry
		// a major version >= 45 in bytes 6..8 (big endian).
		if len(data) >= 8 {
			if major := binary.BigEndian.Uint16(data[6:8]); major < 45 {
				return "application/x-mach-binary"
			}
		}
		return initial

	default:
		return initial
	}
}

// executableTypes are the media types the sniffer assigns to native
// executables and bytecode containers.
var executableTypes = []string{
	"application/x-executable",
	"application/x-msdownload",
	"application/x-mach-binary",
	"application/java-vm",
	"application/wasm",
	"text/x-shellscript",
}

// ExecutableTypes lists the media types treated as executable content.
func ExecutableTypes() []string {
	out := make([]string, len(executableTypes))
	copy(out, executableTypes)
	return out
}

// IsExecutable reports whether mediaType names executable content.
func IsExecutable(mediaType string) bool {
	for _, t := range executableTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// leading returns the first n bytes of data (fewer when data is shorter).
func leading(data []byte, n int) []byte {
	if len(data) < n {
		n = len(data)
	}
	if n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, data[:n])
	return out
}
