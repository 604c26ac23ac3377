package validator

import (
	"mime"
	"strings"
)

// extensionMediaTypes maps common file extensions to the media type their
// name claims. Used to cross-check declared identity against sniffed
// content; the stdlib mime database fills the long tail.
var extensionMediaTypes = map[string]string{
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".webp":  "image/webp",
	".bmp":   "image/bmp",
	".tif":   "image/tiff",
	".tiff":  "image/tiff",
	".ico":   "image/x-icon",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".jar":   "application/java-archive",
	".war":   "application/java-archive",
	".gz":    "application/gzip",
	".tgz":   "application/gzip",
	".tar":   "application/x-tar",
	".rar":   "application/x-rar-compressed",
	".7z":    "application/x-7z-compressed",
	".bz2":   "application/x-bzip2",
	".xz":    "application/x-xz",
	".docx":  "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx":  "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx":  "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":   "application/vnd.oasis.opendocument.text",
	".txt":   "text/plain",
	".csv":   "text/csv",
	".html":  "text/html",
	".htm":   "text/html",
	".xml":   "application/xml",
	".json":  "application/json",
	".sh":    "text/x-shellscript",
	".exe":   "application/x-msdownload",
	".dll":   "application/x-msdownload",
	".so":    "application/x-executable",
	".wasm":  "application/wasm",
	".class": "application/java-vm",
}

// MediaTypeForExtension returns the media type an extension claims, or ""
// when the extension carries no known claim. The extension may be given
// with or without its leading dot.
func MediaTypeForExtension(ext string) string {
	if ext == "" {
		return ""
	}
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if mt, ok := extensionMediaTypes[ext]; ok {
		return mt
	}
	mt := mime.TypeByExtension(ext)
	if idx := strings.Index(mt, ";"); idx > 0 {
		mt = mt[:idx]
	}
	return strings.TrimSpace(mt)
}

// mediaTypeAliases groups types that name the same underlying container,
// so a declared member never counts as a mismatch against a sniffed one.
var mediaTypeAliases = [][]string{
	{"image/jpeg", "image/jpg", "image/pjpeg"},
	{"application/pdf", "application/x-pdf", "application/vnd.pdf"},
	{
		"application/zip",
		"application/x-zip-compressed",
		"application/java-archive",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation",
		"application/vnd.oasis.opendocument.text",
	},
	{"application/gzip", "application/x-gzip"},
	{"application/x-msdownload", "application/x-dosexec", "application/x-msdos-program"},
}

// Compatible reports whether a declared media type is consistent with the
// sniffed one. An empty or unknown declaration is a non-claim and never
// mismatches; text subtypes are treated leniently because text heuristics
// are imprecise.
func Compatible(declared, sniffed string) bool {
	declared = strings.ToLower(strings.TrimSpace(declared))
	sniffed = strings.ToLower(strings.TrimSpace(sniffed))
	if declared == "" || declared == UnknownMediaType {
		return true
	}
	if declared == sniffed {
		return true
	}
	if textish(declared) && textish(sniffed) {
		return true
	}
	for _, group := range mediaTypeAliases {
		if containsType(group, declared) && containsType(group, sniffed) {
			return true
		}
	}
	return false
}

func containsType(group []string, mediaType string) bool {
	for _, t := range group {
		if t == mediaType {
			return true
		}
	}
	return false
}

// textish covers types whose content sniffs as generic text, where the
// heuristic cannot tell subtypes apart.
func textish(mediaType string) bool {
	switch mediaType {
	case "application/json", "application/xml", "application/javascript",
		"application/x-javascript", "image/svg+xml":
		return true
	}
	return strings.HasPrefix(mediaType, "text/")
}
