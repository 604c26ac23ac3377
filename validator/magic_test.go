package validator

import (
	"bytes"
	"testing"
)

func TestSniff(t *testing.T) {
	tarBuf := make([]byte, 512)
	copy(tarBuf, "file.txt")
	copy(tarBuf[257:], "ustar")

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "application/octet-stream"},
		{"png", []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00}, "image/png"},
		{"jpeg", []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46}, "image/jpeg"},
		{"gif", []byte("GIF89a\x01\x00\x01\x00"), "image/gif"},
		{"webp", []byte("RIFF\x24\x00\x00\x00WEBPVP8 "), "image/webp"},
		{"wav", []byte("RIFF\x24\x00\x00\x00WAVEfmt "), "audio/wav"},
		{"avi", []byte("RIFF\x24\x00\x00\x00AVI LIST"), "video/x-msvideo"},
		{"pdf", []byte("%PDF-1.7\n%\xE2\xE3\xCF\xD3"), "application/pdf"},
		{"zip", []byte("PK\x03\x04\x14\x00\x00\x00\x08\x00data"), "application/zip"},
		{"docx", append([]byte("PK\x03\x04\x14\x00"), []byte("[Content_Types].xml word/document.xml")...),
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
		{"xlsx", append([]byte("PK\x03\x04\x14\x00"), []byte("xl/workbook.xml")...),
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
		{"jar", append([]byte("PK\x03\x04\x14\x00"), []byte("META-INF/MANIFEST.MF")...),
			"application/java-archive"},
		{"gzip", []byte{0x1F, 0x8B, 0x08, 0x00, 0x00, 0x00, 0x00, 0x00}, "application/gzip"},
		{"tar", tarBuf, "application/x-tar"},
		{"7z", []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C, 0x00, 0x04}, "application/x-7z-compressed"},
		{"elf", []byte{0x7F, 'E', 'L', 'F', 0x02, 0x01, 0x01, 0x00}, "application/x-executable"},
		{"pe", []byte("MZ\x90\x00\x03\x00\x00\x00"), "application/x-msdownload"},
		{"mach-o", []byte{0xCF, 0xFA, 0xED, 0xFE, 0x07, 0x00, 0x00, 0x01}, "application/x-mach-binary"},
		{"java class", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x34}, "application/java-vm"},
		{"fat mach-o", []byte{0xCA, 0xFE, 0xBA, 0xBE, 0x00, 0x00, 0x00, 0x02}, "application/x-mach-binary"},
		{"wasm", []byte{0x00, 'a', 's', 'm', 0x01, 0x00, 0x00, 0x00}, "application/wasm"},
		{"shell script", []byte("#!/bin/sh\necho hi\n"), "text/x-shellscript"},
		{"xml", []byte("<?xml version=\"1.0\"?><root/>"), "application/xml"},
		{"html", []byte("<!DOCTYPE html><html><body></body></html>"), "text/html"},
		{"mp4", []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00"), "video/mp4"},
		{"m4a", []byte("\x00\x00\x00\x18ftypM4A \x00\x00\x02\x00"), "audio/mp4"},
		{"plain text", []byte("nothing but ordinary prose here"), "text/plain"},
		{"binary junk", []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08}, "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det := Sniff(tt.data)
			if det.MediaType != tt.want {
				t.Errorf("Sniff() media type = %q, want %q", det.MediaType, tt.want)
			}
		})
	}
}

func TestSniffSignatureEvidence(t *testing.T) {
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0xFF, 0xFF}
	det := Sniff(png)
	if !bytes.Equal(det.Signature, png[:8]) {
		t.Errorf("Signature = % X, want first 8 bytes", det.Signature)
	}

	short := Sniff([]byte("ab"))
	if !bytes.Equal(short.Signature, []byte("ab")) {
		t.Errorf("short input Signature = % X, want input itself", short.Signature)
	}

	if got := Sniff(nil).Signature; got != nil {
		t.Errorf("empty input Signature = % X, want nil", got)
	}
}

func TestIsExecutable(t *testing.T) {
	tests := []struct {
		mediaType string
		want      bool
	}{
		{"application/x-executable", true},
		{"application/x-msdownload", true},
		{"application/java-vm", true},
		{"text/x-shellscript", true},
		{"application/pdf", false},
		{"image/png", false},
	}

	for _, tt := range tests {
		if got := IsExecutable(tt.mediaType); got != tt.want {
			t.Errorf("IsExecutable(%q) = %v, want %v", tt.mediaType, got, tt.want)
		}
	}
}

func TestExecutableTypesCopy(t *testing.T) {
	list := ExecutableTypes()
	if len(list) == 0 {
		t.Fatal("expected non-empty list")
	}
	list[0] = "mutated"
	if ExecutableTypes()[0] == "mutated" {
		t.Error("ExecutableTypes must return a copy")
	}
}
