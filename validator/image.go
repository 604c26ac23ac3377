package validator

import (
	"bytes"
	"context"
	"encoding/binary"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
)

// ImageValidator verifies that image headers decode, that declared
// dimensions stay inside the pixel budget, and that no payload rides after
// the structural end of the encoded stream. Trailing regions are entropy
// profiled; the encoded body itself is not, because compressed image data
// legitimately sits near 8 bits per byte.
type ImageValidator struct{}

// Name identifies the validator.
func (ImageValidator) Name() string { return "image" }

// MediaTypes lists the image types routed here.
func (ImageValidator) MediaTypes() []string {
	return []string{
		"image/jpeg",
		"image/png",
		"image/gif",
		"image/webp",
		"image/bmp",
		"image/tiff",
	}
}

// decodableFormats are the formats with a registered header decoder.
var decodableFormats = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
}

// Validate inspects the sampled image.
func (v ImageValidator) Validate(ctx context.Context, in Input, limits Limits) []Finding {
	var findings []Finding
	data := in.Data

	if !in.charge(int64(len(data))) {
		return append(findings, budgetFinding(in))
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if !decodableFormats[in.MediaType] {
			return append(findings, Newf(KindInconclusive,
				"no structural decoder for %s", in.MediaType))
		}
		return append(findings, Newf(KindMalformedStructure, "cannot decode header: %v", err))
	}

	pixels := int64(cfg.Width) * int64(cfg.Height)
	if limits.MaxPixels > 0 && pixels > limits.MaxPixels {
		findings = append(findings, Newf(KindResourceLimit,
			"%dx%d pixels would decode to %d (limit %d)", cfg.Width, cfg.Height, pixels, limits.MaxPixels).
			WithSeverity(SeverityCritical))
	}

	if ctx.Err() != nil {
		return findings
	}

	if in.Truncated {
		findings = append(findings, Newf(KindInconclusive,
			"sampled %d of %d bytes, trailing bytes not examined", len(data), in.Size))
		return findings
	}

	// An encoded image much larger than its raw pixel buffer is carrying
	// something besides pixels.
	if raw := pixels * 4; raw > 0 {
		envelope := raw + raw/2 + 64*KB
		if in.Size > envelope {
			findings = append(findings, Newf(KindDimensionMismatch,
				"size %d bytes far exceeds %dx%d pixel payload", in.Size, cfg.Width, cfg.Height))
		}
	}

	var frames int
	end := -1
	switch format {
	case "jpeg":
		end = jpegEnd(data)
	case "png":
		end = pngEnd(data)
	case "gif":
		var ok bool
		frames, end, ok = gifScan(data)
		if !ok {
			end = -1
		}
	}

	if limits.MaxImageFrames > 0 && frames > limits.MaxImageFrames {
		findings = append(findings, Newf(KindExcessiveFrames,
			"%d animation frames (limit %d)", frames, limits.MaxImageFrames))
	}

	if end >= 0 && end < len(data) {
		trailing := data[end:]
		findings = append(findings, Newf(KindTrailingData,
			"%d bytes after structural end at offset %d", len(trailing), end))

		if !in.charge(int64(len(trailing))) {
			return append(findings, budgetFinding(in))
		}
		if flagged := FlagWindows(trailing, limits.EntropyWindow, limits.EntropyThreshold); len(flagged) > 0 {
			first := flagged[0]
			findings = append(findings, Newf(KindHighEntropyRegion,
				"%d windows above %.2f bits/byte, first at offset %d (%.2f)",
				len(flagged), limits.EntropyThreshold, end+first.Offset, first.Entropy))
		}
	}

	return findings
}

// jpegEnd walks JPEG markers and returns the offset just past the EOI
// marker, or -1 when the stream never terminates cleanly.
func jpegEnd(data []byte) int {
	if len(data) < 4 || data[0] != 0xFF || data[1] != 0xD8 {
		return -1
	}
	pos := 2
	for pos+1 < len(data) {
		if data[pos] != 0xFF {
			return -1
		}
		marker := data[pos+1]
		switch {
		case marker == 0xFF: // fill byte
			pos++
		case marker == 0xD9: // EOI
			return pos + 2
		case marker == 0x01 || (marker >= 0xD0 && marker <= 0xD8): // standalone
			pos += 2
		case marker == 0xDA: // SOS: entropy-coded data until the next real marker
			idx := pos + 2
			for idx+1 < len(data) {
				if data[idx] == 0xFF && data[idx+1] != 0x00 &&
					!(data[idx+1] >= 0xD0 && data[idx+1] <= 0xD7) {
					break
				}
				idx++
			}
			if idx+1 >= len(data) {
				return -1
			}
			pos = idx
		default:
			if pos+4 > len(data) {
				return -1
			}
			length := int(binary.BigEndian.Uint16(data[pos+2 : pos+4]))
			pos += 2 + length
		}
	}
	return -1
}

// pngEnd walks PNG chunks and returns the offset just past the IEND chunk,
// or -1 when the chunk stream is damaged.
func pngEnd(data []byte) int {
	const sigLen = 8
	pos := sigLen
	for pos+8 <= len(data) {
		length := int(binary.BigEndian.Uint32(data[pos : pos+4]))
		next := pos + 8 + length + 4 // header + payload + CRC
		if length < 0 || next > len(data) {
			return -1
		}
		if bytes.Equal(data[pos+4:pos+8], []byte("IEND")) {
			return next
		}
		pos = next
	}
	return -1
}

// gifScan walks GIF blocks counting image frames and locating the trailer.
func gifScan(data []byte) (frames, end int, ok bool) {
	if len(data) < 13 {
		return 0, -1, false
	}
	pos := 6 // header
	packed := data[pos+4]
	pos += 7 // logical screen descriptor
	if packed&0x80 != 0 {
		pos += 3 * (1 << ((packed & 0x07) + 1)) // global color table
	}

	for pos < len(data) {
		switch data[pos] {
		case 0x3B: // trailer
			return frames, pos + 1, true
		case 0x2C: // image descriptor
			frames++
			if pos+10 > len(data) {
				return frames, -1, false
			}
			local := data[pos+9]
			pos += 10
			if local&0x80 != 0 {
				pos += 3 * (1 << ((local & 0x07) + 1))
			}
			pos++ // LZW minimum code size
			var skipped bool
			pos, skipped = skipSubBlocks(data, pos)
			if !skipped {
				return frames, -1, false
			}
		case 0x21: // extension
			pos += 2 // introducer + label
			var skipped bool
			pos, skipped = skipSubBlocks(data, pos)
			if !skipped {
				return frames, -1, false
			}
		default:
			return frames, -1, false
		}
	}
	return frames, -1, false
}

// skipSubBlocks advances past a GIF sub-block sequence ending in a zero
// length block.
func skipSubBlocks(data []byte, pos int) (int, bool) {
	for pos < len(data) {
		size := int(data[pos])
		pos++
		if size == 0 {
			return pos, true
		}
		pos += size
	}
	return pos, false
}
