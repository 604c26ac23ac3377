package validator

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func encodeGIF(t *testing.T, frames int) []byte {
	t.Helper()
	pal := color.Palette{color.White, color.Black}
	g := &gif.GIF{}
	for i := 0; i < frames; i++ {
		g.Image = append(g.Image, image.NewPaletted(image.Rect(0, 0, 8, 8), pal))
		g.Delay = append(g.Delay, 0)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		t.Fatalf("encode gif: %v", err)
	}
	return buf.Bytes()
}

func imageInput(data []byte, mediaType string) Input {
	return Input{
		Name:      "img",
		Data:      data,
		Size:      int64(len(data)),
		MediaType: mediaType,
	}
}

func TestImageValidatorClean(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		mediaType string
	}{
		{"png", nil, "image/png"},
		{"jpeg", nil, "image/jpeg"},
		{"gif", nil, "image/gif"},
	}
	tests[0].data = encodePNG(t, 4, 4)
	tests[1].data = encodeJPEG(t, 4, 4)
	tests[2].data = encodeGIF(t, 1)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ImageValidator{}.Validate(context.Background(),
				imageInput(tt.data, tt.mediaType), DefaultLimits())
			if len(got) != 0 {
				t.Errorf("clean image produced findings: %v", got)
			}
		})
	}
}

func TestImageValidatorTrailingData(t *testing.T) {
	tests := []struct {
		name      string
		base      []byte
		mediaType string
		trailing  []byte
		wantKinds []Kind
	}{
		{
			name:      "png with appended random payload",
			base:      encodePNG(t, 4, 4),
			mediaType: "image/png",
			trailing:  uniformBytes(4096),
			wantKinds: []Kind{KindTrailingData, KindHighEntropyRegion},
		},
		{
			name:      "jpeg with appended random payload",
			base:      encodeJPEG(t, 4, 4),
			mediaType: "image/jpeg",
			trailing:  uniformBytes(4096),
			wantKinds: []Kind{KindTrailingData, KindHighEntropyRegion},
		},
		{
			name:      "png with appended zeros",
			base:      encodePNG(t, 4, 4),
			mediaType: "image/png",
			trailing:  bytes.Repeat([]byte{0}, 2048),
			wantKinds: []Kind{KindTrailingData},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(append([]byte{}, tt.base...), tt.trailing...)
			got := ImageValidator{}.Validate(context.Background(),
				imageInput(data, tt.mediaType), DefaultLimits())

			if len(got) != len(tt.wantKinds) {
				t.Fatalf("findings = %v, want kinds %v", got, tt.wantKinds)
			}
			for i, want := range tt.wantKinds {
				if got[i].Kind != want {
					t.Errorf("finding[%d] = %s, want %s", i, got[i].Kind, want)
				}
			}
		})
	}
}

func TestImageValidatorMalformed(t *testing.T) {
	data := append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, []byte("garbage")...)
	got := ImageValidator{}.Validate(context.Background(),
		imageInput(data, "image/png"), DefaultLimits())

	if len(got) != 1 || got[0].Kind != KindMalformedStructure {
		t.Errorf("findings = %v, want single malformed-structure", got)
	}
}

func TestImageValidatorInconclusiveFormats(t *testing.T) {
	// No structural decoder is registered for BMP; the validator must say
	// so rather than call the file malformed.
	got := ImageValidator{}.Validate(context.Background(),
		imageInput([]byte("BM\x3E\x00\x00\x00"), "image/bmp"), DefaultLimits())

	if len(got) != 1 || got[0].Kind != KindInconclusive {
		t.Errorf("findings = %v, want single validator-inconclusive", got)
	}
}

func TestImageValidatorPixelBomb(t *testing.T) {
	// 65535x65535 in the logical screen descriptor, one byte of trailer.
	bomb := append([]byte("GIF89a"), 0xFF, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x00, 0x3B)

	got := ImageValidator{}.Validate(context.Background(),
		imageInput(bomb, "image/gif"), DefaultLimits())

	if len(got) != 1 || got[0].Kind != KindResourceLimit {
		t.Fatalf("findings = %v, want single resource-limit-exceeded", got)
	}
	if got[0].Severity != SeverityCritical {
		t.Errorf("severity = %v, want critical", got[0].Severity)
	}
}

func TestImageValidatorFrameFlood(t *testing.T) {
	limits := DefaultLimits()
	limits.MaxImageFrames = 3

	got := ImageValidator{}.Validate(context.Background(),
		imageInput(encodeGIF(t, 5), "image/gif"), limits)

	if !hasKind(got, KindExcessiveFrames) {
		t.Errorf("expected excessive-frames for 5 frames over limit 3, got %v", got)
	}
}

func TestImageValidatorDimensionMismatch(t *testing.T) {
	// A 4x4 image whose file weighs in far beyond its raw pixel buffer.
	data := append(encodePNG(t, 4, 4), bytes.Repeat([]byte{0}, 100*KB)...)

	got := ImageValidator{}.Validate(context.Background(),
		imageInput(data, "image/png"), DefaultLimits())

	if !hasKind(got, KindDimensionMismatch) {
		t.Errorf("expected dimension-mismatch, got %v", got)
	}
	if !hasKind(got, KindTrailingData) {
		t.Errorf("expected trailing-data alongside, got %v", got)
	}
}

func TestImageValidatorTruncatedSample(t *testing.T) {
	full := encodePNG(t, 4, 4)
	in := imageInput(full[:36], "image/png") // signature plus IHDR
	in.Size = int64(len(full))
	in.Truncated = true

	got := ImageValidator{}.Validate(context.Background(), in, DefaultLimits())
	if len(got) != 1 || got[0].Kind != KindInconclusive {
		t.Errorf("findings = %v, want single validator-inconclusive", got)
	}
}

func TestImageValidatorBudgetExhaustion(t *testing.T) {
	in := imageInput(encodePNG(t, 4, 4), "image/png")
	in.Budget = NewBudget(10)

	got := ImageValidator{}.Validate(context.Background(), in, DefaultLimits())
	if len(got) != 1 || got[0].Kind != KindResourceLimit {
		t.Errorf("findings = %v, want single resource-limit-exceeded", got)
	}
}

func TestJPEGEndWalk(t *testing.T) {
	data := encodeJPEG(t, 16, 16)
	if got := jpegEnd(data); got != len(data) {
		t.Errorf("jpegEnd = %d, want %d", got, len(data))
	}
	if got := jpegEnd(data[:len(data)-2]); got != -1 {
		t.Errorf("jpegEnd on stream without EOI = %d, want -1", got)
	}
	if got := jpegEnd([]byte{0x00, 0x01, 0x02, 0x03}); got != -1 {
		t.Errorf("jpegEnd on non-jpeg = %d, want -1", got)
	}
}

func TestPNGEndWalk(t *testing.T) {
	data := encodePNG(t, 16, 16)
	if got := pngEnd(data); got != len(data) {
		t.Errorf("pngEnd = %d, want %d", got, len(data))
	}
	if got := pngEnd(data[:len(data)-4]); got != -1 {
		t.Errorf("pngEnd on damaged chunk stream = %d, want -1", got)
	}
}

func TestGIFScanWalk(t *testing.T) {
	data := encodeGIF(t, 3)
	frames, end, ok := gifScan(data)
	if !ok {
		t.Fatal("gifScan failed on encoder output")
	}
	if frames != 3 {
		t.Errorf("frames = %d, want 3", frames)
	}
	if end != len(data) {
		t.Errorf("end = %d, want %d", end, len(data))
	}
}
