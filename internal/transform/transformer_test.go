package transform

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/snapfind/snapfind/internal/fetch"
)

// encodeTestJpeg builds a solid-color jpeg of the given dimensions.
func encodeTestJpeg(t *testing.T, w, h int, c color.Color) []byte {

	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("failed to encode test jpeg: %v", err)
	}

	return buf.Bytes()
}

// encodeTestPng builds a solid-color png of the given dimensions.
func encodeTestPng(t *testing.T, w, h int, c color.Color) []byte {

	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode test png: %v", err)
	}

	return buf.Bytes()
}

func TestTransformResizesToLongEdge(t *testing.T) {

	transformer := NewTransformer()

	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    encodeTestJpeg(t, 2048, 1024, color.White),
	}

	result, err := transformer.Transform(asset, DefaultSpec(nil))
	if err != nil {
		t.Fatalf("expected transform to succeed, got %v", err)
	}

	if result.Width != 1024 || result.Height != 512 {
		t.Errorf("expected 1024x512 output, got %dx%d", result.Width, result.Height)
	}

	if result.ContentType != "image/jpeg" {
		t.Errorf("expected jpeg output, got '%s'", result.ContentType)
	}

	if result.OriginalSize != int64(len(asset.Bytes)) {
		t.Errorf("expected original size %d, got %d", len(asset.Bytes), result.OriginalSize)
	}

	if result.ProcessedSize != int64(len(result.Bytes)) {
		t.Errorf("expected processed size %d, got %d", len(result.Bytes), result.ProcessedSize)
	}

	decoded, _, err := image.Decode(bytes.NewReader(result.Bytes))
	if err != nil {
		t.Fatalf("expected output to decode, got %v", err)
	}

	if decoded.Bounds().Dx() != 1024 || decoded.Bounds().Dy() != 512 {
		t.Errorf("expected decoded output 1024x512, got %dx%d", decoded.Bounds().Dx(), decoded.Bounds().Dy())
	}
}

func TestTransformNeverUpscales(t *testing.T) {

	transformer := NewTransformer()

	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    encodeTestJpeg(t, 640, 480, color.White),
	}

	result, err := transformer.Transform(asset, DefaultSpec(nil))
	if err != nil {
		t.Fatalf("expected transform to succeed, got %v", err)
	}

	if result.Width != 640 || result.Height != 480 {
		t.Errorf("expected dimensions to be preserved at 640x480, got %dx%d", result.Width, result.Height)
	}
}

func TestTransformPngConvertsToJpeg(t *testing.T) {

	transformer := NewTransformer()

	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    encodeTestPng(t, 800, 600, color.White),
	}

	result, err := transformer.Transform(asset, DefaultSpec(nil))
	if err != nil {
		t.Fatalf("expected transform to succeed, got %v", err)
	}

	_, format, err := image.Decode(bytes.NewReader(result.Bytes))
	if err != nil {
		t.Fatalf("expected output to decode, got %v", err)
	}

	if format != "jpeg" {
		t.Errorf("expected jpeg output format, got '%s'", format)
	}
}

func TestTransformDecodeError(t *testing.T) {

	transformer := NewTransformer()

	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    []byte("this is not an image"),
	}

	_, err := transformer.Transform(asset, DefaultSpec(nil))

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError, got %v", err)
	}

	if decodeErr.SourceId != "item-1" {
		t.Errorf("expected source id 'item-1', got '%s'", decodeErr.SourceId)
	}
}

func TestTransformWatermark(t *testing.T) {

	transformer := NewTransformer()

	// white 2400x1600 frame with a black square logo
	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    encodeTestJpeg(t, 2400, 1600, color.White),
	}

	spec := DefaultSpec(&WatermarkSpec{
		LogoBytes: encodeTestPng(t, 200, 200, color.Black),
	})

	result, err := transformer.Transform(asset, spec)
	if err != nil {
		t.Fatalf("expected watermarked transform to succeed, got %v", err)
	}

	if result.Width != 1024 {
		t.Fatalf("expected resized width 1024, got %d", result.Width)
	}

	decoded, _, err := image.Decode(bytes.NewReader(result.Bytes))
	if err != nil {
		t.Fatalf("expected output to decode, got %v", err)
	}

	// the logo's placement in the resized frame: recompute the same way
	placement := WatermarkPlacement(2400, 1600, 200, 200).Scale(2400, 1600, result.Width, result.Height)

	// a pixel at the placement center must be dark, one at top-right untouched
	r1, g1, b1, _ := decoded.At(placement.X+placement.Width/2, placement.Y+placement.Height/2).RGBA()
	if r1>>8 > 100 || g1>>8 > 100 || b1>>8 > 100 {
		t.Errorf("expected dark logo pixel at placement center, got rgb(%d,%d,%d)", r1>>8, g1>>8, b1>>8)
	}

	r2, _, _, _ := decoded.At(result.Width-10, 10).RGBA()
	if r2>>8 < 200 {
		t.Errorf("expected untouched white pixel at top-right, got r=%d", r2>>8)
	}
}

func TestTransformBadLogoDegrades(t *testing.T) {

	transformer := NewTransformer()

	asset := &fetch.FetchedAsset{
		SourceId: "item-1",
		Bytes:    encodeTestJpeg(t, 800, 600, color.White),
	}

	spec := DefaultSpec(&WatermarkSpec{LogoBytes: []byte("not a logo")})

	// a bad logo must degrade to a plain resize, never fail the item
	result, err := transformer.Transform(asset, spec)
	if err != nil {
		t.Fatalf("expected bad logo to degrade to plain resize, got %v", err)
	}

	if result.Width != 800 || result.Height != 600 {
		t.Errorf("expected 800x600 output, got %dx%d", result.Width, result.Height)
	}
}
