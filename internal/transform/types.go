package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	"github.com/rwcarlsen/goexif/exif"

	redraw "golang.org/x/image/draw"
)

const (
	// server-side processed variants
	DefaultMaxEdge     int = 1024
	DefaultJpegQuality int = 90

	// client-side pre-compression before upload
	PrecompressMaxEdge     int = 2048
	PrecompressJpegQuality int = 80
)

// WatermarkSpec describes an optional corner-anchored logo composite.
type WatermarkSpec struct {
	LogoBytes []byte
}

// TransformSpec describes the target size and encoding for a processed image.
type TransformSpec struct {
	MaxEdge   int
	Quality   int
	Watermark *WatermarkSpec
}

// DefaultSpec returns the server-side processing spec, optionally watermarked.
func DefaultSpec(wm *WatermarkSpec) TransformSpec {
	return TransformSpec{
		MaxEdge:   DefaultMaxEdge,
		Quality:   DefaultJpegQuality,
		Watermark: wm,
	}
}

// PrecompressSpec returns the client-side pre-compression spec used when the
// ingest surface is asked to shrink oversized direct uploads before the full
// pipeline run.
func PrecompressSpec() TransformSpec {
	return TransformSpec{
		MaxEdge: PrecompressMaxEdge,
		Quality: PrecompressJpegQuality,
	}
}

// Placement is a logo position and size in image pixel coordinates.
type Placement struct {
	X      int
	Y      int
	Width  int
	Height int
}

// logo sizing tiers, keyed by the image's shorter dimension. Each tier has a
// fraction of the shorter dimension and a pixel floor; the result is then
// capped at 35% of the longer dimension.
const maxLogoFractionOfLongEdge = 0.35

type tier struct {
	below    int // tier applies while minDim < below
	fraction float64
	floor    int
}

var logoTiers = []tier{
	{below: 800, fraction: 0.20, floor: 160},
	{below: 1600, fraction: 0.18, floor: 200},
	{below: 3000, fraction: 0.16, floor: 300},
	{below: math.MaxInt, fraction: 0.14, floor: 400},
}

var paddingTiers = []tier{
	{below: 800, fraction: 0.05, floor: 30},
	{below: 1600, fraction: 0.055, floor: 40},
	{below: 3000, fraction: 0.06, floor: 50},
	{below: math.MaxInt, fraction: 0.065, floor: 60},
}

// tierValue picks the tier for minDim and returns max(floor, floor(minDim*fraction)).
func tierValue(tiers []tier, minDim int) int {

	for _, t := range tiers {
		if minDim < t.below {
			v := int(math.Floor(float64(minDim) * t.fraction))
			if v < t.floor {
				v = t.floor
			}
			return v
		}
	}

	return 0 // unreachable: the last tier is unbounded
}

// LogoEdge returns the target logo edge length for an image of the given
// dimensions: the tier value for the shorter dimension, capped at 35% of the
// longer dimension.
func LogoEdge(width, height int) int {

	minDim, maxDim := width, height
	if minDim > maxDim {
		minDim, maxDim = maxDim, minDim
	}

	edge := tierValue(logoTiers, minDim)

	if bound := int(math.Floor(float64(maxDim) * maxLogoFractionOfLongEdge)); edge > bound {
		edge = bound
	}

	return edge
}

// Padding returns the corner padding for an image of the given dimensions.
func Padding(width, height int) int {

	minDim := width
	if height < minDim {
		minDim = height
	}

	return tierValue(paddingTiers, minDim)
}

// WatermarkPlacement computes the logo placement for an image, anchored
// bottom-left, from the image's pre-resize dimensions and the logo's intrinsic
// dimensions. The logo keeps its own aspect ratio within the computed edge.
func WatermarkPlacement(imgWidth, imgHeight, logoWidth, logoHeight int) Placement {

	edge := LogoEdge(imgWidth, imgHeight)
	padding := Padding(imgWidth, imgHeight)

	// fit the logo into the edge length preserving its aspect ratio
	aspect := float64(logoWidth) / float64(logoHeight)

	var w, h int
	if aspect > 1 {
		w = edge
		h = int(math.Floor(float64(edge) / aspect))
	} else {
		h = edge
		w = int(math.Floor(float64(edge) * aspect))
	}

	return Placement{
		X:      padding,
		Y:      imgHeight - h - padding,
		Width:  w,
		Height: h,
	}
}

// Scale rescales the placement from the original frame into the resized frame.
// The composite happens after the resize, so all four coordinates are scaled
// linearly rather than recomputed from the resized dimensions.
func (p Placement) Scale(origWidth, origHeight, finalWidth, finalHeight int) Placement {

	sx := float64(finalWidth) / float64(origWidth)
	sy := float64(finalHeight) / float64(origHeight)

	return Placement{
		X:      int(math.Floor(float64(p.X) * sx)),
		Y:      int(math.Floor(float64(p.Y) * sy)),
		Width:  int(math.Floor(float64(p.Width) * sx)),
		Height: int(math.Floor(float64(p.Height) * sy)),
	}
}

// readOrientation reads the EXIF orientation from the raw image bytes and
// returns the clockwise rotation in degrees. Missing or unreadable exif data
// is not an error; most pngs and many jpegs carry none.
func readOrientation(raw []byte) int {

	x, err := exif.Decode(bytes.NewReader(raw))
	if err != nil || x == nil {
		return 0
	}

	tag, err := x.Get(exif.Orientation)
	if err != nil || tag == nil {
		return 0
	}

	orientation, err := tag.Int(0)
	if err != nil {
		return 0
	}

	return orientationToDegrees(orientation)
}

// orientationToDegrees converts EXIF orientation values to rotation in degrees.
func orientationToDegrees(orientation int) int {
	// exif orientation -> rotation (clockwise).
	// mirror cases map to equivalent rotations here.
	switch orientation {
	case 1: // normal
		return 0
	case 2: // mirror horizontal
		return 0
	case 3: // rotate 180
		return 180
	case 4: // mirror vertical
		return 180
	case 5: // mirror horizontal + rotate 270 clockwise
		return 270
	case 6: // rotate 90 clockwise
		return 90
	case 7: // mirror horizontal + rotate 90 clockwise
		return 90
	case 8: // rotate 270 clockwise
		return 270
	default:
		return 0
	}
}

// rotateImage rotates an image based on the provided rotation in degrees.
func rotateImage(src image.Image, degrees int) image.Image {
	switch ((degrees % 360) + 360) % 360 { // normalize degrees to [0, 360) -> accounts for negative degrees
	case 0:
		return src // no rotation needed
	case 90:
		return rotate90(src)
	case 180:
		return rotate180(src)
	case 270:
		return rotate270(src)
	default:
		return src // unsupported rotation, return original
	}
}

// rotate90 is a helper function to rotate an image 90 degrees clockwise.
func rotate90(src image.Image) image.Image {

	// get image bounds
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(h-1-y, x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	return dst
}

// rotate180 is a helper function to rotate an image 180 degrees.
func rotate180(src image.Image) image.Image {

	// get image bounds
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(w-1-x, h-1-y, src.At(bounds.Min.X+x, bounds.Min.Y+y))
		}
	}

	return dst
}

// rotate270 is a helper function to rotate an image 270 degrees clockwise.
func rotate270(src image.Image) image.Image {

	// get image bounds
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	dst := image.NewRGBA(image.Rect(0, 0, h, w))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dst.Set(y, w-1-x, src.At(b.Min.X+x, b.Min.Y+y))
		}
	}

	return dst
}

// resizeToLongEdge resizes an image so its longer edge is at most maxEdge,
// maintaining aspect ratio and never upscaling.
func resizeToLongEdge(src image.Image, maxEdge int) image.Image {

	// validate max edge
	if maxEdge <= 0 {
		return src // return original image if invalid target
	}

	// get original dimensions
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return src // return original image if invalid dimensions
	}

	longest := w
	if h > w {
		longest = h
	}

	// validate resizing is necessary
	if longest <= maxEdge {
		return src // return original image if already within the target edge
	}

	// calculate the new width and height to maintain aspect ratio
	scale := float64(maxEdge) / float64(longest)
	dstWidth := int(math.Round(float64(w) * scale))
	dstHeight := int(math.Round(float64(h) * scale))

	// create a new image with the new dimensions
	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	redraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, redraw.Over, nil)

	return dst
}

// resizeLogoTo resizes the logo to the exact placement dimensions.
func resizeLogoTo(logo image.Image, width, height int) image.Image {

	if width <= 0 || height <= 0 {
		return logo
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	redraw.CatmullRom.Scale(dst, dst.Bounds(), logo, logo.Bounds(), redraw.Over, nil)

	return dst
}

// encodeToJpeg encodes the provided image to JPEG format with the specified
// quality and returns the encoded bytes.
func encodeToJpeg(src image.Image, quality int) ([]byte, error) {

	// validate quality
	if quality < 1 || quality > 100 {
		quality = DefaultJpegQuality // set to default if invalid
	}

	// check if image has an alpha channel
	if hasAlphaChannel(src) {
		// flatten the image on a white background to remove transparency
		src = flattenOnWhite(src)
	}

	// encode the image to JPEG format
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode image to JPEG: %v", err)
	}

	return buf.Bytes(), nil
}

// hasAlphaChannel checks if the provided image has an alpha channel
func hasAlphaChannel(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	default:
		// treat images without the above as not having an alpha channel by default
		return false
	}
}

// flattenOnWhite flattens an image with an alpha channel onto a white background, ie,
// it removes transparency by compositing the image over a white canvas.
func flattenOnWhite(src image.Image) image.Image {

	// get image bounds
	bounds := src.Bounds()

	dst := image.NewRGBA(bounds)

	// fill white into the destination image
	draw.Draw(dst, bounds, &image.Uniform{C: image.White}, image.Point{}, draw.Src)

	// composite the source image over the white background
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)

	return dst
}

// toDrawable returns the image as a mutable RGBA canvas, copying if needed.
func toDrawable(src image.Image) *image.RGBA {

	if rgba, ok := src.(*image.RGBA); ok {
		return rgba
	}

	bounds := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)

	return dst
}
