package transform

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"log/slog"

	// register decoders for the formats the pipeline accepts
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/snapfind/snapfind/internal/fetch"
	"github.com/snapfind/snapfind/internal/util"
)

// DecodeError is returned when the source bytes are not a decodable image.
// It is never retried; it surfaces as an item-level failure.
type DecodeError struct {
	SourceId string
	Err      error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode image for item '%s': %v", e.SourceId, e.Err)
}

// Unwrap exposes the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Result is the output of one transform: the processed bytes plus the byte
// lengths of both forms for batch aggregation.
type Result struct {
	Bytes         []byte
	ContentType   string
	OriginalSize  int64
	ProcessedSize int64
	Width         int
	Height        int
}

// Transformer is the interface for decoding, resizing, optionally
// watermarking, and re-encoding one fetched asset.
type Transformer interface {

	// Transform processes the asset per the spec. A watermark whose logo is
	// missing degrades to a plain resize; undecodable source bytes fail with
	// a DecodeError.
	Transform(asset *fetch.FetchedAsset, spec TransformSpec) (*Result, error)
}

// NewTransformer creates a new image transformer, returning a pointer to the
// concrete implementation.
func NewTransformer() Transformer {
	return &imageTransformer{
		logger: slog.Default().
			With(slog.String(util.PackageKey, util.PackageTransform)).
			With(slog.String(util.ComponentKey, util.ComponentTransformer)).
			With(slog.String(util.ServiceKey, util.ServiceIngest)),
	}
}

var _ Transformer = (*imageTransformer)(nil)

// imageTransformer is the concrete implementation of the Transformer interface.
type imageTransformer struct {
	logger *slog.Logger
}

// Transform is the concrete implementation of the interface method which
// decodes, resizes, optionally watermarks, and re-encodes the asset.
func (t *imageTransformer) Transform(asset *fetch.FetchedAsset, spec TransformSpec) (*Result, error) {

	src, _, err := image.Decode(bytes.NewReader(asset.Bytes))
	if err != nil {
		return nil, &DecodeError{SourceId: asset.SourceId, Err: err}
	}

	// apply exif orientation before any dimension math so phone photos
	// come out upright and placement sees the true frame
	src = rotateImage(src, readOrientation(asset.Bytes))

	origBounds := src.Bounds()
	origWidth, origHeight := origBounds.Dx(), origBounds.Dy()

	resized := resizeToLongEdge(src, spec.MaxEdge)
	finalBounds := resized.Bounds()
	finalWidth, finalHeight := finalBounds.Dx(), finalBounds.Dy()

	if spec.Watermark != nil && len(spec.Watermark.LogoBytes) > 0 {

		composited, err := t.composite(resized, spec.Watermark.LogoBytes, origWidth, origHeight, finalWidth, finalHeight)
		if err != nil {
			// a bad logo degrades to a plain resize, never an item failure
			t.logger.Warn(fmt.Sprintf("skipping watermark for item '%s': %v", asset.SourceId, err))
		} else {
			resized = composited
		}
	}

	encoded, err := encodeToJpeg(resized, spec.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode processed image for item '%s': %v", asset.SourceId, err)
	}

	return &Result{
		Bytes:         encoded,
		ContentType:   "image/jpeg",
		OriginalSize:  int64(len(asset.Bytes)),
		ProcessedSize: int64(len(encoded)),
		Width:         finalWidth,
		Height:        finalHeight,
	}, nil
}

// composite decodes the logo, computes its placement from the pre-resize
// dimensions, rescales the placement into the resized frame, and alpha-blends
// the logo onto the image.
func (t *imageTransformer) composite(img image.Image, logoBytes []byte, origWidth, origHeight, finalWidth, finalHeight int) (image.Image, error) {

	logo, _, err := image.Decode(bytes.NewReader(logoBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to decode logo: %v", err)
	}

	logoBounds := logo.Bounds()
	if logoBounds.Dx() <= 0 || logoBounds.Dy() <= 0 {
		return nil, fmt.Errorf("logo has empty dimensions")
	}

	placement := WatermarkPlacement(origWidth, origHeight, logoBounds.Dx(), logoBounds.Dy()).
		Scale(origWidth, origHeight, finalWidth, finalHeight)

	if placement.Width <= 0 || placement.Height <= 0 {
		return nil, fmt.Errorf("computed logo placement is empty for %dx%d image", origWidth, origHeight)
	}

	scaledLogo := resizeLogoTo(logo, placement.Width, placement.Height)

	dst := toDrawable(img)
	rect := image.Rect(placement.X, placement.Y, placement.X+placement.Width, placement.Y+placement.Height)
	draw.Draw(dst, rect, scaledLogo, image.Point{}, draw.Over)

	return dst, nil
}
