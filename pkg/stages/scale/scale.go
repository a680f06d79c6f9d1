// Package scale implements the scaler stage: aspect-preserving resize of
// frames to a target width.
package scale

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/user/vidcompress/pkg/pipeline"
)

// TargetHeight returns round(height * targetWidth / width).
func TargetHeight(width, height, targetWidth int) int {
	if width <= 0 {
		return 0
	}
	return int(math.Round(float64(height) * float64(targetWidth) / float64(width)))
}

// Scaler resizes frames to a fixed target width. Output rasters are pooled
// and returned to the pool when the output frame is released.
type Scaler struct {
	targetWidth int
	filter      pipeline.ScaleFilter

	pool sync.Pool
}

// New creates a Scaler for targetWidth using filter.
func New(targetWidth int, filter pipeline.ScaleFilter) (*Scaler, error) {
	if targetWidth <= 0 {
		return nil, fmt.Errorf("scale: invalid target width %d", targetWidth)
	}
	switch filter {
	case "":
		filter = pipeline.FilterCatmullRom
	case pipeline.FilterCatmullRom, pipeline.FilterBilinear, pipeline.FilterLanczos:
	default:
		return nil, fmt.Errorf("scale: unknown filter %q", filter)
	}
	return &Scaler{targetWidth: targetWidth, filter: filter}, nil
}

// TargetWidth returns the configured output width.
func (s *Scaler) TargetWidth() int {
	return s.targetWidth
}

// OutputSize returns the output dimensions for a width x height source.
func (s *Scaler) OutputSize(width, height int) (int, int) {
	return s.targetWidth, TargetHeight(width, height, s.targetWidth)
}

// Scale resizes frame. The input frame is not modified or released and the
// timestamp is carried over unchanged.
func (s *Scaler) Scale(frame *pipeline.Frame) (*pipeline.Frame, error) {
	if frame == nil || frame.Released() || frame.Image == nil {
		return nil, pipeline.ErrFrameReleased
	}

	w, h := s.OutputSize(frame.Width(), frame.Height())
	if h <= 0 {
		return nil, fmt.Errorf("scale: %dx%d source yields empty output", frame.Width(), frame.Height())
	}

	dst := s.buffer(w, h)
	src := frame.Image
	switch s.filter {
	case pipeline.FilterLanczos:
		// imaging returns non-premultiplied NRGBA.
		resized := imaging.Resize(src, w, h, imaging.Lanczos)
		draw.Draw(dst, dst.Bounds(), resized, image.Point{}, draw.Src)
	case pipeline.FilterBilinear:
		draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	default:
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}

	return pipeline.NewFrame(dst, frame.Index, frame.TimestampUs, &s.pool), nil
}

// Execute implements pipeline.Stage. The input frame is released once the
// scaled frame has been produced.
func (s *Scaler) Execute(ctx context.Context, frame *pipeline.Frame) (*pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := s.Scale(frame)
	if err != nil {
		return nil, err
	}
	frame.Release()
	return out, nil
}

func (s *Scaler) buffer(w, h int) *image.RGBA {
	if v := s.pool.Get(); v != nil {
		img := v.(*image.RGBA)
		if img.Bounds().Dx() == w && img.Bounds().Dy() == h {
			return img
		}
	}
	return image.NewRGBA(image.Rect(0, 0, w, h))
}

// Scale resizes frame to targetWidth with the default filter.
func Scale(frame *pipeline.Frame, targetWidth int) (*pipeline.Frame, error) {
	s, err := New(targetWidth, pipeline.FilterCatmullRom)
	if err != nil {
		return nil, err
	}
	return s.Scale(frame)
}

var _ pipeline.Stage[*pipeline.Frame, *pipeline.Frame] = (*Scaler)(nil)
