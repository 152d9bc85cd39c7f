// Package video wraps OpenCV video decode behind a small frame-source
// interface. This is one of the two gocv edges of the pipeline (the other
// is the clip compositor); everything between them works on plain pixel
// grids.
package video

import (
	"fmt"
	"image"
	"io"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/flarelab/papiscan/internal/pixel"
)

// Meta describes an opened video.
type Meta struct {
	FrameCount int
	FPS        float64
	Width      int
	Height     int
}

// Frame is one decoded video frame, already converted to pixel planes.
type Frame struct {
	Index int
	Grid  *pixel.Grid
}

// Source reads a video file sequentially. It is not safe for concurrent
// use; one session owns one source.
type Source struct {
	path    string
	capture *gocv.VideoCapture
	mat     gocv.Mat
	meta    Meta
	next    int
	logger  *slog.Logger
}

// SourceOption configures a Source.
type SourceOption func(*Source)

// WithLogger sets the logger for the source.
func WithLogger(logger *slog.Logger) SourceOption {
	return func(s *Source) {
		s.logger = logger.With(slog.String("video", s.path))
	}
}

// Open opens a video file and reads its metadata. An unreadable or empty
// file is an input error: the caller fails the whole session.
func Open(path string, options ...SourceOption) (*Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening video %s: %w", path, err)
	}

	meta := Meta{
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		FPS:        capture.Get(gocv.VideoCaptureFPS),
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if meta.FrameCount <= 0 || meta.FPS <= 0 || meta.Width <= 0 || meta.Height <= 0 {
		_ = capture.Close()
		return nil, fmt.Errorf("video %s has no readable frames (frames=%d fps=%.2f size=%dx%d)",
			path, meta.FrameCount, meta.FPS, meta.Width, meta.Height)
	}

	s := &Source{
		path:    path,
		capture: capture,
		mat:     gocv.NewMat(),
		meta:    meta,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, option := range options {
		option(s)
	}

	s.logger.Info("opened video",
		slog.Int("frames", meta.FrameCount),
		slog.Float64("fps", meta.FPS),
		slog.String("size", fmt.Sprintf("%dx%d", meta.Width, meta.Height)))
	return s, nil
}

// Meta returns the video metadata.
func (s *Source) Meta() Meta { return s.meta }

// Next decodes and returns the next frame. io.EOF signals the end of the
// video; any other error is a decode failure mid-stream.
func (s *Source) Next() (*Frame, error) {
	if s.next >= s.meta.FrameCount {
		return nil, io.EOF
	}
	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		// Containers routinely overstate their frame count by a few
		// frames; a short read at the very end is an EOF, not a failure.
		if s.next >= s.meta.FrameCount-2 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("decoding frame %d of %s", s.next, s.path)
	}

	grid, err := gridFromMat(&s.mat)
	if err != nil {
		return nil, fmt.Errorf("converting frame %d: %w", s.next, err)
	}

	frame := &Frame{Index: s.next, Grid: grid}
	s.next++
	return frame, nil
}

// Close releases the decoder.
func (s *Source) Close() error {
	if err := s.mat.Close(); err != nil {
		return err
	}
	return s.capture.Close()
}

// gridFromMat converts a BGR Mat into pixel planes.
func gridFromMat(mat *gocv.Mat) (*pixel.Grid, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, err
	}
	return GridFromImage(img)
}

// GridFromImage converts a decoded image into pixel planes.
func GridFromImage(img image.Image) (*pixel.Grid, error) {
	bounds := img.Bounds()
	grid, err := pixel.NewGrid(bounds.Dx(), bounds.Dy())
	if err != nil {
		return nil, err
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			grid.SetRGB(x-bounds.Min.X, y-bounds.Min.Y,
				float64(r>>8), float64(g>>8), float64(b>>8))
		}
	}
	return grid, nil
}
