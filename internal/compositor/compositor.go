// Package compositor renders the per-light review clips: for every
// reference light, a fixed-size output video whose window is re-centered on
// the tracked box each frame, so the light sits still while the background
// drifts. This is a deterministic resampling of the tracker's output, never
// a new detection pass.
package compositor

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/flarelab/papiscan/internal/papi"
	"github.com/flarelab/papiscan/internal/pixel"
	"github.com/flarelab/papiscan/internal/runway"
)

const (
	// DefaultOutputSize is the square edge length of a clip frame.
	DefaultOutputSize = 256

	// cropScale is how much scene each clip frame covers, as a multiple of
	// the tracked box. A generous margin keeps some background visible for
	// context.
	cropScale = 6.0
)

// Config holds compositor settings.
type Config struct {
	OutputDir  string  `yaml:"outputDir"`
	OutputSize int     `yaml:"outputSize"`
	FontPath   string  `yaml:"fontPath"` // Optional; empty disables annotation
	FPS        float64 `yaml:"-"`
}

// Compositor writes one clip per reference light.
type Compositor struct {
	cfg       Config
	writers   map[runway.PointID]*gocv.VideoWriter
	annotator *Annotator
	logger    *slog.Logger
}

// Option configures a Compositor.
type Option func(*Compositor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Compositor) {
		c.logger = logger
	}
}

// New creates a Compositor writing clips under cfg.OutputDir.
func New(cfg Config, options ...Option) (*Compositor, error) {
	if cfg.OutputSize <= 0 {
		cfg.OutputSize = DefaultOutputSize
	}
	if cfg.FPS <= 0 {
		return nil, fmt.Errorf("compositor needs the source frame rate")
	}
	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating clip directory: %w", err)
	}

	c := &Compositor{
		cfg:     cfg,
		writers: make(map[runway.PointID]*gocv.VideoWriter),
		logger:  slog.Default(),
	}
	for _, option := range options {
		option(c)
	}

	if cfg.FontPath != "" {
		a, err := NewAnnotator(cfg.FontPath)
		if err != nil {
			return nil, fmt.Errorf("creating annotator: %w", err)
		}
		c.annotator = a
	}
	return c, nil
}

// ClipPath returns the output file for one light.
func (c *Compositor) ClipPath(id runway.PointID) string {
	return filepath.Join(c.cfg.OutputDir, fmt.Sprintf("%s.avi", id))
}

// AddFrame appends one frame to a light's clip: the region around the box
// is cropped (clamped at the image edge), resampled to the output size and
// optionally annotated with the frame index and category.
func (c *Compositor) AddFrame(id runway.PointID, g *pixel.Grid, box papi.Box, frameIndex int, category papi.Category) error {
	w, err := c.writer(id)
	if err != nil {
		return err
	}

	half := int(max(box.HW, box.HH) * cropScale)
	if half < c.cfg.OutputSize/8 {
		half = c.cfg.OutputSize / 8
	}
	crop := clampWindow(image.Rect(
		int(box.CX)-half, int(box.CY)-half,
		int(box.CX)+half, int(box.CY)+half,
	), g.W, g.H)

	rgba := cropToImage(g, crop)
	if c.annotator != nil {
		label := fmt.Sprintf("#%06d  %s", frameIndex, category)
		if err := c.annotator.Annotate(rgba, label); err != nil {
			c.logger.Warn("annotating clip frame",
				slog.String("point", string(id)), slog.Int("frame", frameIndex),
				slog.String("error", err.Error()))
		}
	}

	mat, err := gocv.ImageToMatRGB(rgba)
	if err != nil {
		return fmt.Errorf("converting clip frame for %s: %w", id, err)
	}
	defer mat.Close()

	out := gocv.NewMat()
	defer out.Close()
	gocv.Resize(mat, &out, image.Pt(c.cfg.OutputSize, c.cfg.OutputSize), 0, 0, gocv.InterpolationLinear)

	if err := w.Write(out); err != nil {
		return fmt.Errorf("writing clip frame for %s: %w", id, err)
	}
	return nil
}

func (c *Compositor) writer(id runway.PointID) (*gocv.VideoWriter, error) {
	if w, ok := c.writers[id]; ok {
		return w, nil
	}

	path := c.ClipPath(id)
	w, err := gocv.VideoWriterFile(path, "MJPG", c.cfg.FPS, c.cfg.OutputSize, c.cfg.OutputSize, true)
	if err != nil {
		return nil, fmt.Errorf("creating clip writer %s: %w", path, err)
	}
	c.writers[id] = w

	c.logger.Info("writing light clip", slog.String("point", string(id)), slog.String("path", path))
	return w, nil
}

// Close finishes all clips.
func (c *Compositor) Close() error {
	var errs []error
	for id, w := range c.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing clip for %s: %w", id, err))
		}
	}
	clear(c.writers)
	return errors.Join(errs...)
}

// clampWindow shifts a window of fixed size back inside the image so edge
// lights still produce full-size crops.
func clampWindow(r image.Rectangle, w, h int) image.Rectangle {
	if r.Dx() > w {
		r.Min.X, r.Max.X = 0, w
	} else {
		if r.Min.X < 0 {
			r = r.Add(image.Pt(-r.Min.X, 0))
		}
		if r.Max.X > w {
			r = r.Add(image.Pt(w-r.Max.X, 0))
		}
	}
	if r.Dy() > h {
		r.Min.Y, r.Max.Y = 0, h
	} else {
		if r.Min.Y < 0 {
			r = r.Add(image.Pt(0, -r.Min.Y))
		}
		if r.Max.Y > h {
			r = r.Add(image.Pt(0, h-r.Max.Y))
		}
	}
	return r
}

func cropToImage(g *pixel.Grid, r image.Rectangle) *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		row := y * g.W
		for x := r.Min.X; x < r.Max.X; x++ {
			i := row + x
			out.SetRGBA(x-r.Min.X, y-r.Min.Y, color.RGBA{
				R: uint8(g.R[i]),
				G: uint8(g.G[i]),
				B: uint8(g.B[i]),
				A: 255,
			})
		}
	}
	return out
}
