package compositor

import (
	"fmt"
	"image"
	"os"

	"github.com/golang/freetype"
	"golang.org/x/image/font"
)

const (
	dpi     float64 = 72
	hinting string  = "full"
	size    float64 = 14
	spacing float64 = 1.1
)

// Annotator burns a text label into clip frames. The font is loaded from a
// file path so deployments can match whatever typeface their report tooling
// uses.
type Annotator struct {
	context *freetype.Context
}

// NewAnnotator loads the TTF font at fontPath.
func NewAnnotator(fontPath string) (*Annotator, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("reading font: %w", err)
	}

	parsedFont, err := freetype.ParseFont(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(size)
	context.SetSrc(image.White)

	switch hinting {
	case "full":
		context.SetHinting(font.HintingFull)
	default:
		context.SetHinting(font.HintingNone)
	}

	return &Annotator{context: context}, nil
}

// Annotate draws the label into the lower-left corner of the frame.
func (a *Annotator) Annotate(img *image.RGBA, label string) error {
	a.context.SetClip(img.Bounds())
	a.context.SetDst(img)

	pt := freetype.Pt(6, img.Bounds().Dy()-int(a.context.PointToFixed(size*spacing)>>6))
	if _, err := a.context.DrawString(label, pt); err != nil {
		return fmt.Errorf("drawing label: %w", err)
	}
	return nil
}
