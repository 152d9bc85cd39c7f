package pixel

import (
	"image"
	"math"
	"testing"
)

func TestNewGrid_InvalidDimensions(t *testing.T) {
	for _, dims := range [][2]int{{0, 10}, {10, 0}, {-1, 10}} {
		if _, err := NewGrid(dims[0], dims[1]); err == nil {
			t.Errorf("Expected %dx%d to fail", dims[0], dims[1])
		}
	}
}

func TestSetRGB(t *testing.T) {
	g, err := NewGrid(4, 4)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}

	g.SetRGB(1, 2, 100, 200, 50)
	wantLuma := 0.299*100 + 0.587*200 + 0.114*50
	if got := g.LumaAt(1, 2); math.Abs(got-wantLuma) > 1e-9 {
		t.Errorf("Expected luma %f, got %f", wantLuma, got)
	}

	// Out-of-range writes and reads are no-ops.
	g.SetRGB(-1, 0, 255, 255, 255)
	g.SetRGB(4, 0, 255, 255, 255)
	if got := g.LumaAt(-1, 0); got != 0 {
		t.Errorf("Expected 0 outside the grid, got %f", got)
	}
}

func TestMeanRect(t *testing.T) {
	g, err := NewGrid(10, 10)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}
	for y := 0; y < 2; y++ {
		for x := 0; x < 2; x++ {
			g.SetRGB(x, y, 200, 100, 40)
		}
	}

	mr, mg, mb, _ := g.MeanRect(image.Rect(0, 0, 2, 2))
	if mr != 200 || mg != 100 || mb != 40 {
		t.Errorf("Expected (200, 100, 40), got (%f, %f, %f)", mr, mg, mb)
	}

	// Half the 2x4 rect is black: means halve.
	mr, _, _, _ = g.MeanRect(image.Rect(0, 0, 2, 4))
	if mr != 100 {
		t.Errorf("Expected 100, got %f", mr)
	}

	// Rects are clamped, not rejected.
	mr, _, _, _ = g.MeanRect(image.Rect(-5, -5, 2, 2))
	if mr != 200 {
		t.Errorf("Expected 200 from the clamped rect, got %f", mr)
	}

	if _, _, _, ml := g.MeanRect(image.Rect(20, 20, 30, 30)); ml != 0 {
		t.Errorf("Expected 0 from an empty intersection, got %f", ml)
	}
}

func TestMaxLuma(t *testing.T) {
	g, err := NewGrid(8, 8)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}
	g.SetRGB(3, 4, 100, 100, 100)
	g.SetRGB(5, 6, 250, 250, 250)

	pt, v, ok := g.MaxLuma(g.Bounds())
	if !ok || pt != image.Pt(5, 6) {
		t.Errorf("Expected peak at (5, 6), got %v ok=%v", pt, ok)
	}
	if math.Abs(v-250) > 1e-9 {
		t.Errorf("Expected peak luma 250, got %f", v)
	}

	if _, _, ok := g.MaxLuma(image.Rect(100, 100, 110, 110)); ok {
		t.Error("Expected no peak outside the grid")
	}
}

func TestCentroid(t *testing.T) {
	g, err := NewGrid(10, 10)
	if err != nil {
		t.Fatalf("Failed to create grid: %v", err)
	}

	// Symmetric bright cluster around (4, 5).
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			g.SetRGB(4+dx, 5+dy, 200, 200, 200)
		}
	}
	g.SetRGB(9, 9, 30, 30, 30) // below threshold, must not pull the centroid

	cx, cy, ok := g.Centroid(g.Bounds(), 100)
	if !ok {
		t.Fatal("Expected a centroid")
	}
	if math.Abs(cx-4) > 1e-9 || math.Abs(cy-5) > 1e-9 {
		t.Errorf("Expected centroid (4, 5), got (%f, %f)", cx, cy)
	}

	if _, _, ok := g.Centroid(g.Bounds(), 255); ok {
		t.Error("Expected no centroid above the brightest pixel")
	}
}
