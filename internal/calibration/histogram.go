package calibration

import "math"

const (
	defaultBackgroundLuma = 200.0

	// For fewer samples the percentile estimate is meaningless and the
	// default threshold is used instead.
	minimumSampleCount = 64
)

// LumaBounds represents the luminance statistics of one frame, used to
// separate point lights from the background.
type LumaBounds struct {
	Background float64 // 99th percentile: nearly everything is background
	Mean       float64 // Mean frame luma
	Threshold  float64 // Detection threshold derived from Background
}

func defaultLumaBounds() LumaBounds {
	return LumaBounds{
		Background: defaultBackgroundLuma,
		Mean:       defaultBackgroundLuma / 2,
		Threshold:  defaultBackgroundLuma,
	}
}

// LumaHistogram maintains a histogram of luma values with 1-unit bins.
type LumaHistogram struct {
	bins       map[int]uint32
	totalCount uint64
	minBin     int
	maxBin     int
}

// NewLumaHistogram creates an empty histogram.
func NewLumaHistogram() *LumaHistogram {
	return &LumaHistogram{
		bins:   make(map[int]uint32),
		minBin: math.MaxInt32,
		maxBin: math.MinInt32,
	}
}

// Update adds one luma reading.
func (h *LumaHistogram) Update(luma float64) {
	bin := int(math.Floor(luma))

	h.bins[bin]++
	h.totalCount++

	if bin < h.minBin {
		h.minBin = bin
	}
	if bin > h.maxBin {
		h.maxBin = bin
	}
}

// UpdateAll adds a whole plane of readings.
func (h *LumaHistogram) UpdateAll(luma []float64) {
	for _, l := range luma {
		h.Update(l)
	}
}

// Clear resets the histogram.
func (h *LumaHistogram) Clear() {
	h.bins = make(map[int]uint32)
	h.totalCount = 0
	h.minBin = math.MaxInt32
	h.maxBin = math.MinInt32
}

// Bounds returns percentile-based luminance bounds. A PAPI light occupies a
// tiny fraction of the frame, so the detection threshold sits above the 99th
// percentile of the frame's luma with a small fixed margin.
func (h *LumaHistogram) Bounds() LumaBounds {
	if h.totalCount < minimumSampleCount {
		return defaultLumaBounds()
	}

	target99th := h.totalCount / 100

	var count uint64
	background := h.maxBin
	for bin := h.maxBin; bin >= h.minBin; bin-- {
		count += uint64(h.bins[bin])
		if count >= target99th {
			background = bin
			break
		}
	}

	var sumProduct float64
	for bin := h.minBin; bin <= h.maxBin; bin++ {
		sumProduct += float64(bin) * float64(h.bins[bin])
	}
	mean := sumProduct / float64(h.totalCount)

	threshold := float64(background) + 10
	if threshold > 250 {
		threshold = 250
	}

	return LumaBounds{
		Background: float64(background),
		Mean:       mean,
		Threshold:  threshold,
	}
}
