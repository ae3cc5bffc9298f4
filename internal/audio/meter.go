package audio

import (
	"math"
	"sync"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	meterWindow = 1024 // FFT size, power of two
	MeterBands  = 32
	meterSmooth = 0.5
	// SilenceDB is the floor reported for digital silence.
	SilenceDB = -96.0
)

// Levels is a snapshot of signal strength. Peak and RMS are in dBFS; each band
// is 0-255 on a log frequency scale from 20Hz to Nyquist.
type Levels struct {
	Peak  float64 `json:"peak"`
	RMS   float64 `json:"rms"`
	Bands []uint8 `json:"bands"`
}

// LevelsCallback receives a snapshot every time a full window is analyzed.
type LevelsCallback func(Levels)

// Meter analyzes s16le PCM in fixed windows. It is fed by the playback
// output and by the capture device, whichever is active.
type Meter struct {
	mu sync.RWMutex

	fft    *fourier.FFT
	window []float64
	ring   []float64
	pos    int

	sampleRate int
	channels   int

	peak     float64
	rms      float64
	smoothed []float64
	ready    bool

	callback LevelsCallback
}

// NewMeter creates a meter for the given PCM layout.
func NewMeter(sampleRate, channels int) *Meter {
	hann := make([]float64, meterWindow)
	for i := range hann {
		hann[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(meterWindow-1)))
	}
	return &Meter{
		fft:        fourier.NewFFT(meterWindow),
		window:     hann,
		ring:       make([]float64, meterWindow),
		sampleRate: sampleRate,
		channels:   max(channels, 1),
		peak:       SilenceDB,
		rms:        SilenceDB,
		smoothed:   make([]float64, MeterBands),
	}
}

// Process folds interleaved s16le frames to mono and analyzes every
// completed window.
func (m *Meter) Process(pcm []byte) {
	var snapshots []Levels

	m.mu.Lock()
	frame := bytesPerSample * m.channels
	for i := 0; i+frame <= len(pcm); i += frame {
		var sum float64
		for ch := 0; ch < m.channels; ch++ {
			off := i + ch*bytesPerSample
			sum += float64(int16(pcm[off])|int16(pcm[off+1])<<8) / 32768.0
		}
		m.ring[m.pos] = sum / float64(m.channels)
		m.pos = (m.pos + 1) % meterWindow
		if m.pos == 0 {
			m.analyze()
			m.ready = true
			if m.callback != nil {
				snapshots = append(snapshots, m.snapshot())
			}
		}
	}
	cb := m.callback
	m.mu.Unlock()

	for _, s := range snapshots {
		cb(s)
	}
}

func (m *Meter) analyze() {
	var peak, sumSquares float64
	windowed := make([]float64, meterWindow)
	for i, v := range m.ring {
		peak = max(peak, math.Abs(v))
		sumSquares += v * v
		windowed[i] = v * m.window[i]
	}
	m.peak = toDB(peak)
	m.rms = toDB(math.Sqrt(sumSquares / meterWindow))

	coeffs := m.fft.Coefficients(nil, windowed)
	binHz := float64(m.sampleRate) / meterWindow
	lowHz := 20.0
	highHz := math.Min(20000, float64(m.sampleRate)/2)
	logLow, logSpan := math.Log10(lowHz), math.Log10(highHz)-math.Log10(lowHz)

	bands := make([]float64, MeterBands)
	counts := make([]int, MeterBands)
	for bin := 1; bin < meterWindow/2; bin++ {
		hz := float64(bin) * binHz
		if hz < lowHz || hz > highHz {
			continue
		}
		band := lo.Clamp(int((math.Log10(hz)-logLow)/logSpan*MeterBands), 0, MeterBands-1)
		magnitude := math.Hypot(real(coeffs[bin]), imag(coeffs[bin]))
		db := 20 * math.Log10(magnitude/meterWindow+1e-10)
		bands[band] += lo.Clamp((db+60)/60*255, 0, 255)
		counts[band]++
	}
	for i := range bands {
		if counts[i] > 0 {
			bands[i] /= float64(counts[i])
		}
		m.smoothed[i] = meterSmooth*m.smoothed[i] + (1-meterSmooth)*bands[i]
	}
}

func toDB(amplitude float64) float64 {
	if amplitude <= 0 {
		return SilenceDB
	}
	return math.Max(20*math.Log10(amplitude), SilenceDB)
}

func (m *Meter) snapshot() Levels {
	bands := make([]uint8, MeterBands)
	for i, v := range m.smoothed {
		bands[i] = uint8(lo.Clamp(v, 0, 255))
	}
	return Levels{Peak: m.peak, RMS: m.rms, Bands: bands}
}

// Levels returns the latest snapshot.
func (m *Meter) Levels() Levels {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot()
}

// Ready reports whether at least one window has been analyzed since the last reset.
func (m *Meter) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// SetCallback registers fn for push delivery. Pass nil to stop.
func (m *Meter) SetCallback(fn LevelsCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = fn
}

// Reset clears all analysis state.
func (m *Meter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pos = 0
	m.ready = false
	m.peak, m.rms = SilenceDB, SilenceDB
	clear(m.ring)
	clear(m.smoothed)
}
