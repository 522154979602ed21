package audio

import (
	"encoding/binary"
	"io"
	"math"
	"sync"
	"time"
)

// DefaultBands is the number of frequency bands a Tap reports.
const DefaultBands = 16

const (
	tapWindow  = 1024
	minBandHz  = 60.0
	maxBandHz  = 8000.0
	fullScale  = 32768.0
	bandGain   = 4.0
	levelDecay = 0.85
)

// Frame is one visualization sample of the audio currently playing.
type Frame struct {
	// Level is the RMS amplitude of the latest window, in [0, 1].
	Level float64 `json:"level"`
	// Bands holds per-band energy in [0, 1], low to high frequency.
	Bands []float64 `json:"bands"`
	At    time.Time `json:"at"`
}

// Tap derives a read-only amplitude and frequency signal from the PCM stream
// fed to the output device. It never alters the audio. Once attached it lives
// until the process exits; between clips it reports silence.
type Tap struct {
	bands []float64 // centre frequencies

	mu     sync.RWMutex
	frame  Frame
	subs   map[int]chan Frame
	nextID int
}

// NewTap creates a Tap reporting n log-spaced bands.
func NewTap(n int) *Tap {
	if n <= 0 {
		n = DefaultBands
	}
	centres := make([]float64, n)
	for i := range centres {
		ratio := float64(i) / float64(max(n-1, 1))
		centres[i] = minBandHz * math.Pow(maxBandHz/minBandHz, ratio)
	}
	return &Tap{
		bands: centres,
		frame: Frame{Bands: make([]float64, n)},
		subs:  make(map[int]chan Frame),
	}
}

// Frame returns the most recent frame.
func (t *Tap) Frame() Frame {
	t.mu.RLock()
	defer t.mu.RUnlock()

	f := t.frame
	f.Bands = append([]float64(nil), t.frame.Bands...)
	return f
}

// Subscribe returns a channel receiving every new frame and a function that
// cancels the subscription. Slow subscribers miss frames.
func (t *Tap) Subscribe(buffer int) (<-chan Frame, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Frame, max(buffer, 1))
	t.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

// Reset publishes a silent frame.
func (t *Tap) Reset() {
	t.publish(Frame{Bands: make([]float64, len(t.bands)), At: time.Now()})
}

// Reader wraps r so that every chunk read from it is analysed.
func (t *Tap) Reader(r io.Reader, format Format) io.Reader {
	return &tapReader{src: r, tap: t, format: format}
}

func (t *Tap) publish(f Frame) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.frame = f
	for _, ch := range t.subs {
		select {
		case ch <- Frame{Level: f.Level, Bands: append([]float64(nil), f.Bands...), At: f.At}:
		default:
		}
	}
}

// analyze computes a frame from interleaved samples and publishes it.
func (t *Tap) analyze(samples []float64, sampleRate int) {
	if len(samples) == 0 {
		return
	}
	if len(samples) > tapWindow {
		samples = samples[len(samples)-tapWindow:]
	}

	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	level := math.Sqrt(sum / float64(len(samples)))

	prev := t.Frame()
	if decayed := prev.Level * levelDecay; decayed > level {
		level = decayed
	}

	bands := make([]float64, len(t.bands))
	for i, hz := range t.bands {
		bands[i] = math.Min(1, bandGain*goertzel(samples, hz, float64(sampleRate)))
	}

	t.publish(Frame{Level: math.Min(1, level), Bands: bands, At: time.Now()})
}

// goertzel returns the normalized magnitude of a single frequency component.
func goertzel(samples []float64, hz, sampleRate float64) float64 {
	n := float64(len(samples))
	k := math.Floor(0.5 + n*hz/sampleRate)
	coeff := 2 * math.Cos(2*math.Pi*k/n)

	var s1, s2 float64
	for _, x := range samples {
		s0 := x + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	if power < 0 {
		return 0
	}
	return math.Sqrt(power) / (n / 2)
}

type tapReader struct {
	src    io.Reader
	tap    *Tap
	format Format
	carry  []byte
}

func (r *tapReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.tap.analyze(r.decode(p[:n]), r.format.SampleRate)
	}
	return n, err
}

// decode converts little endian int16 PCM to mono samples in [-1, 1]. An odd
// trailing byte or incomplete frame is carried into the next read.
func (r *tapReader) decode(chunk []byte) []float64 {
	buf := append(r.carry, chunk...)
	channels := max(r.format.Channels, 1)
	frameBytes := 2 * channels
	frames := len(buf) / frameBytes

	samples := make([]float64, frames)
	for i := 0; i < frames; i++ {
		var mix float64
		for c := 0; c < channels; c++ {
			off := i*frameBytes + 2*c
			mix += float64(int16(binary.LittleEndian.Uint16(buf[off:]))) / fullScale
		}
		samples[i] = mix / float64(channels)
	}

	r.carry = append(r.carry[:0], buf[frames*frameBytes:]...)
	return samples
}
