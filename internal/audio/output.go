package audio

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hajimehoshi/oto/v2"
	"github.com/samber/lo"
)

const (
	DefaultSampleRate = 44100
	DefaultChannels   = 2
	bytesPerSample    = 2 // s16le
)

// Sink consumes interleaved s16le PCM. Write blocks while the sink is full.
type Sink interface {
	io.Writer
	SampleRate() int
	Channels() int
	Pause()
	Resume()
	// Flush drops queued audio, e.g. after a seek.
	Flush()
	// Buffered returns the number of queued bytes not yet handed to the device.
	Buffered() int
	SetVolume(v float64)
}

// OtoOutput is the process-wide oto device. oto allows one context per
// process, so every playback engine shares it.
type OtoOutput struct {
	context    *oto.Context
	player     oto.Player
	sampleRate int
	channels   int
	limit      int
	mu         sync.Mutex
	cond       *sync.Cond
	buffer     *bytes.Buffer
	volume     float64
	paused     bool
	closed     bool
	meter      *Meter
}

// NewOtoOutput opens the default output device.
func NewOtoOutput(sampleRate, channels int) (*OtoOutput, error) {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if channels <= 0 {
		channels = DefaultChannels
	}

	ctx, ready, err := oto.NewContext(sampleRate, channels, bytesPerSample)
	if err != nil {
		return nil, fmt.Errorf("failed to create oto context: %w", err)
	}
	<-ready

	o := newOutput(sampleRate, channels)
	o.context = ctx
	o.player = ctx.NewPlayer(o)
	return o, nil
}

func newOutput(sampleRate, channels int) *OtoOutput {
	o := &OtoOutput{
		sampleRate: sampleRate,
		channels:   channels,
		// about 100ms, so position and metering stay close to what is audible
		limit:  sampleRate * channels * bytesPerSample / 10,
		buffer: &bytes.Buffer{},
		volume: 1.0,
		paused: true,
		meter:  NewMeter(sampleRate, channels),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Read feeds the oto player. It blocks while paused and pads with silence
// when nothing is queued so the device keeps running.
func (o *OtoOutput) Read(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.paused && !o.closed {
		o.cond.Wait()
	}
	if o.closed {
		return 0, io.EOF
	}

	if o.buffer.Len() == 0 {
		clear(p)
		return len(p), nil
	}

	n, err := o.buffer.Read(p)
	if err != nil {
		return n, err
	}
	o.cond.Broadcast() // room for writers

	if n > 0 {
		o.meter.Process(p[:n])
		if o.volume < 1.0 {
			applyVolume(p[:n], o.volume)
		}
	}
	return n, nil
}

// applyVolume scales s16le samples in place.
func applyVolume(data []byte, vol float64) {
	if vol >= 1.0 {
		return
	}
	for i := 0; i+1 < len(data); i += 2 {
		sample := int16(data[i]) | int16(data[i+1])<<8
		scaled := int16(float64(sample) * vol)
		data[i] = byte(scaled)
		data[i+1] = byte(scaled >> 8)
	}
}

// SetVolume sets the output gain, clamped to [0, 1].
func (o *OtoOutput) SetVolume(v float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.volume = lo.Clamp(v, 0, 1)
}

// Volume returns the output gain.
func (o *OtoOutput) Volume() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.volume
}

// Write queues PCM, blocking while more than the buffer limit is pending.
func (o *OtoOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	for o.buffer.Len() >= o.limit && !o.closed {
		if o.paused {
			// nothing drains while paused; wait for Resume or Flush
			o.cond.Wait()
			continue
		}
		o.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		o.mu.Lock()
	}
	if o.closed {
		return 0, io.ErrClosedPipe
	}
	return o.buffer.Write(data)
}

// Pause holds the device. Queued audio is kept.
func (o *OtoOutput) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = true
	if o.player != nil && o.player.IsPlaying() {
		o.player.Pause()
	}
}

// Resume restarts the device.
func (o *OtoOutput) Resume() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.paused = false
	o.cond.Broadcast()
	if o.player != nil && !o.player.IsPlaying() {
		o.player.Play()
	}
}

// Flush discards queued audio and resets the meter.
func (o *OtoOutput) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.buffer.Reset()
	o.meter.Reset()
	o.cond.Broadcast()
}

// Buffered returns the queued byte count.
func (o *OtoOutput) Buffered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.buffer.Len()
}

// Close releases the device. Blocked readers and writers return.
func (o *OtoOutput) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}
	o.closed = true
	o.cond.Broadcast()

	if o.player != nil {
		return o.player.Close()
	}
	return nil
}

func (o *OtoOutput) SampleRate() int { return o.sampleRate }

func (o *OtoOutput) Channels() int { return o.channels }

// Meter returns the meter fed by everything this output plays.
func (o *OtoOutput) Meter() *Meter {
	return o.meter
}

var _ Sink = (*OtoOutput)(nil)
