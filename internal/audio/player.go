// Package audio provides the playback and capture engines behind playrec:
// oto for output, beep for decoding, malgo for capture and go-audio for
// writing recordings.
package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/samber/lo"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const (
	pumpFrames        = 512
	resampleQuality   = 4
	drainPollInterval = 10 * time.Millisecond
)

// Player plays one decoded stream into a Sink. It is created prepared and
// idle; Start begins the pump goroutine that feeds the sink.
type Player struct {
	mu   sync.Mutex
	cond *sync.Cond

	name     string
	stream   beep.StreamSeekCloser
	format   beep.Format
	resample *beep.Resampler
	sink     Sink
	logger   *log.Logger

	started bool
	paused  bool
	stopped bool
	// writing is set while the pump writes decoded audio outside mu. A seek
	// during that write marks the chunk stale so the pump flushes it.
	writing bool
	stale   bool

	endOnce sync.Once
	onEnd   func(error)
	done    chan struct{}
}

func newPlayer(name string, stream beep.StreamSeekCloser, format beep.Format, sink Sink, onEnd func(error), logger *log.Logger) *Player {
	p := &Player{
		name:   name,
		stream: stream,
		format: format,
		sink:   sink,
		logger: logger,
		onEnd:  onEnd,
		done:   make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	p.rebuildResampler()
	return p
}

// rebuildResampler must be called with mu held after any seek.
func (p *Player) rebuildResampler() {
	out := beep.SampleRate(p.sink.SampleRate())
	if p.format.SampleRate == out {
		p.resample = nil
		return
	}
	p.resample = beep.Resample(resampleQuality, p.format.SampleRate, out, p.stream)
}

func (p *Player) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("player for %s already stopped", p.name)
	}
	p.paused = false
	p.cond.Broadcast()
	p.sink.Resume()
	if !p.started {
		p.started = true
		go p.pump()
	}
	return nil
}

func (p *Player) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.paused = true
	p.sink.Pause()
	return nil
}

// Stop halts the pump, drops queued audio and releases the stream. Safe to
// call more than once, before or after Start.
func (p *Player) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	started := p.started
	p.cond.Broadcast()
	p.mu.Unlock()

	if started {
		// unblock a pump waiting on a full sink, then drop what it wrote last
		p.sink.Flush()
		<-p.done
		p.sink.Flush()
	}
	return p.stream.Close()
}

// Seek moves to position and discards audio already queued in the sink.
func (p *Player) Seek(position time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return fmt.Errorf("player for %s already stopped", p.name)
	}
	frame := lo.Clamp(p.format.SampleRate.N(position), 0, p.stream.Len())
	if err := p.stream.Seek(frame); err != nil {
		return fmt.Errorf("seek %s: %w", p.name, err)
	}
	p.rebuildResampler()
	if p.started {
		p.sink.Flush()
		p.stale = p.writing
	}
	return nil
}

// Position is the stream position less whatever is still queued in the sink.
func (p *Player) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	pos := p.format.SampleRate.D(p.stream.Position())
	if p.started && !p.stopped && !p.stale {
		frames := p.sink.Buffered() / (bytesPerSample * p.sink.Channels())
		pos -= beep.SampleRate(p.sink.SampleRate()).D(frames)
	}
	return max(pos, 0)
}

func (p *Player) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.SampleRate.D(p.stream.Len())
}

func (p *Player) SetVolume(v float64) {
	p.sink.SetVolume(v)
}

// pump streams decoded frames into the sink until the stream ends, fails or
// the player is stopped.
func (p *Player) pump() {
	defer close(p.done)

	samples := make([][2]float64, pumpFrames)
	pcm := make([]byte, 0, pumpFrames*2*bytesPerSample)
	channels := p.sink.Channels()

	for {
		p.mu.Lock()
		for p.paused && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		var n int
		var ok bool
		if p.resample != nil {
			n, ok = p.resample.Stream(samples)
		} else {
			n, ok = p.stream.Stream(samples)
		}
		err := p.stream.Err()
		p.writing = n > 0
		p.mu.Unlock()

		if n > 0 {
			pcm = encodeS16(pcm[:0], samples[:n], channels)
			_, werr := p.sink.Write(pcm)

			p.mu.Lock()
			stale := p.stale
			if stale {
				p.sink.Flush()
				p.stale = false
			}
			p.writing = false
			p.mu.Unlock()

			if werr != nil {
				p.end(fmt.Errorf("write output: %w", werr))
				return
			}
			if stale {
				// ok and err describe the stream before the seek
				continue
			}
		}
		if err != nil {
			p.end(fmt.Errorf("decode %s: %w", p.name, err))
			return
		}
		if !ok {
			if p.drain() {
				p.logger.Debug("stream finished", "source", p.name)
				p.end(nil)
			}
			return
		}
	}
}

// drain waits for the sink to play out. It returns false if stopped first.
func (p *Player) drain() bool {
	for {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if stopped {
			return false
		}
		if p.sink.Buffered() == 0 {
			return true
		}
		time.Sleep(drainPollInterval)
	}
}

func (p *Player) end(err error) {
	p.endOnce.Do(func() {
		if p.onEnd != nil {
			p.onEnd(err)
		}
	})
}

// encodeS16 converts stereo float frames to interleaved s16le, downmixing
// to mono when the output has one channel.
func encodeS16(dst []byte, frames [][2]float64, channels int) []byte {
	put := func(v float64) {
		s := int16(lo.Clamp(v, -1, 1) * 32767)
		dst = append(dst, byte(s), byte(s>>8))
	}
	for _, f := range frames {
		if channels == 1 {
			put((f[0] + f[1]) / 2)
			continue
		}
		put(f[0])
		put(f[1])
	}
	return dst
}

var _ playrec.PlaybackEngine = (*Player)(nil)
