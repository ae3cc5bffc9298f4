package audio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const captureQueue = 64

// RecordFormat describes the PCM written by a Recorder.
type RecordFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

func (f RecordFormat) withDefaults() RecordFormat {
	if f.SampleRate <= 0 {
		f.SampleRate = DefaultSampleRate
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	if f.BitDepth <= 0 {
		f.BitDepth = 16
	}
	return f
}

// Recorder captures from a CaptureDevice into a WAV file. Frames arriving
// while paused are dropped, so the file holds only recorded time.
type Recorder struct {
	mu     sync.Mutex
	path   string
	format RecordFormat
	file   *os.File
	enc    *wav.Encoder
	device CaptureDevice
	meter  *Meter
	logger *log.Logger

	chunks   chan []byte
	frames   atomic.Int64
	dropped  atomic.Int64
	started  bool
	capture  bool
	stopped  bool
	writeErr error

	endOnce sync.Once
	onEnd   func(error)
	done    chan struct{}
}

func newRecorder(path string, format RecordFormat, open DeviceOpener, meter *Meter, onEnd func(error), logger *log.Logger) (*Recorder, error) {
	format = format.withDefaults()
	switch format.BitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	r := &Recorder{
		path:   path,
		format: format,
		file:   f,
		enc:    wav.NewEncoder(f, format.SampleRate, format.BitDepth, format.Channels, 1),
		meter:  meter,
		logger: logger,
		chunks: make(chan []byte, captureQueue),
		onEnd:  onEnd,
		done:   make(chan struct{}),
	}

	device, err := open(CaptureConfig{SampleRate: format.SampleRate, Channels: format.Channels}, r.onData)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("open capture device: %w", err)
	}
	r.device = device
	go r.writeLoop()
	return r, nil
}

// onData runs on the device thread and must not block.
func (r *Recorder) onData(pcm []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.capture || r.stopped {
		return
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	select {
	case r.chunks <- chunk:
		r.frames.Add(int64(len(pcm) / (bytesPerSample * r.format.Channels)))
	default:
		if r.dropped.Add(1) == 1 {
			r.logger.Warn("capture queue full, dropping audio", "path", r.path)
		}
	}
}

func (r *Recorder) writeLoop() {
	defer close(r.done)

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: r.format.Channels, SampleRate: r.format.SampleRate},
		SourceBitDepth: r.format.BitDepth,
	}
	for chunk := range r.chunks {
		if r.meter != nil {
			r.meter.Process(chunk)
		}
		buf.Data = decodeS16(buf.Data[:0], chunk, r.format.BitDepth-16)
		if err := r.enc.Write(buf); err != nil {
			r.mu.Lock()
			r.writeErr = err
			r.capture = false
			r.mu.Unlock()
			r.end(fmt.Errorf("write %s: %w", r.path, err))
			// keep draining so onData never blocks
			for range r.chunks {
			}
			return
		}
	}
}

// Start and Pause never hold mu across device calls: the device thread
// takes mu in onData and a device stop waits for that thread.
func (r *Recorder) Start() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return errors.New("recorder already stopped")
	}
	if r.writeErr != nil {
		err := r.writeErr
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if err := r.device.Start(); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}

	r.mu.Lock()
	r.started = true
	r.capture = !r.stopped
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Pause() error {
	r.mu.Lock()
	if r.stopped || !r.capture {
		r.mu.Unlock()
		return nil
	}
	r.capture = false
	r.mu.Unlock()

	if err := r.device.Stop(); err != nil {
		return fmt.Errorf("stop capture: %w", err)
	}
	return nil
}

// Stop releases the device and finalizes the WAV header.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	wasCapturing := r.capture
	r.stopped = true
	r.capture = false
	close(r.chunks)
	r.mu.Unlock()

	var errs []error
	if wasCapturing {
		if err := r.device.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop capture: %w", err))
		}
	}
	r.device.Close()
	<-r.done

	if err := r.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("finalize %s: %w", r.path, err))
	}
	if err := r.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if n := r.dropped.Load(); n > 0 {
		r.logger.Warn("recording had dropped buffers", "path", r.path, "count", n)
	}
	r.logger.Info("recording saved", "path", r.path, "duration", r.Position())
	return errors.Join(errs...)
}

// Position is the amount of audio captured so far.
func (r *Recorder) Position() time.Duration {
	return time.Duration(r.frames.Load()) * time.Second / time.Duration(r.format.SampleRate)
}

// Path returns the file being written.
func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) end(err error) {
	r.endOnce.Do(func() {
		if r.onEnd != nil {
			r.onEnd(err)
		}
	})
}

// decodeS16 unpacks s16le samples, widened by shift bits for deeper files.
func decodeS16(dst []int, pcm []byte, shift int) []int {
	for i := 0; i+1 < len(pcm); i += 2 {
		dst = append(dst, int(int16(pcm[i])|int16(pcm[i+1])<<8)<<shift)
	}
	return dst
}

var _ playrec.RecordingEngine = (*Recorder)(nil)
