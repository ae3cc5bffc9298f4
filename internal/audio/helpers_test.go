package audio

import (
	"math"
	"os"
	"sync"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// memorySink plays instantly into a byte slice.
type memorySink struct {
	mu         sync.Mutex
	data       []byte
	sampleRate int
	channels   int
	paused     bool
	flushes    int
	volume     float64
}

func newMemorySink(sampleRate, channels int) *memorySink {
	return &memorySink{sampleRate: sampleRate, channels: channels, paused: true, volume: 1}
}

func (s *memorySink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = append(s.data, p...)
	return len(p), nil
}

func (s *memorySink) SampleRate() int { return s.sampleRate }
func (s *memorySink) Channels() int   { return s.channels }
func (s *memorySink) Buffered() int   { return 0 }

func (s *memorySink) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
}

func (s *memorySink) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
}

func (s *memorySink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *memorySink) SetVolume(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume = v
}

func (s *memorySink) written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// writeTone writes a stereo 16-bit sine WAV.
func writeTone(t *testing.T, path string, sampleRate, frames int) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 2, 1)
	data := make([]int, 0, frames*2)
	for i := 0; i < frames; i++ {
		v := int(8000 * math.Sin(2*math.Pi*440*float64(i)/float64(sampleRate)))
		data = append(data, v, v)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 2, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
}

// sinePCM returns mono s16le samples of a full-scale-ish sine.
func sinePCM(frames int, amplitude float64) []byte {
	pcm := make([]byte, 0, frames*2)
	for i := 0; i < frames; i++ {
		s := int16(amplitude * 32767 * math.Sin(2*math.Pi*1000*float64(i)/DefaultSampleRate))
		pcm = append(pcm, byte(s), byte(s>>8))
	}
	return pcm
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
