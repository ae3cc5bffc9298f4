package audio

import (
	"bytes"
	"io"
	"testing"
	"time"
)

func TestApplyVolume(t *testing.T) {
	tests := []struct {
		name     string
		volume   float64
		input    []byte
		expected []byte
	}{
		{
			name:     "full volume passthrough",
			volume:   1.0,
			input:    []byte{0x00, 0x10, 0xFF, 0x7F},
			expected: []byte{0x00, 0x10, 0xFF, 0x7F},
		},
		{
			name:     "half volume",
			volume:   0.5,
			input:    []byte{0x00, 0x10, 0xFE, 0x7F}, // 4096, 32766
			expected: []byte{0x00, 0x08, 0xFF, 0x3F}, // 2048, 16383
		},
		{
			name:     "zero volume",
			volume:   0.0,
			input:    []byte{0xFF, 0x7F, 0x00, 0x80},
			expected: []byte{0x00, 0x00, 0x00, 0x00},
		},
		{
			name:     "negative samples keep sign",
			volume:   0.5,
			input:    []byte{0x00, 0xF0}, // -4096
			expected: []byte{0x00, 0xF8}, // -2048
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := bytes.Clone(tt.input)
			applyVolume(data, tt.volume)
			if !bytes.Equal(data, tt.expected) {
				t.Errorf("got % X, want % X", data, tt.expected)
			}
		})
	}
}

func TestSetVolumeClamp(t *testing.T) {
	o := newOutput(DefaultSampleRate, DefaultChannels)

	o.SetVolume(-0.5)
	if o.Volume() != 0 {
		t.Errorf("Expected volume 0 for negative input, got %f", o.Volume())
	}

	o.SetVolume(1.5)
	if o.Volume() != 1 {
		t.Errorf("Expected volume 1 for >1 input, got %f", o.Volume())
	}

	o.SetVolume(0.75)
	if o.Volume() != 0.75 {
		t.Errorf("Expected volume 0.75, got %f", o.Volume())
	}
}

func TestOutputReadWrite(t *testing.T) {
	o := newOutput(DefaultSampleRate, DefaultChannels)
	o.Resume()

	pcm := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04, 0x00}
	if _, err := o.Write(pcm); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if o.Buffered() != len(pcm) {
		t.Errorf("Buffered = %d, want %d", o.Buffered(), len(pcm))
	}

	got := make([]byte, len(pcm))
	if n, err := o.Read(got); err != nil || n != len(pcm) {
		t.Fatalf("Read = %d, %v", n, err)
	}
	if !bytes.Equal(got, pcm) {
		t.Errorf("Read % X, want % X", got, pcm)
	}

	// empty buffer pads with silence
	silence := []byte{0xAA, 0xAA}
	if n, _ := o.Read(silence); n != 2 || silence[0] != 0 || silence[1] != 0 {
		t.Errorf("expected silence, got % X", silence)
	}
}

func TestOutputFlushUnblocksPausedWriter(t *testing.T) {
	o := newOutput(DefaultSampleRate, DefaultChannels)
	full := make([]byte, o.limit)
	if _, err := o.Write(full); err != nil {
		t.Fatalf("Write: %v", err)
	}

	wrote := make(chan struct{})
	go func() {
		o.Write([]byte{0x01, 0x00})
		close(wrote)
	}()

	select {
	case <-wrote:
		t.Fatal("Write did not block on a full paused output")
	case <-time.After(50 * time.Millisecond):
	}

	o.Flush()
	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("Flush did not release the writer")
	}
	if o.Buffered() != 2 {
		t.Errorf("Buffered = %d, want 2", o.Buffered())
	}
}

func TestOutputClose(t *testing.T) {
	o := newOutput(DefaultSampleRate, DefaultChannels)
	if err := o.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := o.Read(make([]byte, 4)); err != io.EOF {
		t.Errorf("Read after close = %v, want EOF", err)
	}
	if _, err := o.Write([]byte{0, 0}); err == nil {
		t.Error("Write after close succeeded")
	}
}
