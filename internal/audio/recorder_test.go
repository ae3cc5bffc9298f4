package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-audio/wav"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

type fakeDevice struct {
	mu      sync.Mutex
	cfg     CaptureConfig
	onData  func([]byte)
	running bool
	starts  int
	stops   int
	closed  bool
}

func (d *fakeDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = true
	d.starts++
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.running = false
	d.stops++
	return nil
}

func (d *fakeDevice) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// feed delivers pcm the way a device thread would.
func (d *fakeDevice) feed(pcm []byte) {
	d.onData(pcm)
}

func fakeOpener(dev *fakeDevice) DeviceOpener {
	return func(cfg CaptureConfig, onData func([]byte)) (CaptureDevice, error) {
		dev.cfg = cfg
		dev.onData = onData
		return dev, nil
	}
}

func TestRecorderWritesWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "takes", "one.wav")
	dev := &fakeDevice{}
	meter := NewMeter(DefaultSampleRate, 1)
	engines := &Engines{Open: fakeOpener(dev), Meter: meter, Logger: log.New(io.Discard)}

	engine, err := engines.NewRecording(context.Background(), path, nil)
	if err != nil {
		t.Fatalf("NewRecording: %v", err)
	}
	if dev.cfg.SampleRate != DefaultSampleRate || dev.cfg.Channels != 1 {
		t.Errorf("device config = %+v", dev.cfg)
	}

	dev.feed(sinePCM(1000, 0.5)) // before Start, dropped
	if err := engine.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	dev.feed(sinePCM(2205, 0.5))
	dev.feed(sinePCM(2205, 0.5))
	if got := engine.Position(); got != 100*time.Millisecond {
		t.Errorf("Position = %v, want 100ms", got)
	}

	if err := engine.Pause(); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	dev.feed(sinePCM(4410, 0.5)) // paused, dropped
	if err := engine.Start(); err != nil {
		t.Fatalf("resume: %v", err)
	}
	dev.feed(sinePCM(4410, 0.5))

	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !dev.closed || dev.starts != 2 || dev.stops != 2 {
		t.Errorf("device starts=%d stops=%d closed=%v", dev.starts, dev.stops, dev.closed)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		t.Fatal("recording is not a valid WAV")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode recording: %v", err)
	}
	if got := len(buf.Data); got != 8820 {
		t.Errorf("recorded %d samples, want 8820", got)
	}
	if dec.SampleRate != DefaultSampleRate || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Errorf("format = %d Hz, %d ch, %d bit", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}
	if !meter.Ready() {
		t.Error("captured audio did not reach the meter")
	}
}

func TestRecorderErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := (&Engines{}).NewRecording(context.Background(), filepath.Join(dir, "a.wav"), nil)
	if err == nil {
		t.Error("NewRecording without capture backend succeeded")
	}

	failing := func(CaptureConfig, func([]byte)) (CaptureDevice, error) {
		return nil, errors.New("no microphone")
	}
	path := filepath.Join(dir, "b.wav")
	_, err = (&Engines{Open: failing, Logger: log.New(io.Discard)}).NewRecording(context.Background(), path, nil)
	if err == nil {
		t.Fatal("NewRecording with failing device succeeded")
	}
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Error("partial recording left behind")
	}

	_, err = (&Engines{Open: fakeOpener(&fakeDevice{}), Format: RecordFormat{BitDepth: 12}, Logger: log.New(io.Discard)}).
		NewRecording(context.Background(), filepath.Join(dir, "c.wav"), nil)
	if err == nil {
		t.Error("12-bit recording accepted")
	}
}

func TestPermissions(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		p       Permissions
		wantErr bool
	}{
		{name: "allowed without device listing", p: Permissions{Allow: true}},
		{name: "disabled", p: Permissions{Allow: false}, wantErr: true},
		{name: "no devices", p: Permissions{Allow: true, Devices: func() ([]string, error) { return nil, nil }}, wantErr: true},
		{name: "device listing fails", p: Permissions{Allow: true, Devices: func() ([]string, error) { return nil, errors.New("backend") }}, wantErr: true},
		{name: "device present", p: Permissions{Allow: true, Devices: func() ([]string, error) { return []string{"mic"}, nil }}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.RequestRecordPermission(ctx)
			if tt.wantErr {
				if !errors.Is(err, playrec.ErrPermissionDenied) {
					t.Errorf("err = %v, want ErrPermissionDenied", err)
				}
				return
			}
			if err != nil {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestDecodeS16(t *testing.T) {
	pcm := []byte{0x00, 0x10, 0x00, 0xF0} // 4096, -4096
	if got := decodeS16(nil, pcm, 0); got[0] != 4096 || got[1] != -4096 {
		t.Errorf("Expected [4096 -4096], got %v", got)
	}
	if got := decodeS16(nil, pcm, 8); got[0] != 4096<<8 || got[1] != -4096<<8 {
		t.Errorf("Expected 24-bit widening, got %v", got)
	}
}
