package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/gen2brain/malgo"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

// CaptureConfig is the PCM layout requested from a capture device. Samples
// are always s16le.
type CaptureConfig struct {
	SampleRate int
	Channels   int
}

// CaptureDevice is an opened input device. Close releases it and may be
// called without a prior Stop.
type CaptureDevice interface {
	Start() error
	Stop() error
	Close()
}

// DeviceOpener opens a capture device that delivers PCM to onData from its
// own thread.
type DeviceOpener func(cfg CaptureConfig, onData func(pcm []byte)) (CaptureDevice, error)

// Capture owns the malgo context shared by every capture device.
type Capture struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	logger *log.Logger
}

// NewCapture initializes the platform audio backend for capture.
func NewCapture(logger *log.Logger) (*Capture, error) {
	if logger == nil {
		logger = log.Default()
	}
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", "message", message)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &Capture{ctx: ctx, logger: logger}, nil
}

// Open implements DeviceOpener on the default capture device.
func (c *Capture) Open(cfg CaptureConfig, onData func(pcm []byte)) (CaptureDevice, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return nil, fmt.Errorf("capture backend closed")
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)

	device, err := malgo.InitDevice(c.ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onData(input)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio device: %w", err)
	}
	c.logger.Debug("capture device opened", "sample_rate", cfg.SampleRate, "channels", cfg.Channels)
	return &malgoDevice{device: device}, nil
}

// Devices returns the names of available capture devices.
func (c *Capture) Devices() ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return nil, fmt.Errorf("capture backend closed")
	}
	infos, err := c.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name())
	}
	return names, nil
}

// Close releases the backend.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ctx == nil {
		return nil
	}
	err := c.ctx.Uninit()
	c.ctx.Free()
	c.ctx = nil
	return err
}

type malgoDevice struct {
	device *malgo.Device
}

func (d *malgoDevice) Start() error { return d.device.Start() }
func (d *malgoDevice) Stop() error  { return d.device.Stop() }
func (d *malgoDevice) Close()       { d.device.Uninit() }

// Permissions grants recording when allowed by configuration and at least
// one capture device exists.
type Permissions struct {
	Allow   bool
	Devices func() ([]string, error)
}

func (p Permissions) RequestRecordPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !p.Allow {
		return fmt.Errorf("%w: disabled by configuration", playrec.ErrPermissionDenied)
	}
	if p.Devices == nil {
		return nil
	}
	devices, err := p.Devices()
	if err != nil {
		return fmt.Errorf("%w: %v", playrec.ErrPermissionDenied, err)
	}
	if len(devices) == 0 {
		return fmt.Errorf("%w: no capture device", playrec.ErrPermissionDenied)
	}
	return nil
}
