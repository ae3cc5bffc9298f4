package audio

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

// Engines builds playback and recording engines over shared devices.
type Engines struct {
	Sink    Sink
	Decoder Decoder
	Open    DeviceOpener
	Format  RecordFormat
	// Meter receives captured audio. Playback is metered by the sink itself.
	Meter  *Meter
	Logger *log.Logger
}

func (e *Engines) logger() *log.Logger {
	if e.Logger == nil {
		return log.Default()
	}
	return e.Logger
}

func (e *Engines) NewPlayback(ctx context.Context, src playrec.Source, onEnd func(error)) (playrec.PlaybackEngine, error) {
	if e.Sink == nil {
		return nil, errors.New("no audio output configured")
	}
	dec := e.Decoder
	if dec == nil {
		dec = SniffDecoder{}
	}
	stream, format, err := dec.Decode(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	e.logger().Debug("decoded", "source", src.Name(), "sample_rate", int(format.SampleRate), "channels", format.NumChannels,
		"duration", format.SampleRate.D(stream.Len()))
	return newPlayer(src.Name(), stream, format, e.Sink, onEnd, e.logger()), nil
}

func (e *Engines) NewRecording(ctx context.Context, path string, onEnd func(error)) (playrec.RecordingEngine, error) {
	if e.Open == nil {
		return nil, errors.New("no capture backend configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return newRecorder(path, e.Format, e.Open, e.Meter, onEnd, e.logger())
}

var _ playrec.EngineFactory = (*Engines)(nil)
