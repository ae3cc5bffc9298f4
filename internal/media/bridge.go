package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const metadataTimeout = 5 * time.Second

// StateFor maps a core state onto the coarser media session states.
func StateFor(s playrec.State) PlaybackState {
	switch s {
	case playrec.StatePlaying, playrec.StateRecording:
		return StatePlaying
	case playrec.StatePaused:
		return StatePaused
	default:
		return StateStopped
	}
}

// Bridge keeps a Session in step with a PlayerRecorder and routes OS media
// commands back to it. Register it as (part of) the PlayerRecorder delegate.
type Bridge struct {
	session Session
	pr      *playrec.PlayerRecorder
	logger  *log.Logger

	mu     sync.Mutex
	lookup MetadataLookup
	// seq identifies the newest metadata publication; older lookups are discarded.
	seq uint64
}

// NewBridge wires session commands to pr.
func NewBridge(session Session, pr *playrec.PlayerRecorder, logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	b := &Bridge{session: session, pr: pr, logger: logger}
	session.SetCommandHandler(b)
	return b
}

// OnCommand implements CommandHandler.
func (b *Bridge) OnCommand(cmd Command, data any) error {
	b.logger.Debug("media command", "cmd", cmd)

	var accepted bool
	switch cmd {
	case CmdPlay:
		accepted = b.resume()
	case CmdPause:
		b.pr.Pause()
		accepted = b.pr.State() == playrec.StatePaused
	case CmdPlayPause:
		if b.pr.State().IsActive() {
			b.pr.Pause()
			accepted = b.pr.State() == playrec.StatePaused
		} else {
			accepted = b.resume()
		}
	case CmdStop:
		accepted = b.pr.Stop()
	case CmdSeek:
		pos, ok := data.(time.Duration)
		if !ok {
			return fmt.Errorf("seek: unexpected %T", data)
		}
		accepted = b.pr.SeekToTime(pos)
		if accepted {
			b.session.UpdatePlaybackState(StateFor(b.pr.State()), b.pr.CurrentTime())
		}
	case CmdSetVolume:
		v, ok := data.(float64)
		if !ok {
			return fmt.Errorf("set volume: unexpected %T", data)
		}
		b.pr.SetVolume(v)
		accepted = true
		b.session.UpdateVolume(b.pr.Volume())
	default:
		return fmt.Errorf("unsupported media command %s", cmd)
	}
	if !accepted {
		return fmt.Errorf("%s rejected: %v", cmd, b.pr.LastError())
	}
	return nil
}

// SetMetadataLookup enables tag lookup for prepared playback. The lookup
// runs off the delegate goroutine and its result replaces the location-only
// metadata if the same resource is still loaded.
func (b *Bridge) SetMetadataLookup(fn MetadataLookup) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookup = fn
}

// resume continues in the session's own mode: a paused or prepared recording
// keeps recording rather than switching to playback.
func (b *Bridge) resume() bool {
	if b.pr.Mode() == playrec.ModeRecord {
		return b.pr.Record()
	}
	return b.pr.Play()
}

func (b *Bridge) publish(pr *playrec.PlayerRecorder) {
	if err := b.session.UpdatePlaybackState(StateFor(pr.State()), pr.CurrentTime()); err != nil {
		b.logger.Debug("media session update failed", "err", err)
	}
}

func (b *Bridge) DidPreparePlayer(pr *playrec.PlayerRecorder, successful bool) {
	if successful {
		b.publishMetadata(pr, false)
	}
	b.publish(pr)
}

func (b *Bridge) DidPrepareRecorder(pr *playrec.PlayerRecorder, successful bool) {
	if successful {
		b.publishMetadata(pr, true)
	}
	b.publish(pr)
}

func (b *Bridge) DidUpdate(pr *playrec.PlayerRecorder) {
	b.publish(pr)
}

// WillFinish runs before teardown, so the session is told it stopped.
func (b *Bridge) WillFinish(*playrec.PlayerRecorder, bool) {
	if err := b.session.UpdatePlaybackState(StateStopped, 0); err != nil {
		b.logger.Debug("media session update failed", "err", err)
	}
}

func (b *Bridge) publishMetadata(pr *playrec.PlayerRecorder, recording bool) {
	location := pr.ResourceLocation()
	base := Metadata{
		Title:     location,
		Location:  location,
		Duration:  pr.Duration(),
		Recording: recording,
	}

	b.mu.Lock()
	b.seq++
	seq := b.seq
	lookup := b.lookup
	b.mu.Unlock()

	if err := b.session.UpdateMetadata(base); err != nil {
		b.logger.Debug("media metadata update failed", "err", err)
	}
	if lookup == nil || recording || location == "" {
		return
	}
	go b.enrich(lookup, seq, base)
}

func (b *Bridge) enrich(lookup MetadataLookup, seq uint64, base Metadata) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()

	tags, err := lookup(ctx, base.Location)
	if err != nil {
		b.logger.Debug("metadata lookup failed", "location", base.Location, "err", err)
		return
	}
	merged := base
	if tags.Title != "" {
		merged.Title = tags.Title
	}
	merged.Artist = tags.Artist
	merged.Album = tags.Album
	if merged.Duration <= 0 {
		merged.Duration = tags.Duration
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if seq != b.seq || b.pr.ResourceLocation() != base.Location {
		return
	}
	if err := b.session.UpdateMetadata(merged); err != nil {
		b.logger.Debug("media metadata update failed", "err", err)
	}
}

var (
	_ playrec.Delegate = (*Bridge)(nil)
	_ CommandHandler   = (*Bridge)(nil)
)
