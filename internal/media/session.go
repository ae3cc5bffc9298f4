// Package media provides OS-level media session integration.
package media

import (
	"time"
)

// PlaybackState represents the playback state for media sessions
type PlaybackState int

const (
	StateStopped PlaybackState = iota
	StatePlaying
	StatePaused
)

func (s PlaybackState) String() string {
	switch s {
	case StatePlaying:
		return "Playing"
	case StatePaused:
		return "Paused"
	default:
		return "Stopped"
	}
}

// Metadata describes the current resource for media session display
type Metadata struct {
	Title    string
	Artist   string
	Album    string
	Location string
	Duration time.Duration
	// Recording marks a capture session rather than playback.
	Recording bool
}

// Session is the interface for OS media session integration
type Session interface {
	// UpdateMetadata updates the current resource metadata
	UpdateMetadata(metadata Metadata) error

	// UpdatePlaybackState updates the playback state and position
	UpdatePlaybackState(state PlaybackState, position time.Duration) error

	// UpdateVolume reports the current volume, 0.0 - 1.0
	UpdateVolume(volume float64) error

	// SetCommandHandler sets the handler for media commands (play, pause, etc.)
	SetCommandHandler(handler CommandHandler)

	// Close releases resources
	Close() error
}

// Command represents a media command from the OS
type Command int

const (
	CmdPlay Command = iota
	CmdPause
	CmdPlayPause
	CmdStop
	CmdSeek
	CmdSetVolume
)

// String returns the command name
func (c Command) String() string {
	switch c {
	case CmdPlay:
		return "Play"
	case CmdPause:
		return "Pause"
	case CmdPlayPause:
		return "PlayPause"
	case CmdStop:
		return "Stop"
	case CmdSeek:
		return "Seek"
	case CmdSetVolume:
		return "SetVolume"
	default:
		return "Unknown"
	}
}

// CommandHandler handles media commands from the OS. Seek carries the
// absolute target as a time.Duration, SetVolume a float64.
type CommandHandler interface {
	OnCommand(cmd Command, data any) error
}

// CommandHandlerFunc is a function adapter for CommandHandler
type CommandHandlerFunc func(cmd Command, data any) error

func (f CommandHandlerFunc) OnCommand(cmd Command, data any) error {
	return f(cmd, data)
}

// NoOpSession is a session that does nothing
// Used when media session integration is not available
type NoOpSession struct{}

// NewNoOpSession creates a new no-op session
func NewNoOpSession() *NoOpSession {
	return &NoOpSession{}
}

func (s *NoOpSession) UpdateMetadata(Metadata) error                          { return nil }
func (s *NoOpSession) UpdatePlaybackState(PlaybackState, time.Duration) error { return nil }
func (s *NoOpSession) UpdateVolume(float64) error                             { return nil }
func (s *NoOpSession) SetCommandHandler(CommandHandler)                       {}
func (s *NoOpSession) Close() error                                           { return nil }
