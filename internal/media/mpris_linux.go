//go:build linux

package media

import (
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/samber/lo"
)

const (
	mprisInterface       = "org.mpris.MediaPlayer2"
	mprisPlayerInterface = "org.mpris.MediaPlayer2.Player"
	mprisBusName         = "org.mpris.MediaPlayer2.playrecd"
	mprisObjectPath      = "/org/mpris/MediaPlayer2"
	mprisIdentity        = "playrecd"
	mprisTrackID         = "/org/playrecd/resource/current"
)

// MPRISSession publishes the daemon on the session bus
type MPRISSession struct {
	conn *dbus.Conn

	mu       sync.Mutex
	handler  CommandHandler
	metadata Metadata
	state    PlaybackState
	position time.Duration
	volume   float64
}

// NewSession creates a new MPRIS media session
func NewSession() (Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	reply, err := conn.RequestName(mprisBusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", mprisBusName)
	}

	session := &MPRISSession{
		conn:   conn,
		state:  StateStopped,
		volume: 1.0,
	}
	if err := session.exportInterfaces(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to export interfaces: %w", err)
	}
	return session, nil
}

func (s *MPRISSession) exportInterfaces() error {
	for _, iface := range []string{mprisInterface, mprisPlayerInterface, "org.freedesktop.DBus.Properties"} {
		if err := s.conn.Export(s, dbus.ObjectPath(mprisObjectPath), iface); err != nil {
			return err
		}
	}
	return nil
}

// UpdateMetadata updates the resource metadata
func (s *MPRISSession) UpdateMetadata(metadata Metadata) error {
	s.mu.Lock()
	s.metadata = metadata
	props := map[string]dbus.Variant{
		"Metadata": dbus.MakeVariant(s.metadataMap()),
	}
	s.mu.Unlock()

	return s.emitPropertiesChanged(props)
}

// UpdatePlaybackState updates the playback state
func (s *MPRISSession) UpdatePlaybackState(state PlaybackState, position time.Duration) error {
	s.mu.Lock()
	oldState := s.state
	oldPosition := s.position
	s.state = state
	s.position = position
	s.mu.Unlock()

	// Clients extrapolate position from Rate, so Seeked is only needed when
	// playback starts or jumps.
	if state == StatePlaying && (oldState != state || position < oldPosition) {
		s.emitSeeked(position)
	}
	if oldState == state {
		return nil
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(state.String()),
	})
}

// UpdateVolume reports a volume change
func (s *MPRISSession) UpdateVolume(volume float64) error {
	s.mu.Lock()
	changed := s.volume != volume
	s.volume = volume
	s.mu.Unlock()

	if !changed {
		return nil
	}
	return s.emitPropertiesChanged(map[string]dbus.Variant{
		"Volume": dbus.MakeVariant(volume),
	})
}

func (s *MPRISSession) emitSeeked(position time.Duration) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		mprisPlayerInterface+".Seeked",
		position.Microseconds(),
	)
}

// SetCommandHandler sets the handler for media commands
func (s *MPRISSession) SetCommandHandler(handler CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Close releases resources
func (s *MPRISSession) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *MPRISSession) dispatch(cmd Command, data any) *dbus.Error {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return nil
	}
	if err := handler.OnCommand(cmd, data); err != nil {
		return dbus.MakeFailedError(err)
	}
	return nil
}

// org.mpris.MediaPlayer2 methods

func (s *MPRISSession) Raise() *dbus.Error { return nil }
func (s *MPRISSession) Quit() *dbus.Error  { return nil }

// org.mpris.MediaPlayer2.Player methods

func (s *MPRISSession) Play() *dbus.Error      { return s.dispatch(CmdPlay, nil) }
func (s *MPRISSession) Pause() *dbus.Error     { return s.dispatch(CmdPause, nil) }
func (s *MPRISSession) PlayPause() *dbus.Error { return s.dispatch(CmdPlayPause, nil) }
func (s *MPRISSession) Stop() *dbus.Error      { return s.dispatch(CmdStop, nil) }

// Next and Previous are advertised as unsupported through CanGoNext/CanGoPrevious.
func (s *MPRISSession) Next() *dbus.Error     { return nil }
func (s *MPRISSession) Previous() *dbus.Error { return nil }

func (s *MPRISSession) Seek(offset int64) *dbus.Error {
	s.mu.Lock()
	target := max(s.position+time.Duration(offset)*time.Microsecond, 0)
	s.mu.Unlock()
	return s.dispatch(CmdSeek, target)
}

func (s *MPRISSession) SetPosition(trackID dbus.ObjectPath, position int64) *dbus.Error {
	if trackID != mprisTrackID || position < 0 {
		return nil
	}
	return s.dispatch(CmdSeek, time.Duration(position)*time.Microsecond)
}

// org.freedesktop.DBus.Properties methods

func (s *MPRISSession) Get(iface, prop string) (dbus.Variant, *dbus.Error) {
	var props map[string]dbus.Variant
	switch iface {
	case mprisInterface:
		props = mediaPlayer2Properties()
	case mprisPlayerInterface:
		props = s.playerProperties()
	default:
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
	}
	v, ok := props[prop]
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property: %s", prop))
	}
	return v, nil
}

func (s *MPRISSession) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	switch iface {
	case mprisInterface:
		return mediaPlayer2Properties(), nil
	case mprisPlayerInterface:
		return s.playerProperties(), nil
	}
	return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface: %s", iface))
}

func (s *MPRISSession) Set(iface, prop string, value dbus.Variant) *dbus.Error {
	if iface != mprisPlayerInterface || prop != "Volume" {
		return nil
	}
	volume, ok := value.Value().(float64)
	if !ok {
		return dbus.MakeFailedError(fmt.Errorf("invalid type for Volume"))
	}
	return s.dispatch(CmdSetVolume, lo.Clamp(volume, 0, 1))
}

func mediaPlayer2Properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"CanQuit":             dbus.MakeVariant(false),
		"CanRaise":            dbus.MakeVariant(false),
		"HasTrackList":        dbus.MakeVariant(false),
		"Identity":            dbus.MakeVariant(mprisIdentity),
		"DesktopEntry":        dbus.MakeVariant(mprisIdentity),
		"SupportedUriSchemes": dbus.MakeVariant([]string{"file", "http", "https"}),
		"SupportedMimeTypes":  dbus.MakeVariant([]string{"audio/wav", "audio/x-wav", "audio/mpeg", "audio/flac"}),
	}
}

func (s *MPRISSession) playerProperties() map[string]dbus.Variant {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Recording cannot be sought.
	canSeek := !s.metadata.Recording && s.metadata.Duration > 0
	return map[string]dbus.Variant{
		"PlaybackStatus": dbus.MakeVariant(s.state.String()),
		"Metadata":       dbus.MakeVariant(s.metadataMap()),
		"Position":       dbus.MakeVariant(s.position.Microseconds()),
		"Rate":           dbus.MakeVariant(1.0),
		"MinimumRate":    dbus.MakeVariant(1.0),
		"MaximumRate":    dbus.MakeVariant(1.0),
		"CanGoNext":      dbus.MakeVariant(false),
		"CanGoPrevious":  dbus.MakeVariant(false),
		"CanPlay":        dbus.MakeVariant(s.metadata.Location != ""),
		"CanPause":       dbus.MakeVariant(true),
		"CanSeek":        dbus.MakeVariant(canSeek),
		"CanControl":     dbus.MakeVariant(true),
		"Volume":         dbus.MakeVariant(s.volume),
	}
}

// metadataMap must be called with s.mu held.
func (s *MPRISSession) metadataMap() map[string]dbus.Variant {
	m := map[string]dbus.Variant{
		"mpris:trackid": dbus.MakeVariant(dbus.ObjectPath(mprisTrackID)),
	}
	if s.metadata.Title != "" {
		m["xesam:title"] = dbus.MakeVariant(s.metadata.Title)
	}
	if s.metadata.Artist != "" {
		m["xesam:artist"] = dbus.MakeVariant([]string{s.metadata.Artist})
	}
	if s.metadata.Album != "" {
		m["xesam:album"] = dbus.MakeVariant(s.metadata.Album)
	}
	if s.metadata.Location != "" {
		m["xesam:url"] = dbus.MakeVariant(s.metadata.Location)
	}
	if s.metadata.Duration > 0 {
		m["mpris:length"] = dbus.MakeVariant(s.metadata.Duration.Microseconds())
	}
	return m
}

func (s *MPRISSession) emitPropertiesChanged(props map[string]dbus.Variant) error {
	return s.conn.Emit(
		dbus.ObjectPath(mprisObjectPath),
		"org.freedesktop.DBus.Properties.PropertiesChanged",
		mprisPlayerInterface,
		props,
		[]string{},
	)
}
