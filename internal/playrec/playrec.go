// Package playrec implements a combined audio player and recorder driven by
// a small state machine. Preparation of a resource runs in the background;
// results, progress ticks and completion are reported to a Delegate on a
// dedicated dispatch goroutine.
package playrec

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
)

const (
	DefaultProgressInterval = 250 * time.Millisecond
	MinProgressInterval     = 100 * time.Millisecond
	MaxProgressInterval     = time.Second
)

// Options configures a PlayerRecorder. Zero values select defaults.
type Options struct {
	// Location is the initial resource location.
	Location string
	// Resolver turns a location into a playable Source. Defaults to LocalResolver.
	Resolver Resolver
	// Engines builds playback and recording engines. Without it every
	// preparation fails with ErrNoEngine.
	Engines EngineFactory
	// Permissions gates recording. Defaults to AllowRecording.
	Permissions PermissionProvider
	// ProgressInterval is clamped to [MinProgressInterval, MaxProgressInterval].
	ProgressInterval time.Duration
	// Volume is the initial playback volume in [0, 1]. Zero means full volume.
	Volume float64
	Logger *log.Logger
}

// PlayerRecorder plays or records one resource location at a time.
type PlayerRecorder struct {
	mu    sync.Mutex
	state atomic.Int32

	mode     Mode
	location string
	volume   float64
	player   PlaybackEngine
	recorder RecordingEngine

	// session is bumped on every preparation and on teardown; callbacks and
	// notifications carrying an older value are discarded.
	session    uint64
	cancelPrep context.CancelFunc
	finishing  bool
	progress   chan struct{}
	lastErr    error
	closed     bool

	resolver    Resolver
	engines     EngineFactory
	permissions PermissionProvider
	interval    time.Duration
	logger      *log.Logger

	delegate atomic.Pointer[Registration]
	dispatch *dispatcher
}

// New creates an idle PlayerRecorder.
func New(opts Options) *PlayerRecorder {
	pr := &PlayerRecorder{
		location:    opts.Location,
		volume:      1.0,
		resolver:    opts.Resolver,
		engines:     opts.Engines,
		permissions: opts.Permissions,
		interval:    ClampProgressInterval(opts.ProgressInterval),
		logger:      opts.Logger,
	}
	if opts.Volume > 0 {
		pr.volume = lo.Clamp(opts.Volume, 0, 1)
	}
	if pr.resolver == nil {
		pr.resolver = LocalResolver{}
	}
	if pr.permissions == nil {
		pr.permissions = AllowRecording
	}
	if pr.logger == nil {
		pr.logger = log.Default().WithPrefix("playrec")
	}
	pr.dispatch = newDispatcher(pr.logger, pr.deliver)
	return pr
}

// ClampProgressInterval applies the default and bounds to a tick interval.
func ClampProgressInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultProgressInterval
	}
	return lo.Clamp(d, MinProgressInterval, MaxProgressInterval)
}

// State returns the current state. Safe from any goroutine.
func (pr *PlayerRecorder) State() State {
	return State(pr.state.Load())
}

// Mode returns the orientation of the current session, ModeNone when idle.
func (pr *PlayerRecorder) Mode() Mode {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.mode
}

// ProgressInterval returns the effective progress tick interval.
func (pr *PlayerRecorder) ProgressInterval() time.Duration {
	return pr.interval
}

// SetResourceLocation sets the location used by the next preparation. It is
// only accepted while idle.
func (pr *PlayerRecorder) SetResourceLocation(location string) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.closed {
		return pr.rejectLocked("setResourceLocation", ErrClosed)
	}
	if pr.State() != StateNone || pr.finishing {
		return pr.rejectLocked("setResourceLocation", ErrLocationBusy)
	}
	pr.location = location
	return true
}

// ResourceLocation returns the configured location.
func (pr *PlayerRecorder) ResourceLocation() string {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.location
}

// LastError returns the error behind the most recent rejected request or
// failed session, or nil.
func (pr *PlayerRecorder) LastError() error {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.lastErr
}

// PrepareToPlay starts asynchronous preparation for playback. It returns
// false when the request is not valid in the current state.
func (pr *PlayerRecorder) PrepareToPlay() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.beginPrepareLocked(ModePlay, eventPrepareToPlay)
}

// PrepareToRecord starts asynchronous preparation for recording.
func (pr *PlayerRecorder) PrepareToRecord() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.beginPrepareLocked(ModeRecord, eventPrepareToRecord)
}

// Play starts playback. From idle it prepares first and starts on success;
// from PreparedToPlay or a paused playback session it starts immediately.
func (pr *PlayerRecorder) Play() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if err := pr.usableLocked(); err != nil {
		return pr.rejectLocked("play", err)
	}
	switch pr.State() {
	case StateNone:
		return pr.beginPrepareLocked(ModePlay, eventPlay)
	case StatePreparedToPlay, StatePaused:
		if pr.mode != ModePlay {
			return pr.rejectLocked("play", ErrModeConflict)
		}
		pr.startLocked(eventPlay)
		return true
	default:
		if pr.mode == ModeRecord {
			return pr.rejectLocked("play", ErrModeConflict)
		}
		return pr.rejectLocked("play", ErrInvalidTransition)
	}
}

// Record starts recording, preparing first when idle.
func (pr *PlayerRecorder) Record() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if err := pr.usableLocked(); err != nil {
		return pr.rejectLocked("record", err)
	}
	switch pr.State() {
	case StateNone:
		return pr.beginPrepareLocked(ModeRecord, eventRecord)
	case StatePreparedToRecord, StatePaused:
		if pr.mode != ModeRecord {
			return pr.rejectLocked("record", ErrModeConflict)
		}
		pr.startLocked(eventRecord)
		return true
	default:
		if pr.mode == ModePlay {
			return pr.rejectLocked("record", ErrModeConflict)
		}
		return pr.rejectLocked("record", ErrInvalidTransition)
	}
}

// Pause suspends an active session. Anywhere else it does nothing.
func (pr *PlayerRecorder) Pause() {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	state := pr.State()
	if pr.closed || pr.finishing || !state.IsActive() {
		pr.logger.Debug("pause ignored", "state", state)
		return
	}

	var err error
	if pr.mode == ModePlay {
		err = pr.player.Pause()
	} else {
		err = pr.recorder.Pause()
	}
	if err != nil {
		pr.logger.Error("engine pause failed", "mode", pr.mode, "err", err)
		pr.beginFinishLocked(err)
		return
	}

	pr.stopProgressLocked()
	pr.applyLocked(eventPause)
}

// Stop ends the current session. While playing, paused or recording the
// delegate receives WillFinish(true) before the engine is torn down. A
// prepared engine is discarded silently, and a preparation in flight is
// canceled and reported as failed. Stop returns false only when idle.
func (pr *PlayerRecorder) Stop() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.closed {
		return pr.rejectLocked("stop", ErrClosed)
	}
	if pr.finishing {
		return true
	}

	state := pr.State()
	switch {
	case state.HasTransport():
		pr.beginFinishLocked(nil)
		return true
	case state == StatePreparedToPlay || state == StatePreparedToRecord:
		player, recorder := pr.detachLocked()
		pr.session++
		pr.applyLocked(eventFinish)
		pr.mode = ModeNone
		go pr.stopEngines(player, recorder)
		return true
	case state.IsPreparing():
		pr.cancelPreparationLocked()
		return true
	default:
		return pr.rejectLocked("stop", ErrInvalidTransition)
	}
}

// SeekToTime moves the playback position. Only valid in play mode once an
// engine is prepared. The position is clamped to the media duration.
func (pr *PlayerRecorder) SeekToTime(position time.Duration) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if err := pr.usableLocked(); err != nil {
		return pr.rejectLocked("seek", err)
	}
	state := pr.State()
	if pr.mode != ModePlay || pr.player == nil || !(state == StatePreparedToPlay || state.HasTransport()) {
		return pr.rejectLocked("seek", ErrInvalidTransition)
	}

	position = max(position, 0)
	if d := pr.player.Duration(); d > 0 {
		position = min(position, d)
	}
	if err := pr.player.Seek(position); err != nil {
		pr.logger.Error("seek failed", "position", position, "err", err)
		pr.lastErr = err
		return false
	}
	return true
}

// CurrentTime returns the position of the active session. It is zero unless
// playing, paused or recording.
func (pr *PlayerRecorder) CurrentTime() time.Duration {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if !pr.State().HasTransport() {
		return 0
	}
	switch {
	case pr.mode == ModePlay && pr.player != nil:
		return pr.player.Position()
	case pr.mode == ModeRecord && pr.recorder != nil:
		return pr.recorder.Position()
	default:
		return 0
	}
}

// Duration returns the length of the prepared media. It is zero outside
// play mode and before preparation completes.
func (pr *PlayerRecorder) Duration() time.Duration {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	state := pr.State()
	if pr.mode != ModePlay || pr.player == nil {
		return 0
	}
	if state != StatePreparedToPlay && !state.HasTransport() {
		return 0
	}
	return pr.player.Duration()
}

// Volume returns the playback volume.
func (pr *PlayerRecorder) Volume() float64 {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return pr.volume
}

// SetVolume sets the playback volume, clamped to [0, 1]. It applies to the
// current engine and to every engine prepared later.
func (pr *PlayerRecorder) SetVolume(volume float64) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	pr.volume = lo.Clamp(volume, 0, 1)
	if pr.player != nil {
		pr.player.SetVolume(pr.volume)
	}
}

// SetDelegate registers d as the sole delegate, replacing any previous one.
// Passing nil clears it.
func (pr *PlayerRecorder) SetDelegate(d Delegate) *Registration {
	if d == nil {
		if old := pr.delegate.Swap(nil); old != nil {
			old.released.Store(true)
		}
		return nil
	}
	reg := &Registration{owner: pr, delegate: d}
	if old := pr.delegate.Swap(reg); old != nil {
		old.released.Store(true)
	}
	return reg
}

// Close tears down any session without notifying the delegate and stops
// the dispatch goroutine. Further requests are rejected with ErrClosed.
func (pr *PlayerRecorder) Close() error {
	pr.mu.Lock()
	if pr.closed {
		pr.mu.Unlock()
		return nil
	}
	pr.closed = true
	if pr.cancelPrep != nil {
		pr.cancelPrep()
		pr.cancelPrep = nil
	}
	pr.stopProgressLocked()
	player, recorder := pr.detachLocked()
	pr.session++
	pr.finishing = false
	pr.mode = ModeNone
	pr.setStateLocked(StateNone)
	pr.mu.Unlock()

	pr.dispatch.close()
	pr.stopEngines(player, recorder)
	pr.logger.Debug("closed")
	return nil
}

func (pr *PlayerRecorder) usableLocked() error {
	if pr.closed {
		return ErrClosed
	}
	if pr.finishing {
		return ErrInvalidTransition
	}
	return nil
}

func (pr *PlayerRecorder) rejectLocked(op string, err error) bool {
	pr.lastErr = err
	pr.logger.Debug("request rejected", "op", op, "state", pr.State(), "mode", pr.mode, "err", err)
	return false
}

func (pr *PlayerRecorder) setStateLocked(s State) {
	pr.state.Store(int32(s))
}

// applyLocked moves the state machine along ev. An event missing from the
// table is a programming error in the caller and is only logged.
func (pr *PlayerRecorder) applyLocked(ev event) bool {
	from := pr.State()
	to, ok := next(from, pr.mode, ev)
	if !ok {
		pr.logger.Warn("no transition", "from", from, "mode", pr.mode, "event", ev)
		return false
	}
	pr.setStateLocked(to)
	pr.logger.Debug("transition", "from", from, "event", ev, "to", to)
	return true
}

// startLocked starts the prepared or paused engine for the current mode.
func (pr *PlayerRecorder) startLocked(ev event) {
	if !pr.applyLocked(ev) {
		return
	}
	var err error
	if pr.mode == ModePlay {
		err = pr.player.Start()
	} else {
		err = pr.recorder.Start()
	}
	if err != nil {
		pr.logger.Error("engine start failed", "mode", pr.mode, "err", err)
		pr.beginFinishLocked(err)
		return
	}
	pr.startProgressLocked()
}

// beginFinishLocked schedules WillFinish followed by teardown on the
// dispatch goroutine. Until teardown runs, State keeps reporting the
// transport state and the engine stays queryable.
func (pr *PlayerRecorder) beginFinishLocked(cause error) {
	if pr.finishing {
		return
	}
	pr.finishing = true
	if cause != nil {
		pr.lastErr = cause
	}
	pr.stopProgressLocked()
	pr.session++
	token := pr.session
	pr.logger.Info("session finishing", "mode", pr.mode, "successful", cause == nil)
	pr.dispatch.push(notification{
		kind:       notifyFinish,
		successful: cause == nil,
		session:    token,
		after:      func() { pr.completeFinish(token) },
	})
}

func (pr *PlayerRecorder) completeFinish(token uint64) {
	pr.mu.Lock()
	if !pr.finishing || pr.session != token {
		pr.mu.Unlock()
		return
	}
	player, recorder := pr.detachLocked()
	pr.applyLocked(eventFinish)
	pr.finishing = false
	pr.mode = ModeNone
	pr.mu.Unlock()

	pr.stopEngines(player, recorder)
}

// transportEnded handles an engine's own end of stream or failure.
func (pr *PlayerRecorder) transportEnded(token uint64, err error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if token != pr.session || pr.closed || pr.finishing || !pr.State().HasTransport() {
		return
	}
	if err != nil {
		pr.logger.Error("engine failed", "mode", pr.mode, "err", err)
	} else {
		pr.logger.Info("engine reached end", "mode", pr.mode)
	}
	pr.beginFinishLocked(err)
}

func (pr *PlayerRecorder) detachLocked() (PlaybackEngine, RecordingEngine) {
	player, recorder := pr.player, pr.recorder
	pr.player, pr.recorder = nil, nil
	return player, recorder
}

func (pr *PlayerRecorder) stopEngines(player PlaybackEngine, recorder RecordingEngine) {
	if player != nil {
		if err := player.Stop(); err != nil {
			pr.logger.Warn("stop playback engine", "err", err)
		}
	}
	if recorder != nil {
		if err := recorder.Stop(); err != nil {
			pr.logger.Warn("stop recording engine", "err", err)
		}
	}
}

// deliver runs on the dispatch goroutine.
func (pr *PlayerRecorder) deliver(n notification) {
	if n.kind == notifyUpdate && !pr.updateCurrent(n.session) {
		return
	}
	d := pr.delegate.Load().active()
	if d == nil {
		return
	}
	switch n.kind {
	case notifyPreparedPlayer:
		d.DidPreparePlayer(pr, n.successful)
	case notifyPreparedRecorder:
		d.DidPrepareRecorder(pr, n.successful)
	case notifyUpdate:
		d.DidUpdate(pr)
	case notifyFinish:
		d.WillFinish(pr, n.successful)
	}
}

func (pr *PlayerRecorder) updateCurrent(session uint64) bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return !pr.closed && !pr.finishing && pr.session == session && pr.State().IsActive()
}
