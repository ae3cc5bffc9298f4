package playrec

import (
	"context"
	"errors"
	"fmt"
)

// beginPrepareLocked validates ev against the table and starts background
// preparation for mode.
func (pr *PlayerRecorder) beginPrepareLocked(mode Mode, ev event) bool {
	if err := pr.usableLocked(); err != nil {
		return pr.rejectLocked(ev.String(), err)
	}
	state := pr.State()
	to, ok := next(state, ModeNone, ev)
	if state != StateNone || !ok {
		err := ErrInvalidTransition
		if pr.mode != ModeNone && pr.mode != mode {
			err = ErrModeConflict
		}
		return pr.rejectLocked(ev.String(), err)
	}
	if pr.location == "" {
		return pr.rejectLocked(ev.String(), ErrNoLocation)
	}
	if pr.engines == nil {
		return pr.rejectLocked(ev.String(), ErrNoEngine)
	}

	pr.session++
	token := pr.session
	ctx, cancel := context.WithCancel(context.Background())
	pr.cancelPrep = cancel
	pr.mode = modeOf(to)
	pr.lastErr = nil
	pr.setStateLocked(to)
	pr.logger.Debug("transition", "from", state, "event", ev, "to", to)

	location := pr.location
	go pr.prepare(ctx, token, mode, location)
	return true
}

// prepare runs off the caller's goroutine and hands its result back to the core.
func (pr *PlayerRecorder) prepare(ctx context.Context, token uint64, mode Mode, location string) {
	onEnd := func(err error) {
		// Engines may report from inside Start/Pause/Stop; never block them on our lock.
		go pr.transportEnded(token, err)
	}

	switch mode {
	case ModePlay:
		pr.logger.Debug("preparing playback", "location", location)
		src, err := pr.resolver.Resolve(ctx, location)
		if err != nil {
			pr.prepared(token, nil, nil, fmt.Errorf("resolve %s: %w", location, err))
			return
		}
		engine, err := pr.engines.NewPlayback(ctx, src, onEnd)
		pr.prepared(token, engine, nil, err)

	case ModeRecord:
		pr.logger.Debug("preparing recorder", "location", location)
		path, err := LocalPath(location)
		if err != nil {
			pr.prepared(token, nil, nil, err)
			return
		}
		if err := pr.permissions.RequestRecordPermission(ctx); err != nil {
			pr.prepared(token, nil, nil, err)
			return
		}
		engine, err := pr.engines.NewRecording(ctx, path, onEnd)
		pr.prepared(token, nil, engine, err)
	}
}

// prepared applies a preparation result. Results for a superseded session
// are discarded, and any engine that arrives with them is stopped.
func (pr *PlayerRecorder) prepared(token uint64, player PlaybackEngine, recorder RecordingEngine, err error) {
	pr.mu.Lock()
	if token != pr.session || pr.closed {
		pr.mu.Unlock()
		pr.logger.Debug("discarding stale preparation", "session", token, "err", err)
		pr.stopEngines(player, recorder)
		return
	}
	pr.cancelPrep = nil
	mode := pr.mode
	kind := notifyPreparedPlayer
	if mode == ModeRecord {
		kind = notifyPreparedRecorder
	}

	if err == nil && player == nil && recorder == nil {
		err = ErrNoEngine
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = ErrCanceled
		}
		pr.logger.Error("preparation failed", "mode", mode, "err", err)
		pr.lastErr = err
		pr.applyLocked(eventPrepareFailed)
		pr.mode = ModeNone
		pr.dispatch.push(notification{kind: kind, successful: false, session: token})
		pr.mu.Unlock()
		return
	}

	pr.player, pr.recorder = player, recorder
	if player != nil {
		player.SetVolume(pr.volume)
	}
	pr.applyLocked(eventPrepared)
	pr.logger.Info("prepared", "mode", mode, "state", pr.State())
	pr.dispatch.push(notification{kind: kind, successful: true, session: token})

	if pr.State().IsActive() {
		var startErr error
		if mode == ModePlay {
			startErr = player.Start()
		} else {
			startErr = recorder.Start()
		}
		if startErr != nil {
			pr.logger.Error("engine start failed", "mode", mode, "err", startErr)
			pr.beginFinishLocked(startErr)
		} else {
			pr.startProgressLocked()
		}
	}
	pr.mu.Unlock()
}

// cancelPreparationLocked abandons the preparation in flight. The delegate
// hears about it once, as a failed preparation; a late engine is discarded.
func (pr *PlayerRecorder) cancelPreparationLocked() {
	mode := pr.mode
	if pr.cancelPrep != nil {
		pr.cancelPrep()
		pr.cancelPrep = nil
	}
	pr.session++
	token := pr.session
	pr.lastErr = ErrCanceled
	pr.applyLocked(eventPrepareFailed)
	pr.mode = ModeNone

	kind := notifyPreparedPlayer
	if mode == ModeRecord {
		kind = notifyPreparedRecorder
	}
	pr.logger.Info("preparation canceled", "mode", mode)
	pr.dispatch.push(notification{kind: kind, successful: false, session: token})
}
