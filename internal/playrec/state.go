package playrec

import "github.com/samber/lo"

// State is the lifecycle state of a PlayerRecorder.
type State int32

const (
	StateNone State = iota
	StatePreparingToPlay
	StatePreparedToPlay
	StatePreparingToPlayAndPlaying
	StatePlaying
	StatePreparingToRecord
	StatePreparedToRecord
	StatePreparingToRecordAndRecording
	StateRecording
	StatePaused
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StatePreparingToPlay:
		return "PreparingToPlay"
	case StatePreparedToPlay:
		return "PreparedToPlay"
	case StatePreparingToPlayAndPlaying:
		return "PreparingToPlayAndPlaying"
	case StatePlaying:
		return "Playing"
	case StatePreparingToRecord:
		return "PreparingToRecord"
	case StatePreparedToRecord:
		return "PreparedToRecord"
	case StatePreparingToRecordAndRecording:
		return "PreparingToRecordAndRecording"
	case StateRecording:
		return "Recording"
	case StatePaused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// IsPreparing reports whether a preparation request is in flight.
func (s State) IsPreparing() bool {
	return lo.Contains([]State{
		StatePreparingToPlay,
		StatePreparingToPlayAndPlaying,
		StatePreparingToRecord,
		StatePreparingToRecordAndRecording,
	}, s)
}

// IsActive reports whether an engine is moving (playing or recording).
func (s State) IsActive() bool {
	return s == StatePlaying || s == StateRecording
}

// HasTransport reports whether a transport session exists, paused or not.
func (s State) HasTransport() bool {
	return s.IsActive() || s == StatePaused
}

// Mode is the orientation of the current session.
type Mode int

const (
	ModeNone Mode = iota
	ModePlay
	ModeRecord
)

// String returns the mode name
func (m Mode) String() string {
	switch m {
	case ModePlay:
		return "play"
	case ModeRecord:
		return "record"
	default:
		return "none"
	}
}

// modeOf returns the mode implied by a state. Paused carries no mode of its
// own, so it reports ModeNone and callers use the held session mode.
func modeOf(s State) Mode {
	switch s {
	case StatePreparingToPlay, StatePreparedToPlay, StatePreparingToPlayAndPlaying, StatePlaying:
		return ModePlay
	case StatePreparingToRecord, StatePreparedToRecord, StatePreparingToRecordAndRecording, StateRecording:
		return ModeRecord
	default:
		return ModeNone
	}
}

// event is an input to the state machine.
type event int

const (
	eventPrepareToPlay event = iota
	eventPlay
	eventPrepareToRecord
	eventRecord
	eventPrepared
	eventPrepareFailed
	eventPause
	eventFinish
)

func (e event) String() string {
	switch e {
	case eventPrepareToPlay:
		return "prepareToPlay"
	case eventPlay:
		return "play"
	case eventPrepareToRecord:
		return "prepareToRecord"
	case eventRecord:
		return "record"
	case eventPrepared:
		return "prepared"
	case eventPrepareFailed:
		return "prepareFailed"
	case eventPause:
		return "pause"
	case eventFinish:
		return "finish"
	default:
		return "unknown"
	}
}

type transition struct {
	from State
	mode Mode
	ev   event
}

// transitions is the complete table. Anything absent is an invalid request.
// eventPrepareFailed also covers a stop issued while preparing, and eventFinish
// covers natural completion, explicit stop and engine failure alike.
var transitions = map[transition]State{
	{StateNone, ModeNone, eventPrepareToPlay}:   StatePreparingToPlay,
	{StateNone, ModeNone, eventPlay}:            StatePreparingToPlayAndPlaying,
	{StateNone, ModeNone, eventPrepareToRecord}: StatePreparingToRecord,
	{StateNone, ModeNone, eventRecord}:          StatePreparingToRecordAndRecording,

	{StatePreparingToPlay, ModePlay, eventPrepared}:                StatePreparedToPlay,
	{StatePreparingToPlay, ModePlay, eventPrepareFailed}:           StateNone,
	{StatePreparingToPlayAndPlaying, ModePlay, eventPrepared}:      StatePlaying,
	{StatePreparingToPlayAndPlaying, ModePlay, eventPrepareFailed}: StateNone,
	{StatePreparedToPlay, ModePlay, eventPlay}:                     StatePlaying,
	{StatePreparedToPlay, ModePlay, eventFinish}:                   StateNone,
	{StatePlaying, ModePlay, eventPause}:                           StatePaused,
	{StatePlaying, ModePlay, eventFinish}:                          StateNone,
	{StatePaused, ModePlay, eventPlay}:                             StatePlaying,
	{StatePaused, ModePlay, eventFinish}:                           StateNone,

	{StatePreparingToRecord, ModeRecord, eventPrepared}:                  StatePreparedToRecord,
	{StatePreparingToRecord, ModeRecord, eventPrepareFailed}:             StateNone,
	{StatePreparingToRecordAndRecording, ModeRecord, eventPrepared}:      StateRecording,
	{StatePreparingToRecordAndRecording, ModeRecord, eventPrepareFailed}: StateNone,
	{StatePreparedToRecord, ModeRecord, eventRecord}:                     StateRecording,
	{StatePreparedToRecord, ModeRecord, eventFinish}:                     StateNone,
	{StateRecording, ModeRecord, eventPause}:                             StatePaused,
	{StateRecording, ModeRecord, eventFinish}:                            StateNone,
	{StatePaused, ModeRecord, eventRecord}:                               StateRecording,
	{StatePaused, ModeRecord, eventFinish}:                               StateNone,
}

// next looks up the target state for ev. mode is the session mode held by the
// core (ModeNone while idle).
func next(from State, mode Mode, ev event) (State, bool) {
	to, ok := transitions[transition{from: from, mode: mode, ev: ev}]
	return to, ok
}
