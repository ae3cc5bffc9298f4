// Package ipc exposes a PlayerRecorder to other processes as newline-delimited
// JSON over a unix socket.
package ipc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// CommandType represents the type of command
type CommandType string

const (
	CmdSetLocation     CommandType = "setLocation"
	CmdPlay            CommandType = "play"
	CmdPrepareToPlay   CommandType = "prepareToPlay"
	CmdRecord          CommandType = "record"
	CmdPrepareToRecord CommandType = "prepareToRecord"
	CmdPause           CommandType = "pause"
	CmdStop            CommandType = "stop"
	CmdSeek            CommandType = "seek"
	CmdVolume          CommandType = "volume"
	CmdStatus          CommandType = "status"
	CmdLevels          CommandType = "levels"
	CmdSubscribe       CommandType = "subscribe"
	CmdUnsubscribe     CommandType = "unsubscribe"
	CmdGetConfig       CommandType = "getConfig"
)

// Push message types, sent only to subscribed connections.
const (
	PushPrepared = "prepared"
	PushUpdate   = "update"
	PushFinish   = "finish"
)

// DefaultSocketPath is the per-user socket location.
func DefaultSocketPath() string {
	return filepath.Join(os.TempDir(), fmt.Sprintf("playrecd-%d.sock", os.Getuid()))
}

// PushMessage represents a server-initiated message (no request needed)
type PushMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Request represents a client request
type Request struct {
	Cmd  CommandType     `json:"cmd"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response represents a server response
type Response struct {
	Success bool            `json:"success"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// LocationRequest is the data for a setLocation command
type LocationRequest struct {
	Location string `json:"location"`
}

// SeekRequest is the data for a seek command
type SeekRequest struct {
	Position int64 `json:"position"` // milliseconds
}

// VolumeRequest is the data for a volume command
type VolumeRequest struct {
	Level float64 `json:"level"` // 0.0 - 1.0
}

// ControlResponse carries the boolean result of a control operation. Reason
// explains a rejection.
type ControlResponse struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// StatusResponse is the response to a status command and the payload of
// update pushes.
type StatusResponse struct {
	State    string  `json:"state"`
	Mode     string  `json:"mode"`
	Location string  `json:"location,omitempty"`
	Position int64   `json:"position"` // milliseconds
	Duration int64   `json:"duration"` // milliseconds
	Volume   float64 `json:"volume"`
}

// LevelsResponse carries the current meter reading in dBFS.
type LevelsResponse struct {
	Source string    `json:"source"` // "playback" or "capture"
	Peak   float64   `json:"peak"`
	RMS    float64   `json:"rms"`
	Bands  []float64 `json:"bands"`
}

// PreparedPush is the payload of a prepared push.
type PreparedPush struct {
	Mode       string `json:"mode"`
	Successful bool   `json:"successful"`
}

// FinishPush is the payload of a finish push.
type FinishPush struct {
	Successful bool  `json:"successful"`
	Position   int64 `json:"position"`
	Duration   int64 `json:"duration"`
}

// ConfigResponse is the response to a getConfig command
type ConfigResponse struct {
	ConfigPath string `json:"configPath"`
	Config     any    `json:"config"`
}

// EncodeRequest encodes a request to JSON
func EncodeRequest(req *Request) ([]byte, error) {
	return json.Marshal(req)
}

// DecodeRequest decodes a request from JSON
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to decode request: %w", err)
	}
	return &req, nil
}

// EncodeResponse encodes a response to JSON
func EncodeResponse(resp *Response) ([]byte, error) {
	return json.Marshal(resp)
}

// DecodeResponse decodes a response from JSON
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &resp, nil
}

// NewRequest builds a request, marshalling data when non-nil.
func NewRequest(cmd CommandType, data any) (*Request, error) {
	raw, err := marshalOptional(data)
	if err != nil {
		return nil, err
	}
	return &Request{Cmd: cmd, Data: raw}, nil
}

// NewSuccessResponse creates a successful response
func NewSuccessResponse(data any) (*Response, error) {
	raw, err := marshalOptional(data)
	if err != nil {
		return nil, err
	}
	return &Response{
		Success: true,
		Data:    raw,
	}, nil
}

// NewErrorResponse creates an error response
func NewErrorResponse(err string) *Response {
	return &Response{
		Success: false,
		Error:   err,
	}
}

// NewPushMessage creates a push message for streaming data
func NewPushMessage(msgType string, data any) ([]byte, error) {
	raw, err := marshalOptional(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(PushMessage{
		Type: msgType,
		Data: raw,
	})
}

func marshalOptional(data any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}
