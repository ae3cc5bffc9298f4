package ipc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestEncodeRequest(t *testing.T) {
	req, err := NewRequest(CmdSetLocation, LocationRequest{Location: "/music/song.wav"})
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}

	data, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("EncodeRequest failed: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Result is not valid JSON: %v", err)
	}
	if decoded["cmd"] != "setLocation" {
		t.Errorf("Expected cmd 'setLocation', got '%v'", decoded["cmd"])
	}
	inner, _ := decoded["data"].(map[string]any)
	if inner["location"] != "/music/song.wav" {
		t.Errorf("Expected location '/music/song.wav', got '%v'", inner["location"])
	}
}

func TestNewRequestWithoutData(t *testing.T) {
	req, err := NewRequest(CmdPlay, nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	data, _ := EncodeRequest(req)
	if string(data) != `{"cmd":"play"}` {
		t.Errorf("Expected bare command, got %s", data)
	}
}

func TestDecodeRequestWithData(t *testing.T) {
	data := []byte(`{"cmd":"seek","data":{"position":30000}}`)

	req, err := DecodeRequest(data)
	if err != nil {
		t.Fatalf("DecodeRequest failed: %v", err)
	}
	if req.Cmd != CmdSeek {
		t.Errorf("Expected cmd 'seek', got '%s'", req.Cmd)
	}

	var seek SeekRequest
	if err := json.Unmarshal(req.Data, &seek); err != nil {
		t.Fatalf("Failed to unmarshal data: %v", err)
	}
	if seek.Position != 30000 {
		t.Errorf("Expected position 30000, got %d", seek.Position)
	}
}

func TestDecodeRequestInvalid(t *testing.T) {
	if _, err := DecodeRequest([]byte(`not valid json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestDecodeResponse(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantSuccess bool
		wantError   string
	}{
		{"success with data", `{"success":true,"data":{"accepted":true}}`, true, ""},
		{"error", `{"success":false,"error":"unknown command"}`, false, "unknown command"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := DecodeResponse([]byte(tt.data))
			if err != nil {
				t.Fatalf("DecodeResponse failed: %v", err)
			}
			if resp.Success != tt.wantSuccess {
				t.Errorf("Expected success %v, got %v", tt.wantSuccess, resp.Success)
			}
			if resp.Error != tt.wantError {
				t.Errorf("Expected error %q, got %q", tt.wantError, resp.Error)
			}
		})
	}
}

func TestNewSuccessResponse(t *testing.T) {
	resp, err := NewSuccessResponse(ControlResponse{Accepted: false, Reason: "invalid state transition"})
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}
	if !resp.Success {
		t.Error("Expected success to be true")
	}

	var decoded ControlResponse
	if err := json.Unmarshal(resp.Data, &decoded); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	if decoded.Accepted || decoded.Reason != "invalid state transition" {
		t.Errorf("Expected rejected with reason, got %+v", decoded)
	}
}

func TestNewSuccessResponseNilData(t *testing.T) {
	resp, err := NewSuccessResponse(nil)
	if err != nil {
		t.Fatalf("NewSuccessResponse failed: %v", err)
	}
	if resp.Data != nil {
		t.Error("Expected data to be nil")
	}
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponse("something went wrong")
	if resp.Success {
		t.Error("Expected success to be false")
	}
	if resp.Error != "something went wrong" {
		t.Errorf("Expected error 'something went wrong', got '%s'", resp.Error)
	}
}

func TestNewPushMessage(t *testing.T) {
	data, err := NewPushMessage(PushPrepared, PreparedPush{Mode: "play", Successful: true})
	if err != nil {
		t.Fatalf("NewPushMessage failed: %v", err)
	}
	want := `{"type":"prepared","data":{"mode":"play","successful":true}}`
	if string(data) != want {
		t.Errorf("Expected %s, got %s", want, data)
	}
}

func TestDefaultSocketPath(t *testing.T) {
	path := DefaultSocketPath()
	if !strings.Contains(path, "playrecd-") || !strings.HasSuffix(path, ".sock") {
		t.Errorf("Unexpected socket path %q", path)
	}
}
