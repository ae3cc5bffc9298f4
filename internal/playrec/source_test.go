package playrec

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr error
	}{
		{in: "/music/a.wav", want: "/music/a.wav"},
		{in: "/music/../music/a.wav", want: "/music/a.wav"},
		{in: "file:///music/a.wav", want: "/music/a.wav"},
		{in: "", wantErr: ErrNoLocation},
		{in: "https://example.com/a.wav", wantErr: ErrUnsupportedLocation},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := LocalPath(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("LocalPath: %v", err)
			}
			if got != tt.want {
				t.Errorf("LocalPath = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsRemote(t *testing.T) {
	if !IsRemote("http://host/a.wav") || !IsRemote("https://host/a.wav") {
		t.Error("http locations not remote")
	}
	if IsRemote("/music/a.wav") || IsRemote("file:///a.wav") {
		t.Error("local locations reported remote")
	}
}

func TestLocalResolver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}

	src, err := LocalResolver{}.Resolve(context.Background(), path)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if src.Name() != "a.wav" {
		t.Errorf("Name = %q", src.Name())
	}
	rc, err := src.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rc.Close()

	if _, err := (LocalResolver{}).Resolve(context.Background(), filepath.Join(dir, "missing.wav")); err == nil {
		t.Error("missing file resolved")
	}
	if _, err := (LocalResolver{}).Resolve(context.Background(), dir); err == nil {
		t.Error("directory resolved")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (LocalResolver{}).Resolve(ctx, path); !errors.Is(err, context.Canceled) {
		t.Errorf("canceled resolve err = %v", err)
	}
}
