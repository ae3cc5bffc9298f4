package audio

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/faiface/beep"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

func TestSniffWAV(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want bool
	}{
		{name: "riff wave", data: []byte("RIFF\x24\x00\x00\x00WAVEfmt "), want: true},
		{name: "riff avi", data: []byte("RIFF\x24\x00\x00\x00AVI LIST"), want: false},
		{name: "mp3", data: []byte("ID3\x03\x00\x00\x00\x00\x00\x00\x00\x00"), want: false},
		{name: "short", data: []byte("RIF"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := bytes.NewReader(tt.data)
			got, err := sniffWAV(r)
			if err != nil {
				t.Fatalf("sniffWAV: %v", err)
			}
			if got != tt.want {
				t.Errorf("sniffWAV = %v, want %v", got, tt.want)
			}
			if r.Len() != len(tt.data) {
				t.Error("reader not rewound")
			}
		})
	}
}

type countingDecoder struct{ calls int }

func (d *countingDecoder) Decode(ctx context.Context, src playrec.Source) (beep.StreamSeekCloser, beep.Format, error) {
	d.calls++
	return nil, beep.Format{}, ErrUnsupportedFormat
}

func TestSniffDecoderFallback(t *testing.T) {
	dir := t.TempDir()
	mp3 := filepath.Join(dir, "a.mp3")
	writeFile(t, mp3, []byte("ID3 definitely not riff"))

	fallback := &countingDecoder{}
	_, _, err := SniffDecoder{Fallback: fallback}.Decode(context.Background(), playrec.FileSource{Path: mp3})
	if err == nil {
		t.Fatal("expected fallback error")
	}
	if fallback.calls != 1 {
		t.Errorf("fallback called %d times", fallback.calls)
	}

	wavPath := filepath.Join(dir, "a.wav")
	writeTone(t, wavPath, 44100, 441)
	stream, format, err := SniffDecoder{Fallback: fallback}.Decode(context.Background(), playrec.FileSource{Path: wavPath})
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	defer stream.Close()
	if fallback.calls != 1 {
		t.Error("fallback used for a WAV source")
	}
	if format.SampleRate != 44100 || format.NumChannels != 2 {
		t.Errorf("format = %+v", format)
	}
	if stream.Len() != 441 {
		t.Errorf("Len = %d, want 441", stream.Len())
	}
}

func TestParseTags(t *testing.T) {
	out := []byte(`{"format":{"duration":"215.500000","tags":{"TITLE":"Song","album_artist":"Band","ALBUM":"Record"}}}`)
	meta, err := parseTags(out, "/music/file.flac")
	if err != nil {
		t.Fatalf("parseTags: %v", err)
	}
	if meta.Title != "Song" || meta.Artist != "Band" || meta.Album != "Record" {
		t.Errorf("meta = %+v", meta)
	}
	if meta.Duration != 215500*time.Millisecond {
		t.Errorf("duration = %v", meta.Duration)
	}

	meta, err = parseTags([]byte(`{"format":{}}`), "/music/untitled.ogg")
	if err != nil {
		t.Fatalf("parseTags: %v", err)
	}
	if meta.Title != "untitled" {
		t.Errorf("fallback title = %q", meta.Title)
	}

	if _, err := parseTags([]byte("not json"), "x"); err == nil {
		t.Error("invalid output parsed")
	}
}
