package audio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/faiface/beep"
	"github.com/faiface/beep/wav"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

// ErrUnsupportedFormat is returned when no decoder accepts a source.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// Decoder opens a Source as a seekable stream.
type Decoder interface {
	Decode(ctx context.Context, src playrec.Source) (beep.StreamSeekCloser, beep.Format, error)
}

// FileMetadata contains tags read from a media file
type FileMetadata struct {
	Title    string
	Artist   string
	Album    string
	Duration time.Duration
}

// SniffDecoder decodes RIFF/WAVE sources directly and hands everything
// else to Fallback.
type SniffDecoder struct {
	Fallback Decoder
}

func (d SniffDecoder) Decode(ctx context.Context, src playrec.Source) (beep.StreamSeekCloser, beep.Format, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", src.Name(), err)
	}

	isWAV, err := sniffWAV(rc)
	if err != nil {
		rc.Close()
		return nil, beep.Format{}, fmt.Errorf("read %s: %w", src.Name(), err)
	}
	if isWAV {
		stream, format, err := wav.Decode(rc)
		if err == nil {
			return stream, format, nil
		}
		rc.Close()
		if d.Fallback == nil {
			return nil, beep.Format{}, fmt.Errorf("decode %s: %w", src.Name(), err)
		}
	} else {
		rc.Close()
	}

	if d.Fallback == nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, src.Name())
	}
	return d.Fallback.Decode(ctx, src)
}

// sniffWAV checks the RIFF header and rewinds.
func sniffWAV(r io.ReadSeeker) (bool, error) {
	header := make([]byte, 12)
	n, err := io.ReadFull(r, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return false, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	return n == 12 && bytes.Equal(header[0:4], []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")), nil
}

// FFmpegDecoder transcodes any format ffmpeg understands into a temporary
// PCM WAV file and decodes that.
type FFmpegDecoder struct {
	ffmpegPath string
	taggerPath string
	tempDir    string
	logger     *log.Logger
}

// NewFFmpegDecoder locates ffmpeg and ffprobe. An empty ffmpegPath searches PATH.
func NewFFmpegDecoder(ffmpegPath, tempDir string, logger *log.Logger) (*FFmpegDecoder, error) {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found: %w", err)
	}
	tagger := filepath.Join(filepath.Dir(resolved), "ffprobe")
	if _, err := exec.LookPath(tagger); err != nil {
		if tagger, err = exec.LookPath("ffprobe"); err != nil {
			tagger = ""
		}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &FFmpegDecoder{
		ffmpegPath: resolved,
		taggerPath: tagger,
		tempDir:    tempDir,
		logger:     logger,
	}, nil
}

func (d *FFmpegDecoder) Decode(ctx context.Context, src playrec.Source) (beep.StreamSeekCloser, beep.Format, error) {
	rc, err := src.Open()
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("open %s: %w", src.Name(), err)
	}
	defer rc.Close()

	tmp, err := os.CreateTemp(d.tempDir, "playrec-*.wav")
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("create transcode file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.ffmpegPath,
		"-v", "error",
		"-i", "pipe:0",
		"-f", "wav",
		"-acodec", "pcm_s16le",
		"-y", path,
	)
	cmd.Stdin = rc
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		os.Remove(path)
		if ctx.Err() != nil {
			return nil, beep.Format{}, ctx.Err()
		}
		return nil, beep.Format{}, fmt.Errorf("ffmpeg %s: %w: %s", src.Name(), err, strings.TrimSpace(stderr.String()))
	}
	d.logger.Debug("transcoded", "source", src.Name(), "took", time.Since(start))

	f, err := os.Open(path)
	if err != nil {
		os.Remove(path)
		return nil, beep.Format{}, err
	}
	stream, format, err := wav.Decode(f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, beep.Format{}, fmt.Errorf("decode transcoded %s: %w", src.Name(), err)
	}
	return &tempStream{StreamSeekCloser: stream, path: path}, format, nil
}

// tempStream removes its backing file on Close.
type tempStream struct {
	beep.StreamSeekCloser
	path string
}

func (t *tempStream) Close() error {
	err := t.StreamSeekCloser.Close()
	if rmErr := os.Remove(t.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// Metadata reads tags from a local file using ffprobe.
func (d *FFmpegDecoder) Metadata(ctx context.Context, path string) (*FileMetadata, error) {
	if d.taggerPath == "" {
		return nil, errors.New("ffprobe not available")
	}
	cmd := exec.CommandContext(ctx, d.taggerPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseTags(output, path)
}

func parseTags(output []byte, path string) (*FileMetadata, error) {
	var info struct {
		Format struct {
			Duration string            `json:"duration"`
			Tags     map[string]string `json:"tags"`
		} `json:"format"`
	}
	if err := json.Unmarshal(output, &info); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	meta := &FileMetadata{}
	for key, value := range info.Format.Tags {
		switch strings.ToLower(key) {
		case "title":
			meta.Title = value
		case "artist":
			meta.Artist = value
		case "album":
			meta.Album = value
		case "album_artist":
			if meta.Artist == "" {
				meta.Artist = value
			}
		}
	}
	if secs, err := strconv.ParseFloat(info.Format.Duration, 64); err == nil {
		meta.Duration = time.Duration(secs * float64(time.Second))
	}
	if meta.Title == "" {
		base := filepath.Base(path)
		meta.Title = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return meta, nil
}
