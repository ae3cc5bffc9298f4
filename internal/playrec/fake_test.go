package playrec

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

type fakeSource struct{ name string }

func (s fakeSource) Name() string { return s.name }

func (s fakeSource) Open() (io.ReadSeekCloser, error) {
	return nopSeekCloser{bytes.NewReader(nil)}, nil
}

type nopSeekCloser struct{ io.ReadSeeker }

func (nopSeekCloser) Close() error { return nil }

func fakeResolver() Resolver {
	return ResolverFunc(func(ctx context.Context, location string) (Source, error) {
		return fakeSource{name: location}, ctx.Err()
	})
}

type fakePlayback struct {
	mu       sync.Mutex
	starts   int
	pauses   int
	stops    int
	seeks    []time.Duration
	position time.Duration
	duration time.Duration
	volume   float64
	startErr error
	onEnd    func(error)
}

func (p *fakePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.starts++
	return p.startErr
}

func (p *fakePlayback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pauses++
	return nil
}

func (p *fakePlayback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	return nil
}

func (p *fakePlayback) Seek(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, d)
	p.position = d
	return nil
}

func (p *fakePlayback) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

func (p *fakePlayback) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.duration
}

func (p *fakePlayback) SetVolume(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volume = v
}

func (p *fakePlayback) counts() (starts, pauses, stops int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.starts, p.pauses, p.stops
}

func (p *fakePlayback) setPosition(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = d
}

type fakeRecording struct {
	mu       sync.Mutex
	path     string
	starts   int
	pauses   int
	stops    int
	position time.Duration
	onEnd    func(error)
}

func (r *fakeRecording) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	return nil
}

func (r *fakeRecording) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pauses++
	return nil
}

func (r *fakeRecording) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRecording) Position() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.position
}

func (r *fakeRecording) counts() (starts, pauses, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts, r.pauses, r.stops
}

// fakeFactory builds fake engines. When gate is set, construction blocks
// until it is closed; with ignoreCancel the engine is still returned after
// the context is canceled.
type fakeFactory struct {
	mu           sync.Mutex
	gate         chan struct{}
	ignoreCancel bool
	err          error
	startErr     error
	duration     time.Duration
	players      []*fakePlayback
	recorders    []*fakeRecording
}

func (f *fakeFactory) wait(ctx context.Context) error {
	if f.gate == nil {
		return nil
	}
	if f.ignoreCancel {
		<-f.gate
		return nil
	}
	select {
	case <-f.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeFactory) NewPlayback(ctx context.Context, src Source, onEnd func(error)) (PlaybackEngine, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePlayback{duration: f.duration, startErr: f.startErr, onEnd: onEnd}
	f.players = append(f.players, p)
	return p, nil
}

func (f *fakeFactory) NewRecording(ctx context.Context, path string, onEnd func(error)) (RecordingEngine, error) {
	if err := f.wait(ctx); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	r := &fakeRecording{path: path, onEnd: onEnd}
	f.recorders = append(f.recorders, r)
	return r, nil
}

func (f *fakeFactory) player(t *testing.T, i int) *fakePlayback {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.players) {
		t.Fatalf("playback engine %d was never created (have %d)", i, len(f.players))
	}
	return f.players[i]
}

func (f *fakeFactory) recorder(t *testing.T, i int) *fakeRecording {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.recorders) {
		t.Fatalf("recording engine %d was never created (have %d)", i, len(f.recorders))
	}
	return f.recorders[i]
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.players) + len(f.recorders)
}

type delegateCall struct {
	name       string
	successful bool
	// captured while the callback runs
	state       State
	currentTime time.Duration
	duration    time.Duration
}

type testDelegate struct {
	calls chan delegateCall
}

func newTestDelegate() *testDelegate {
	return &testDelegate{calls: make(chan delegateCall, 256)}
}

func (d *testDelegate) record(pr *PlayerRecorder, name string, ok bool) {
	d.calls <- delegateCall{
		name:        name,
		successful:  ok,
		state:       pr.State(),
		currentTime: pr.CurrentTime(),
		duration:    pr.Duration(),
	}
}

func (d *testDelegate) WillFinish(pr *PlayerRecorder, ok bool) { d.record(pr, "willFinish", ok) }
func (d *testDelegate) DidPreparePlayer(pr *PlayerRecorder, ok bool) {
	d.record(pr, "didPreparePlayer", ok)
}
func (d *testDelegate) DidPrepareRecorder(pr *PlayerRecorder, ok bool) {
	d.record(pr, "didPrepareRecorder", ok)
}
func (d *testDelegate) DidUpdate(pr *PlayerRecorder) { d.record(pr, "didUpdate", true) }

// next returns the next call other than didUpdate.
func (d *testDelegate) next(t *testing.T) delegateCall {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-d.calls:
			if c.name == "didUpdate" {
				continue
			}
			return c
		case <-deadline:
			t.Fatal("timed out waiting for delegate call")
			return delegateCall{}
		}
	}
}

func (d *testDelegate) expect(t *testing.T, name string, ok bool) delegateCall {
	t.Helper()
	c := d.next(t)
	if c.name != name || c.successful != ok {
		t.Fatalf("expected %s(%v), got %s(%v)", name, ok, c.name, c.successful)
	}
	return c
}

// quiet asserts no call other than didUpdate arrives within d.
func (d *testDelegate) quiet(t *testing.T, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case c := <-d.calls:
			if c.name != "didUpdate" {
				t.Fatalf("unexpected delegate call %s(%v)", c.name, c.successful)
			}
		case <-deadline:
			return
		}
	}
}

func (d *testDelegate) drain() {
	for {
		select {
		case <-d.calls:
		default:
			return
		}
	}
}

func waitState(t *testing.T, pr *PlayerRecorder, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pr.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("state = %s, want %s", pr.State(), want)
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestPlayerRecorder(t *testing.T, f *fakeFactory) (*PlayerRecorder, *testDelegate) {
	t.Helper()
	pr := New(Options{
		Location:         "/music/track.wav",
		Resolver:         fakeResolver(),
		Engines:          f,
		ProgressInterval: MinProgressInterval,
		Logger:           log.New(io.Discard),
	})
	d := newTestDelegate()
	pr.SetDelegate(d)
	t.Cleanup(func() { pr.Close() })
	return pr, d
}
