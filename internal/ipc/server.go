package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/austinkregel/local-media/playrec/internal/audio"
	"github.com/austinkregel/local-media/playrec/internal/config"
	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const (
	// a client that accepts no data for this long is disconnected
	writeTimeout = 5 * time.Second
	// pushes beyond this many unsent messages unsubscribe the client
	outboxSize = 64
)

// LevelSource supplies meter readings.
type LevelSource interface {
	Levels() audio.Levels
}

// Options configures a Server.
type Options struct {
	SocketPath string
	Player     *playrec.PlayerRecorder
	// Config is optional; getConfig fails without it.
	Config *config.Manager
	// PlaybackLevels and CaptureLevels are optional.
	PlaybackLevels LevelSource
	CaptureLevels  LevelSource
	Logger         *log.Logger
}

// client owns one connection. All writes go through out and are made by
// writeLoop, so neither request handling nor the notification goroutine
// ever blocks on the socket.
type client struct {
	conn       net.Conn
	out        chan []byte
	quit       chan struct{}
	closeOnce  sync.Once
	subscribed atomic.Bool
}

func newClient(conn net.Conn) *client {
	return &client{
		conn: conn,
		out:  make(chan []byte, outboxSize),
		quit: make(chan struct{}),
	}
}

func (c *client) writeLoop() {
	for {
		select {
		case <-c.quit:
			return
		case data := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if _, err := c.conn.Write(data); err != nil {
				c.close()
				return
			}
		}
	}
}

// reply queues a response, waiting for room unless the client is gone.
func (c *client) reply(data []byte) error {
	select {
	case c.out <- data:
		return nil
	case <-c.quit:
		return net.ErrClosed
	}
}

// push queues a notification without waiting. It reports false when the
// outbox is full or the client is gone.
func (c *client) push(data []byte) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.out <- data:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.conn.Close()
	})
}

// Server handles IPC communication with clients
type Server struct {
	socketPath string
	pr         *playrec.PlayerRecorder
	configMgr  *config.Manager
	playback   LevelSource
	capture    LevelSource
	logger     *log.Logger

	listener net.Listener
	mu       sync.Mutex
	clients  map[*client]struct{}
}

// NewServer creates a new IPC server
func NewServer(opts Options) *Server {
	if opts.SocketPath == "" {
		opts.SocketPath = DefaultSocketPath()
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Server{
		socketPath: opts.SocketPath,
		pr:         opts.Player,
		configMgr:  opts.Config,
		playback:   opts.PlaybackLevels,
		capture:    opts.CaptureLevels,
		logger:     opts.Logger,
		clients:    make(map[*client]struct{}),
	}
}

// SocketPath returns the path the server listens on.
func (s *Server) SocketPath() string {
	return s.socketPath
}

// Listen creates the user-only socket.
func (s *Server) Listen() error {
	if err := os.RemoveAll(s.socketPath); err != nil {
		return fmt.Errorf("failed to remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		listener.Close()
		return fmt.Errorf("failed to set socket permissions: %w", err)
	}
	s.listener = listener
	s.logger.Info("listening", "socket", s.socketPath)
	return nil
}

// Serve accepts connections until ctx is done, then closes every client.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server is not listening")
	}
	go s.acceptLoop(ctx)

	<-ctx.Done()

	s.mu.Lock()
	clientCount := len(s.clients)
	for c := range s.clients {
		c.close()
	}
	s.mu.Unlock()

	s.listener.Close()
	os.RemoveAll(s.socketPath)
	s.logger.Info("server stopped", "clients_closed", clientCount)
	return nil
}

// Start listens and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept error", "err", err)
			continue
		}

		c := newClient(conn)
		go c.writeLoop()
		s.mu.Lock()
		s.clients[c] = struct{}{}
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.logger.Debug("client connected", "clients", clientCount)

		go s.handleConnection(ctx, c)
	}
}

func (s *Server) handleConnection(ctx context.Context, c *client) {
	defer func() {
		c.close()
		s.mu.Lock()
		delete(s.clients, c)
		clientCount := len(s.clients)
		s.mu.Unlock()
		s.logger.Debug("client disconnected", "clients", clientCount)
	}()

	reader := bufio.NewReader(c.conn)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("read error", "err", err)
			}
			return
		}

		req, err := DecodeRequest(line)
		if err != nil {
			s.logger.Warn("invalid request", "err", err)
			if err := s.sendResponse(c, NewErrorResponse("invalid request format")); err != nil {
				return
			}
			continue
		}

		start := time.Now()
		resp := s.handleRequest(c, req)
		logRequest(s.logger, req, resp, time.Since(start))

		if err := s.sendResponse(c, resp); err != nil {
			s.logger.Warn("send error", "err", err)
			return
		}
	}
}

func (s *Server) handleRequest(c *client, req *Request) *Response {
	switch req.Cmd {
	case CmdSetLocation:
		return s.handleSetLocation(req)
	case CmdPlay:
		return s.control(s.pr.Play())
	case CmdPrepareToPlay:
		return s.control(s.pr.PrepareToPlay())
	case CmdRecord:
		return s.control(s.pr.Record())
	case CmdPrepareToRecord:
		return s.control(s.pr.PrepareToRecord())
	case CmdPause:
		s.pr.Pause()
		return s.control(s.pr.State() == playrec.StatePaused)
	case CmdStop:
		return s.control(s.pr.Stop())
	case CmdSeek:
		return s.handleSeek(req)
	case CmdVolume:
		return s.handleVolume(req)
	case CmdStatus:
		return success(s.status())
	case CmdLevels:
		return s.handleLevels()
	case CmdSubscribe:
		c.subscribed.Store(true)
		return success(map[string]bool{"subscribed": true})
	case CmdUnsubscribe:
		c.subscribed.Store(false)
		return success(map[string]bool{"subscribed": false})
	case CmdGetConfig:
		return s.handleGetConfig()
	default:
		return NewErrorResponse(fmt.Sprintf("unknown command: %s", req.Cmd))
	}
}

func (s *Server) handleSetLocation(req *Request) *Response {
	var data LocationRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid setLocation data")
	}
	return s.control(s.pr.SetResourceLocation(data.Location))
}

func (s *Server) handleSeek(req *Request) *Response {
	var data SeekRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid seek data")
	}
	return s.control(s.pr.SeekToTime(time.Duration(data.Position) * time.Millisecond))
}

func (s *Server) handleVolume(req *Request) *Response {
	var data VolumeRequest
	if err := json.Unmarshal(req.Data, &data); err != nil {
		return NewErrorResponse("invalid volume data")
	}
	if data.Level < 0 || data.Level > 1 {
		return NewErrorResponse("volume must be between 0 and 1")
	}
	s.pr.SetVolume(data.Level)
	return s.control(true)
}

func (s *Server) handleLevels() *Response {
	source, name := s.playback, "playback"
	if s.pr.Mode() == playrec.ModeRecord {
		source, name = s.capture, "capture"
	}
	if source == nil {
		return NewErrorResponse("metering unavailable")
	}
	lv := source.Levels()
	return success(LevelsResponse{
		Source: name,
		Peak:   lv.Peak,
		RMS:    lv.RMS,
		Bands:  lv.Bands,
	})
}

func (s *Server) handleGetConfig() *Response {
	if s.configMgr == nil {
		return NewErrorResponse("no configuration loaded")
	}
	return success(ConfigResponse{
		ConfigPath: s.configMgr.Path(),
		Config:     s.configMgr.Get(),
	})
}

// control reports a control operation's outcome; rejections carry the reason.
func (s *Server) control(accepted bool) *Response {
	resp := ControlResponse{Accepted: accepted}
	if !accepted {
		if err := s.pr.LastError(); err != nil {
			resp.Reason = err.Error()
		}
	}
	return success(resp)
}

func (s *Server) status() StatusResponse {
	return StatusResponse{
		State:    s.pr.State().String(),
		Mode:     s.pr.Mode().String(),
		Location: s.pr.ResourceLocation(),
		Position: s.pr.CurrentTime().Milliseconds(),
		Duration: s.pr.Duration().Milliseconds(),
		Volume:   s.pr.Volume(),
	}
}

func success(data any) *Response {
	resp, err := NewSuccessResponse(data)
	if err != nil {
		return NewErrorResponse(fmt.Sprintf("failed to encode response: %v", err))
	}
	return resp
}

func (s *Server) sendResponse(c *client, resp *Response) error {
	data, err := EncodeResponse(resp)
	if err != nil {
		return err
	}
	return c.reply(append(data, '\n'))
}

// broadcast pushes a message to every subscribed client. It never blocks;
// clients that cannot keep up are unsubscribed.
func (s *Server) broadcast(msgType string, data any) {
	s.mu.Lock()
	subs := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		if c.subscribed.Load() {
			subs = append(subs, c)
		}
	}
	s.mu.Unlock()
	if len(subs) == 0 {
		return
	}

	msg, err := NewPushMessage(msgType, data)
	if err != nil {
		s.logger.Error("failed to encode push", "type", msgType, "err", err)
		return
	}
	msg = append(msg, '\n')
	for _, c := range subs {
		if !c.push(msg) {
			s.logger.Warn("dropping subscriber", "type", msgType, "pending", len(c.out))
			c.subscribed.Store(false)
		}
	}
}

// The Server is a playrec.Delegate; notifications arrive in order on the
// PlayerRecorder's dispatch goroutine and are forwarded as pushes.

func (s *Server) WillFinish(pr *playrec.PlayerRecorder, successful bool) {
	s.broadcast(PushFinish, FinishPush{
		Successful: successful,
		Position:   pr.CurrentTime().Milliseconds(),
		Duration:   pr.Duration().Milliseconds(),
	})
}

func (s *Server) DidPreparePlayer(_ *playrec.PlayerRecorder, successful bool) {
	s.broadcast(PushPrepared, PreparedPush{Mode: playrec.ModePlay.String(), Successful: successful})
}

func (s *Server) DidPrepareRecorder(_ *playrec.PlayerRecorder, successful bool) {
	s.broadcast(PushPrepared, PreparedPush{Mode: playrec.ModeRecord.String(), Successful: successful})
}

func (s *Server) DidUpdate(*playrec.PlayerRecorder) {
	s.broadcast(PushUpdate, s.status())
}

var _ playrec.Delegate = (*Server)(nil)
