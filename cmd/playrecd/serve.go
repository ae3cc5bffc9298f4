package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/austinkregel/local-media/playrec/internal/config"
	"github.com/austinkregel/local-media/playrec/internal/ipc"
	"github.com/austinkregel/local-media/playrec/internal/logging"
	"github.com/austinkregel/local-media/playrec/internal/media"
	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const cacheReportInterval = 10 * time.Minute

var socketPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&socketPath, "socket", ipc.DefaultSocketPath(), "IPC socket path")
}

func serve(ctx context.Context) error {
	mgr, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	logger := logging.For("playrecd")
	logger.Info("starting", "version", Version, "config", mgr.Path())

	s, err := buildStack(mgr.Get(), func() bool { return mgr.Get().Recording.Allow })
	if err != nil {
		return err
	}
	defer s.close()

	server := ipc.NewServer(ipc.Options{
		SocketPath:     socketPath,
		Player:         s.pr,
		Config:         mgr,
		PlaybackLevels: s.output.Meter(),
		CaptureLevels:  s.captureMeter,
		Logger:         logging.For("ipc"),
	})

	session, err := media.NewSession()
	if err != nil {
		logger.Warn("continuing without OS media integration", "err", err)
		session = media.NewNoOpSession()
	}
	defer session.Close()
	bridge := media.NewBridge(session, s.pr, logging.For("media"))
	if s.ffmpeg != nil {
		bridge.SetMetadataLookup(media.TagLookup(s.ffmpeg))
	}

	reg := s.pr.SetDelegate(playrec.Delegates(server, bridge))
	defer reg.Release()

	mgr.Watch(func(cfg config.Config) {
		logger.Info("configuration reloaded; audio device and cache changes apply on restart",
			"recording_allowed", cfg.Recording.Allow)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cacheReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				logger.Debug("remote cache", "stats", s.store.Stats())
			}
		}
	})

	err = g.Wait()
	if s.pr.State() != playrec.StateNone {
		s.pr.Stop()
	}
	logger.Info("shutting down")
	return err
}
