package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/playrec/internal/playrec"
)

const teardownTimeout = 5 * time.Second

var recordFor time.Duration

var playCmd = &cobra.Command{
	Use:   "play <location>",
	Short: "Play a file or http(s) URL in the foreground",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runForeground(ctx, cmd, args[0], playrec.ModePlay, 0)
	},
}

var recordCmd = &cobra.Command{
	Use:   "record <path>",
	Short: "Record to a WAV file until interrupted or --for elapses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runForeground(ctx, cmd, args[0], playrec.ModeRecord, recordFor)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("playrecd " + Version)
	},
}

func init() {
	recordCmd.Flags().DurationVar(&recordFor, "for", 0, "Stop recording after this long (0 records until interrupted)")
}

func runForeground(ctx context.Context, cmd *cobra.Command, location string, mode playrec.Mode, limit time.Duration) error {
	mgr, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()

	cfg := mgr.Get()
	s, err := buildStack(cfg, func() bool { return cfg.Recording.Allow })
	if err != nil {
		return err
	}
	defer s.close()

	// done receives the first terminal notification: a failed preparation
	// or WillFinish.
	done := make(chan bool, 1)
	report := func(successful bool) {
		select {
		case done <- successful:
		default:
		}
	}
	prepared := func(_ *playrec.PlayerRecorder, ok bool) {
		if !ok {
			report(false)
		}
	}
	s.pr.SetDelegate(playrec.DelegateFuncs{
		OnDidPreparePlayer:   prepared,
		OnDidPrepareRecorder: prepared,
		OnDidUpdate: func(pr *playrec.PlayerRecorder) {
			printProgress(cmd, pr)
		},
		OnWillFinish: func(pr *playrec.PlayerRecorder, ok bool) {
			printProgress(cmd, pr)
			cmd.Println()
			report(ok)
		},
	})

	if !s.pr.SetResourceLocation(location) {
		return fmt.Errorf("invalid location %q: %w", location, s.pr.LastError())
	}
	start := s.pr.Play
	if mode == playrec.ModeRecord {
		start = s.pr.Record
	}
	if !start() {
		return fmt.Errorf("%s rejected: %w", mode, s.pr.LastError())
	}

	var deadline <-chan time.Time
	if limit > 0 {
		timer := time.NewTimer(limit)
		defer timer.Stop()
		deadline = timer.C
	}

	var successful bool
	select {
	case successful = <-done:
	case <-deadline:
		s.pr.Stop()
		successful = <-done
	case <-ctx.Done():
		s.pr.Stop()
		successful = <-done
	}

	waitIdle(s.pr)
	if !successful {
		err := s.pr.LastError()
		if ctx.Err() != nil && errors.Is(err, playrec.ErrCanceled) {
			return nil
		}
		if err != nil {
			return err
		}
		return errors.New("session failed")
	}
	if mode == playrec.ModeRecord {
		if info, err := os.Stat(location); err == nil {
			cmd.Printf("wrote %s (%s)\n", location, humanize.Bytes(uint64(info.Size())))
		}
	}
	return nil
}

// waitIdle lets a finishing session tear down so a recording is finalized
// before the process exits.
func waitIdle(pr *playrec.PlayerRecorder) {
	deadline := time.Now().Add(teardownTimeout)
	for pr.State() != playrec.StateNone && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
}

func printProgress(cmd *cobra.Command, pr *playrec.PlayerRecorder) {
	pos := pr.CurrentTime().Truncate(100 * time.Millisecond)
	if d := pr.Duration(); d > 0 {
		cmd.Printf("\r%-9s %s / %s", pr.State(), pos, d.Truncate(100*time.Millisecond))
		return
	}
	cmd.Printf("\r%-9s %s", pr.State(), pos)
}
