// Command lightplay streams a local M4A file (ALAC or AAC) to a RAOP/
// AirTunes receiver over the network, matching light-play.c's CLI surface:
// <url> <filename> plus -c/-p/-v/-l/-o flags.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/erikonbike/lightplay/internal/config"
	"github.com/erikonbike/lightplay/internal/digest"
	"github.com/erikonbike/lightplay/internal/logging"
	"github.com/erikonbike/lightplay/internal/m4a"
	"github.com/erikonbike/lightplay/internal/raop"
	"github.com/erikonbike/lightplay/internal/rtspsession"
	"github.com/erikonbike/lightplay/internal/transport"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := config.NewFlags("lightplay")
	cfg, err := flags.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flags.Usage()
		return 1
	}

	logWriter, closeLog, err := openLogWriter(cfg.LogFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer closeLog()

	logging.Init(cfg.LogLevel, logWriter)
	logger := logging.For("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := play(ctx, cfg); err != nil {
		logger.Error().Err(err).Msg("playback failed")
		return 1
	}
	logger.Info().Msg("playback finished")
	return 0
}

// openLogWriter opens cfg.LogFile for append if set, matching
// logSetFile's semantics; an empty path means "log to stderr", reported as
// a nil io.Writer (not a typed nil *os.File) so internal/logging.Init's
// `w == nil` check actually fires.
func openLogWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return nil, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("config: cannot open log file %q: %w", path, err)
	}
	return f, func() { f.Close() }, nil
}

// play opens the M4A file and the control connection, runs the RAOP
// handshake, streams the file to completion or until ctx is cancelled by
// SIGINT, then tears the session down in an orderly way.
func play(ctx context.Context, cfg *config.Config) error {
	logger := logging.For("main")

	file, err := m4a.Open(cfg.Filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := file.Parse(nil); err != nil {
		return err
	}
	if file.HasParsedWithWarnings() {
		logger.Warn().Str("file", cfg.Filename).Msg("file parsed with warnings")
	}

	control, err := transport.OpenWithRetry(ctx, cfg.Host, cfg.Port, transport.TCP, cfg.ConnectRetries)
	if err != nil {
		return err
	}
	defer control.Close()

	session := rtspsession.New(control, digest.DefaultUsername, cfg.Password)
	player := raop.New(session, file)

	audioDialer := func(ctx context.Context, port int) (*transport.Transport, error) {
		return transport.Open(ctx, cfg.Host, fmt.Sprintf("%d", port), transport.TCP)
	}

	if err := player.Play(ctx, audioDialer, cfg.StartOffset); err != nil {
		return err
	}

	reportProgress(ctx, player)

	select {
	case <-ctx.Done():
		logger.Info().Msg("interrupted, stopping")
	case <-doneWhenFinished(player):
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return player.Stop(stopCtx)
}

// doneWhenFinished adapts Session.Wait (which itself takes a context) into a
// channel usable in a select alongside ctx.Done(), using a context.Background
// wait so it only ever completes when the audio pump genuinely exits.
func doneWhenFinished(player *raop.Session) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		player.Wait(context.Background())
		close(done)
	}()
	return done
}

// reportProgress logs streaming throughput every few seconds until ctx is
// cancelled (by SIGINT, or by run's deferred stop once play has returned),
// matching the reference's periodic progress reporting during playback.
func reportProgress(ctx context.Context, player *raop.Session) {
	logger := logging.For("main")
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := player.Stats()
				logger.Info().
					Uint64("frames", snap.FramesSent).
					Uint64("bytes", snap.BytesSent).
					Dur("progress", snap.Progress).
					Float64("mbit_s", snap.Bitrate()).
					Dur("control_p95", player.ControlLatencyP95()).
					Msg("streaming")
			}
		}
	}()
}
