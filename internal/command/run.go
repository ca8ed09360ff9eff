package command

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/john/combinedchat/internal/channel"
	"github.com/john/combinedchat/internal/client"
	"github.com/john/combinedchat/internal/health"
	"github.com/john/combinedchat/internal/message"
	"github.com/john/combinedchat/internal/metrics"
	"github.com/john/combinedchat/internal/transcript"
	"github.com/john/combinedchat/internal/tui"
)

// frontEnd drives the client until the user is done.
type frontEnd func(ctx context.Context, c *client.Client) error

func runTUI(cmd *cobra.Command) error {
	bridge := tui.NewBridge()
	// Logs would tear the screen; they go to log.file or nowhere.
	return runClient(cmd, io.Discard, bridge, func(ctx context.Context, c *client.Client) error {
		return tui.Run(ctx, c, bridge)
	})
}

// runClient wires the full client around renderer and runs it alongside ui,
// the transcript writer and the status server until ui returns or a signal
// arrives.
func runClient(cmd *cobra.Command, logOut io.Writer, renderer client.Renderer, ui frontEnd) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cmd, logOut)
	if err != nil {
		return err
	}
	defer a.close()
	metrics.Init()

	sess, err := a.newSession()
	if err != nil {
		return err
	}
	st := a.openStore(ctx)

	initial, explicit := connectTargets(cmd, a)
	opts := client.Options{
		Feed:     a.feedOptions(),
		Logger:   a.logger,
		NoResume: explicit,
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.Transcript.Enabled {
		w := transcript.New(a.cfg.Transcript.OutputDir, a.cfg.Transcript.RotateMinutes, a.cfg.Transcript.RotateMegabytes, a.logger)
		opts.OnRender = w.Record
		g.Go(func() error {
			return ignoreCanceled(w.Start(gctx))
		})
	}

	g.Go(func() error {
		return ignoreCanceled(st.Run(gctx))
	})

	c := client.New(sess, a.api, st, renderer, opts)
	g.Go(func() error {
		return ignoreCanceled(c.Run(gctx))
	})

	if addr := a.cfg.Health.Addr; addr != "" {
		hs := health.New(addr, c, a.logger)
		g.Go(func() error {
			if err := hs.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return hs.Shutdown(shutdownCtx)
		})
	}

	if explicit {
		c.Connect(initial)
	}

	g.Go(func() error {
		defer cancel()
		return ignoreCanceled(ui(gctx, c))
	})
	return g.Wait()
}

// connectTargets returns the channels named by --twitch/--kick, or the
// configured ones with --connect. explicit is false when the last session
// should be resumed instead.
func connectTargets(cmd *cobra.Command, a *app) (message.Targets, bool) {
	rawTwitch, _ := cmd.Flags().GetString("twitch")
	rawKick, _ := cmd.Flags().GetString("kick")
	if rawTwitch != "" || rawKick != "" {
		return channel.ParseTargets(rawTwitch, rawKick), true
	}
	if useConfig, _ := cmd.Flags().GetBool("connect"); useConfig {
		return a.cfg.Targets(), true
	}
	return message.Targets{}, false
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
