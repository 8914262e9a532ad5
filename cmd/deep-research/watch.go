// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/deep-research/internal/streaming"
	"github.com/pdiddy/deep-research/pkg/types"
)

var watchCmd = &cobra.Command{
	Use:   "watch SESSION",
	Short: "Follow the progress of a session published to Redis",
	Long: `Watch prints the progress events of a session started by another process
with streaming.redis_addr configured. It replays the events published so far
and exits after the terminal event.`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("redis-addr"); addr != "" {
		cfg.Streaming.RedisAddr = addr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sink, err := streaming.NewRedisSink(ctx, cfg.Streaming, logger)
	if err != nil {
		return err
	}
	defer sink.Close()

	return watch(ctx, sink, args[0], cmd.OutOrStdout())
}

// watch prints each event of the session until a terminal one. A Failed
// session is reported as an error.
func watch(ctx context.Context, sink *streaming.RedisSink, sessionID string, w io.Writer) error {
	events := make(chan types.ProgressEvent, 8)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sink.Follow(gctx, sessionID, events)
	})

	var last types.ProgressEvent
	for ev := range events {
		last = ev
		fmt.Fprintf(w, "%s [%d] %-13s %3.0f%%  %s\n", ev.Timestamp.Local().Format("15:04:05"), ev.Seq, ev.State, ev.Progress*100, ev.Detail)
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if last.State == types.StateFailed {
		return errors.New("session failed: " + last.Detail)
	}
	return nil
}

func init() {
	watchCmd.Flags().String("redis-addr", "", "Redis address (overrides streaming.redis_addr)")

	rootCmd.AddCommand(watchCmd)
}
