package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/RichardoC/voz/internal/session"
)

func newReplayCmd() *cobra.Command {
	var (
		configPath  string
		chatID      string
		minDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "replay <session.jsonl>",
		Short: "Replay recorded voice SDK events into the history",
		Long: "Reads one SDK event per line, runs them through a call exactly as a live " +
			"session would, and reports whether the conversation was kept.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(configPath, func(e *env) error {
				keep := e.cfg.Retention.MinDuration
				if cmd.Flags().Changed("min-duration") {
					keep = minDuration
				}
				ended, err := replay(cmd.Context(), e, args[0], chatID, keep)
				if err != nil {
					return err
				}
				verdict := "discarded"
				if ended.Retained {
					verdict = "kept"
				}
				chat, _ := e.store.Get(ended.ChatID)
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %q, %d messages, %s\n",
					verdict, ended.ChatID, chat.Title, len(e.store.ListMessages(ended.ChatID)),
					formatDuration(ended.DurationSec))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to voz config file")
	cmd.Flags().StringVar(&chatID, "chat", "", "resume this conversation instead of starting a new one")
	cmd.Flags().DurationVar(&minDuration, "min-duration", 0, "shortest call to keep (overrides config)")
	return cmd
}

func replay(ctx context.Context, e *env, path, chatID string, minDuration time.Duration) (session.Update, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	f, err := os.Open(path)
	if err != nil {
		return session.Update{}, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	feed := session.NewFeed(64, nil)
	var ended session.Update
	call := session.NewCall(feed, e.store, e.logger, session.Options{
		ChatID:      chatID,
		Resume:      chatID != "",
		MinDuration: minDuration,
		Publish: func(u session.Update) {
			if u.Type == session.UpdateEnded {
				ended = u
			}
		},
	})

	runErr := make(chan error, 1)
	go func() { runErr <- call.Run(ctx) }()
	// a call-end or end control in the recording finishes the call early
	go func() {
		<-call.Done()
		feed.Close()
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line, skipped := 0, 0
	for scanner.Scan() {
		line++
		ev, ok := session.Decode(scanner.Bytes())
		if !ok {
			skipped++
			continue
		}
		if !feed.Push(ev) {
			break
		}
	}
	feed.Close()
	if err := <-runErr; err != nil {
		return ended, err
	}
	if err := scanner.Err(); err != nil {
		return ended, fmt.Errorf("read recording at line %d: %w", line, err)
	}
	if skipped > 0 {
		e.logger.Info("skipped unreadable events", zap.Int("skipped", skipped), zap.Int("lines", line))
	}
	return ended, nil
}
