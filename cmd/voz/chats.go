package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/dustin/go-humanize/english"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/RichardoC/voz/internal/models"
)

func newChatsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Inspect and manage conversation history",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to voz config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List conversations, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(configPath, func(e *env) error {
				writeChats(cmd.OutOrStdout(), e.store.List(), time.Now())
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation's messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(configPath, func(e *env) error {
				chat, ok := e.store.Get(args[0])
				if !ok {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				writeTranscript(cmd.OutOrStdout(), chat, e.store.ListMessages(chat.ID))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Set a conversation's title",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(configPath, func(e *env) error {
				if _, ok := e.store.Get(args[0]); !ok {
					return fmt.Errorf("conversation %s not found", args[0])
				}
				e.store.Rename(args[0], args[1])
				fmt.Fprintf(cmd.OutOrStdout(), "Renamed %s\n", args[0])
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a conversation and its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEnv(configPath, func(e *env) error {
				e.store.Remove(args[0])
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	})
	return cmd
}

func withEnv(configPath string, fn func(*env) error) (err error) {
	e, err := openEnv(configPath)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, e.Close()) }()
	return fn(e)
}

func writeChats(w io.Writer, chats []models.Summary, now time.Time) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tDURATION\tUPDATED\tPREVIEW")
	for _, c := range chats {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			c.ID, c.Title, formatDuration(c.DurationSec),
			humanize.RelTime(c.UpdatedAt, now, "ago", "from now"), c.LastMessagePreview)
	}
	tw.Flush()
}

func writeTranscript(w io.Writer, chat models.Summary, msgs []models.Message) {
	fmt.Fprintf(w, "%s (%s, %s)\n", chat.Title, formatDuration(chat.DurationSec),
		english.Plural(len(msgs), "message", "messages"))
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s: %s\n", m.Timestamp.Local().Format("15:04:05"), m.Role, m.Text)
	}
}

// formatDuration renders whole seconds as m:ss, or h:mm:ss past an hour.
func formatDuration(sec int) string {
	if sec < 0 {
		sec = 0
	}
	h, m, s := sec/3600, sec/60%60, sec%60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
