package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/RichardoC/voz/internal/title"
)

func newTitleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "title <first user utterance> [first assistant utterance]",
		Short: "Preview the title synthesized for a conversation opening",
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			assistant := ""
			if len(args) > 1 {
				assistant = args[1]
			}
			fmt.Fprintln(cmd.OutOrStdout(), title.Synthesize(args[0], assistant))
		},
	}
}
