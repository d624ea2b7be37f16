package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/layerhook/internal/errx"
	"github.com/jingkaihe/layerhook/pkg/logging"
)

var eventsCmd = &cobra.Command{
	Use:   "events <events.jsonl>",
	Short: "List hook events recorded with --events",
	Args:  cobra.ExactArgs(1),
	RunE:  runEvents,
}

func init() {
	eventsCmd.Flags().String("type", "", "Only show events of this type (hook_bypass, hook_error, original_resolved)")
	eventsCmd.Flags().String("symbol", "", "Only show events for this symbol")

	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	eventType, _ := cmd.Flags().GetString("type")
	symbol, _ := cmd.Flags().GetString("symbol")

	events, err := logging.ReadJSONL(args[0])
	if err != nil {
		return errx.Wrap(ErrReadEvents, err)
	}
	return printEvents(cmd.OutOrStdout(), events, eventType, symbol)
}

func printEvents(out io.Writer, events []logging.Event, eventType, symbol string) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tRUN\tTYPE\tSYMBOL\tSUMMARY")
	for _, e := range events {
		if (eventType != "" && e.EventType != eventType) || (symbol != "" && e.Symbol != symbol) {
			continue
		}
		run := e.RunID
		if len(run) > 8 {
			run = run[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.Timestamp.Format(time.RFC3339), run, e.EventType, e.Symbol, e.Summary)
	}
	return w.Flush()
}
