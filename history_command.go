package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/dotside-studios/davi-attendance/journal"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		limit     int
		nfcID     string
		jsonOut   bool
		pruneDays int
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent kiosk actions from the local journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := journal.Open(cfg.Journal.Path)
			if err != nil {
				return fmt.Errorf("open journal: %w", err)
			}
			defer store.Close()

			out := cmd.OutOrStdout()
			if pruneDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -pruneDays)
				removed, err := store.Prune(cmd.Context(), cutoff)
				if err != nil {
					return fmt.Errorf("prune journal: %w", err)
				}
				fmt.Fprintf(out, "Removed %d entries older than %s\n", removed, cutoff.Format(time.DateOnly))
				return nil
			}

			var entries []journal.Entry
			if nfcID != "" {
				entries, err = store.ForNFCID(cmd.Context(), nfcID, limit)
			} else {
				entries, err = store.Recent(cmd.Context(), limit)
			}
			if err != nil {
				return fmt.Errorf("read journal: %w", err)
			}

			if jsonOut {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "No journal entries")
				return nil
			}
			fmt.Fprintln(out, renderHistory(entries, shouldColorize(out)))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries to show")
	cmd.Flags().StringVar(&nfcID, "nfc-id", "", "Only show entries for this card")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print entries as JSON")
	cmd.Flags().IntVar(&pruneDays, "prune-days", 0, "Delete entries older than this many days instead of listing")
	return cmd
}

func renderHistory(entries []journal.Entry, colorize bool) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Action,
			orDash(e.NFCID),
			outcomeLabel(e.Outcome, colorize),
			orDash(e.AttendanceStatus),
			e.Message,
		})
	}
	return renderTable(
		[]string{"Time", "Action", "NFC ID", "Outcome", "Status", "Message"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func outcomeLabel(o journal.Outcome, colorize bool) string {
	if !colorize {
		return string(o)
	}
	switch o {
	case journal.OutcomeSuccess:
		return text.FgGreen.Sprint(o)
	case journal.OutcomeCancelled:
		return text.FgYellow.Sprint(o)
	default:
		return text.FgRed.Sprint(o)
	}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
