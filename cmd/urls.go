package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"linklog/pkg/logger"
	"linklog/pkg/store"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

const seenLayout = "2006-01-02 15:04:05"

var (
	urlsLimit   int
	urlsChannel string
)

var urlsCmd = &cobra.Command{
	Use:   "urls",
	Short: "Print the most recently logged URLs",
	RunE: func(cmd *cobra.Command, args []string) error {
		_ = args

		cfg, appLogger, err := loadRuntime()
		if err != nil {
			return err
		}

		return listURLs(cmd.Context(), cmd.OutOrStdout(), cfg.URLLogDB, urlsLimit, urlsChannel, appLogger)
	},
}

func init() {
	rootCmd.AddCommand(urlsCmd)
	urlsCmd.Flags().IntVarP(&urlsLimit, "limit", "n", 20, "number of records to print")
	urlsCmd.Flags().StringVar(&urlsChannel, "channel", "", "only records whose channel contains this text")
}

func listURLs(ctx context.Context, out io.Writer, target string, limit int, channel string, log *slog.Logger) error {
	log = logger.Component(log, "cmd.urls")

	st, err := store.Open(ctx, target, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("Failed to close url log", "error", err)
		}
	}()

	records, err := st.RecentURLs(ctx, limit, channel)
	if err != nil {
		return err
	}

	return printURLs(out, records)
}

func printURLs(out io.Writer, records []store.Record) error {
	if len(records) == 0 {
		_, err := fmt.Fprintln(out, "no urls logged")
		return err
	}

	headerStyle := lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("SEEN", "CHANNEL", "URL").
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	for _, rec := range records {
		t.Row(formatSeen(rec.Seen), rec.Channel, rec.URL)
	}

	_, err := fmt.Fprintln(out, t.Render())
	return err
}

func formatSeen(seen int64) string {
	if seen == 0 {
		return "(none)"
	}
	return time.Unix(seen, 0).Format(seenLayout)
}
