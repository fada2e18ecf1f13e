package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"tickbot/internal/app"
	"tickbot/internal/config"
	"tickbot/internal/storage"
	logx "tickbot/pkg/logx"
)

var (
	flagLimit int
	flagKey   string
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show the success counter and the latest delivery log entries",
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().IntVarP(&flagLimit, "limit", "l", 10, "number of log entries to show")
	statsCmd.Flags().StringVar(&flagKey, "key", config.DefaultCounterKey, "counter key")
	rootCmd.AddCommand(statsCmd)
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	successStyle = cellStyle.Foreground(lipgloss.Color("#879A39"))
	errorStyle   = cellStyle.Foreground(lipgloss.Color("#D14D41"))
	startupStyle = cellStyle.Foreground(lipgloss.Color("#4385BE"))
	borderStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#575653"))
)

func runStats(cmd *cobra.Command, _ []string) error {
	sc, err := config.NewManager(flagConfig).ParseStorage()
	if err != nil {
		return err
	}
	stc, enabled, err := app.StorageConfig(&config.Config{Storage: sc})
	if err != nil {
		return err
	}
	if !enabled {
		return errors.New("storage is disabled (storage.driver=none); nothing to show")
	}
	st, err := storage.Open(stc, logx.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	return printStats(ctx, cmd.OutOrStdout(), st, flagKey, flagLimit)
}

func printStats(ctx context.Context, w io.Writer, st storage.Store, key string, limit int) error {
	stat, ok, err := st.GetStat(ctx, key)
	if err != nil {
		return err
	}
	logs, err := st.RecentLogs(ctx, limit)
	if err != nil {
		return err
	}

	value := "0"
	if ok {
		value = stat.Value
	}
	fmt.Fprintln(w, titleStyle.Render(key+": "+value))
	if len(logs) == 0 {
		fmt.Fprintln(w, "no deliveries logged yet")
		return nil
	}

	rows := make([][]string, 0, len(logs))
	for _, l := range logs {
		rows = append(rows, []string{
			strconv.FormatInt(l.ID, 10),
			l.Timestamp.Format("2006-01-02 15:04:05 MST"),
			string(l.Status),
			l.Message,
		})
	}
	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(borderStyle).
		Headers("ID", "TIME", "STATUS", "MESSAGE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col != 2 || row < 0 || row >= len(rows) {
				return cellStyle
			}
			switch storage.Status(rows[row][2]) {
			case storage.StatusSuccess:
				return successStyle
			case storage.StatusError:
				return errorStyle
			default:
				return startupStyle
			}
		})
	fmt.Fprintln(w, t.Render())
	return nil
}
