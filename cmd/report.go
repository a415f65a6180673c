package cmd

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nvrlab/rtsptrace/internal/storage"
)

// CreateReportCmd creates the report command.
func CreateReportCmd() *cobra.Command {
	var dbPath string
	var connID int64

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize a capture database",
		Long: `Prints per-connection summaries from a capture database: when each ` +
			`connection started, how long it lived, why it was lost, and how many ` +
			`streams, frames and sender reports were recorded. With --conn it prints ` +
			`per-stream detail for one connection, including the drift between the ` +
			`cumulative RTP duration and the local receive span.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			// Opening a missing path would create an empty database.
			if _, err := os.Stat(dbPath); err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace report: %v\n", err)
				os.Exit(1)
			}

			store, err := storage.Open(dbPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace report: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			if connID > 0 {
				err = reportConnection(store, connID)
			} else {
				err = reportConnections(store)
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace report: %v\n", err)
				os.Exit(1)
			}
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "capture.db", "Path to capture database")
	cmd.Flags().Int64Var(&connID, "conn", 0, "Show per-stream detail for one connection id")

	return cmd
}

func reportConnections(store *storage.Store) error {
	conns, err := store.ConnectionSummaries()
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		fmt.Println("No connections recorded")
		return nil
	}

	fmt.Printf("%4s  %-19s  %12s  %7s  %7s  %7s  %-30s  %s\n",
		"conn", "start", "lifetime", "streams", "frames", "reports", "url", "lost reason")
	for _, c := range conns {
		fmt.Printf("%4d  %-19s  %12s  %7d  %7d  %7d  %-30s  %s\n",
			c.ID,
			time.UnixMicro(c.Start).Format("2006-01-02 15:04:05"),
			lifetime(c.ConnectionRow),
			c.Streams, c.Frames, c.Reports,
			c.URL,
			c.LostReason.String)
	}
	return nil
}

func reportConnection(store *storage.Store, connID int64) error {
	conn, err := store.Connection(connID)
	if err != nil {
		return err
	}
	streams, err := store.StreamSummaries(connID)
	if err != nil {
		return err
	}

	fmt.Printf("conn %d: %s\n", conn.ID, conn.URL)
	fmt.Printf("started %s, lifetime %s",
		time.UnixMicro(conn.Start).Format("2006-01-02 15:04:05.000000"),
		lifetime(conn))
	if conn.LostReason.Valid {
		fmt.Printf(", lost: %s", conn.LostReason.String)
	}
	fmt.Println()

	if len(streams) == 0 {
		fmt.Println("No streams recorded")
		return nil
	}

	fmt.Printf("\n%6s  %-5s  %-12s  %8s  %7s  %6s  %7s  %12s  %s\n",
		"stream", "media", "encoding", "clock", "frames", "loss", "reports", "duration", "drift")
	for _, s := range streams {
		fmt.Printf("%6d  %-5s  %-12s  %8d  %7d  %6d  %7d  %12s  %s\n",
			s.StreamID, s.Media, s.EncodingName, s.ClockRate,
			s.Frames, s.LossTotal, s.Reports,
			ticksSeconds(s.CumDuration, s.ClockRate),
			drift(s))
	}
	return nil
}

// lifetime renders how long a connection lived, "open" when no loss was
// recorded for it.
func lifetime(c storage.ConnectionRow) string {
	if !c.Lost.Valid {
		return "open"
	}
	d := time.Duration(c.Lost.Int64-c.Start) * time.Microsecond
	return d.Round(time.Millisecond).String()
}

func ticksSeconds(v sql.NullInt64, clockRate int64) string {
	if !v.Valid {
		return "n/a"
	}
	if clockRate <= 0 {
		return fmt.Sprintf("%d ticks", v.Int64)
	}
	return fmt.Sprintf("%.3fs", float64(v.Int64)/float64(clockRate))
}

// drift renders the difference between a stream's cumulative RTP duration and
// its local receive span. Positive means the producer claims more media time
// than wall clock passed.
func drift(s storage.StreamSummary) string {
	if !s.CumDuration.Valid || !s.FirstReceived.Valid || !s.LastReceived.Valid {
		return "n/a"
	}
	d := s.CumDuration.Int64 - (s.LastReceived.Int64 - s.FirstReceived.Int64)
	if s.ClockRate <= 0 {
		return fmt.Sprintf("%+d ticks", d)
	}
	return fmt.Sprintf("%+d ticks (%+.3fs)", d, float64(d)/float64(s.ClockRate))
}
