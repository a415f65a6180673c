package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nvrlab/rtsptrace/internal/logging"
	"github.com/nvrlab/rtsptrace/internal/updater"
)

// CreateUpdateCmd creates the update command.
func CreateUpdateCmd() *cobra.Command {
	var repository string
	var prerelease bool
	var checkOnly bool
	var rollback bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update rtsptrace to the latest release",
		Long: `Checks GitHub for a newer release and replaces the running binary in ` +
			`place, keeping a backup of the previous version. Use --check to only ` +
			`report whether an update exists, and --rollback to restore the backup.`,
		Args: cobra.NoArgs,
		Run: func(_ *cobra.Command, _ []string) {
			logging.Initialize(logging.Config{
				Level:  "info",
				Format: "text",
			})

			u, err := updater.New(updater.Options{
				Repository: repository,
				Prerelease: prerelease,
			})
			if err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace update: %v\n", err)
				os.Exit(1)
			}

			if rollback {
				if err := u.Rollback(); err != nil {
					fmt.Fprintf(os.Stderr, "rtsptrace update: %v\n", err)
					os.Exit(1)
				}
				fmt.Println("Rolled back to the previous version")
				return
			}

			ctx := context.Background()
			rel, err := u.Check(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace update: %v\n", err)
				os.Exit(1)
			}

			if !rel.Available {
				fmt.Printf("rtsptrace %s is up to date\n", rel.CurrentVersion)
				return
			}

			fmt.Printf("Update available: %s -> %s\n", rel.CurrentVersion, rel.LatestVersion)
			fmt.Printf("  released %s, %s\n", rel.PublishedAt.Format("2006-01-02"), rel.URL)
			if checkOnly {
				return
			}

			if err := u.Apply(ctx, rel); err != nil {
				fmt.Fprintf(os.Stderr, "rtsptrace update: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Updated to %s\n", rel.LatestVersion)
		},
	}

	cmd.Flags().StringVar(&repository, "repository", "nvrlab/rtsptrace", "GitHub repository to update from")
	cmd.Flags().BoolVar(&prerelease, "prerelease", false, "Consider prereleases when checking")
	cmd.Flags().BoolVar(&checkOnly, "check", false, "Only check whether an update is available")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "Restore the backed up previous version")

	return cmd
}
