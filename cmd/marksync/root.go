package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/marksync/internal/app"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/version"
)

// newRootCommand creates the root command. Configuration comes from the
// MARKSYNC_* environment variables for every subcommand.
func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "marksync",
		Short:         "Bookmark sync engine for nostr relays",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newRetryCommand())
	cmd.AddCommand(newSetsCommand())
	cmd.AddCommand(newVersionCommand())

	return cmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.New().Run()
		},
	}
}

func newRetryCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Republish every failed set once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			report, err := a.RetryOnce(ctx)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "give up after this long")
	return cmd
}

// setView is the YAML shape printed by `marksync sets`.
type setView struct {
	SetID      string            `yaml:"set_id"`
	Title      string            `yaml:"title"`
	Items      int               `yaml:"items"`
	Private    int               `yaml:"private,omitempty"`
	Unreadable bool              `yaml:"private_unreadable,omitempty"`
	Status     domain.SyncStatus `yaml:"status"`
	CreatedAt  time.Time         `yaml:"created_at"`
}

func newSetsCommand() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "sets",
		Short: "Print the merged view of the owner's bookmark sets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app.New()
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			sets, err := a.Sets(ctx)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), toSetViews(sets))
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "marksync %s (commit=%s, built=%s, go=%s)\n",
				version.Version, version.Commit, version.BuildDate, version.GoVersion)
		},
	}
}

func toSetViews(sets []*domain.BookmarkSet) []setView {
	views := make([]setView, 0, len(sets))
	for _, s := range sets {
		views = append(views, setView{
			SetID:      s.SetID,
			Title:      s.Title,
			Items:      s.ItemCount(),
			Private:    len(s.PrivateItems),
			Unreadable: s.PrivateUnreadable,
			Status:     s.SyncStatus,
			CreatedAt:  s.CreatedAt,
		})
	}
	return views
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}
