package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show accounting statistics",
	}

	cmd.AddCommand(statsSessionCmd())
	cmd.AddCommand(statsClientCmd())
	cmd.AddCommand(statsAllCmd())

	return cmd
}

func statsSessionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "session <session-id>",
		Short: "Show accounting statistics for one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parseSessionID(args[0])
			if err != nil {
				return err
			}

			s, err := httpClient.SessionStats(context.Background(), id)
			if err != nil {
				return fmt.Errorf("session stats: %w", err)
			}

			out, err := formatStats(s, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func statsClientCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "client <client-id>",
		Short: "Show aggregated accounting statistics for one client",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			s, err := httpClient.ClientStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("client stats: %w", err)
			}

			out, err := formatStats(s, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}

func statsAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "all",
		Short: "Show aggregated accounting statistics across all sessions",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			s, err := httpClient.AllStats(context.Background())
			if err != nil {
				return fmt.Errorf("all stats: %w", err)
			}

			out, err := formatStats(s, outputFormat)
			if err != nil {
				return fmt.Errorf("format stats: %w", err)
			}

			fmt.Print(out)
			return nil
		},
	}
}
