package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current configuration and API reachability",
	Long:  "Display the current configuration, ping the API, and report the unread notification count.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		fmt.Println("Configuration:")
		fmt.Printf("  User ID:     %s\n", valueOrDefault(cfg.Default.UserID, "(not set)"))
		fmt.Printf("  Role:        %s\n", valueOrDefault(cfg.Default.Role, "(not set)"))
		if cfg.Default.DisplayName != "" {
			fmt.Printf("  Name:        %s\n", cfg.Default.DisplayName)
		}
		if cfg.Default.BaseURL != "" {
			fmt.Printf("  Base URL:    %s\n", cfg.Default.BaseURL)
		}
		if cfg.Default.Token != "" {
			fmt.Printf("  Token:       %s\n", maskToken(cfg.Default.Token))
		} else {
			fmt.Println("  Token:       (not set)")
		}

		if cfg.Default.Token == "" {
			return nil
		}

		fmt.Println()
		fmt.Println("Live status:")

		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		result, err := client.Health(ctx)
		if err != nil {
			fmt.Printf("  API unreachable: %v\n", err)
			return nil
		}
		if !result.OK {
			if result.Error != nil {
				fmt.Printf("  API error: %s: %s\n", result.Error.Code, result.Error.Message)
			} else {
				fmt.Println("  API returned an error (no details)")
			}
			return nil
		}
		fmt.Println("  API:         ok")

		page, err := client.FetchNotifications(ctx, 1, 1)
		if err != nil {
			fmt.Printf("  Notifications: error: %v\n", err)
			return nil
		}
		fmt.Printf("  Unread:      %d\n", page.UnreadCount)
		fmt.Printf("  Total:       %d\n", page.TotalCount)
		return nil
	},
}
