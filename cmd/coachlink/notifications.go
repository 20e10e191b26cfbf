package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	notifListPage  int
	notifListLimit int
	notifListJSON  bool
)

func init() {
	rootCmd.AddCommand(notificationsCmd)
	notificationsCmd.AddCommand(notificationsListCmd)
	notificationsCmd.AddCommand(notificationsReadCmd)

	notificationsListCmd.Flags().IntVar(&notifListPage, "page", 1, "page to fetch")
	notificationsListCmd.Flags().IntVar(&notifListLimit, "limit", 10, "notifications per page")
	notificationsListCmd.Flags().BoolVar(&notifListJSON, "json", false, "print the raw JSON response")
}

var notificationsCmd = &cobra.Command{
	Use:   "notifications",
	Short: "Work with notifications",
	Long:  "List notifications and mark them as read.",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		page, err := client.FetchNotifications(ctx, notifListPage, notifListLimit)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}

		if notifListJSON {
			data, err := json.MarshalIndent(page, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}

		if len(page.Notifications) == 0 {
			fmt.Println("No notifications.")
			return nil
		}

		unreadMark := color.New(color.FgYellow, color.Bold)
		for _, n := range page.Notifications {
			mark := " "
			if !n.IsRead {
				mark = unreadMark.Sprint("*")
			}
			fmt.Printf("%s %-12s %-10s %s", mark, n.CreatedAt.Local().Format("Jan 02 15:04"), n.Type, n.Title)
			if n.Message != "" {
				fmt.Printf(" — %s", n.Message)
			}
			fmt.Printf("  (%s)\n", n.ID)
		}
		fmt.Printf("\n%d unread, %d total", page.UnreadCount, page.TotalCount)
		if page.HasMore {
			fmt.Printf(" (more on --page %d)", notifListPage+1)
		}
		fmt.Println()
		return nil
	},
}

var notificationsReadCmd = &cobra.Command{
	Use:   "read <notification-id>",
	Short: "Mark a notification as read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := client.MarkNotificationRead(ctx, args[0]); err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		fmt.Printf("Marked %s as read\n", args[0])
		return nil
	},
}
