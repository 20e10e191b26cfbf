package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	initUserID      string
	initRole        string
	initDisplayName string
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&initUserID, "user", "", "user id the session authenticates as")
	initCmd.Flags().StringVar(&initRole, "role", "client", "account role (client or trainer)")
	initCmd.Flags().StringVar(&initDisplayName, "name", "", "display name shown on optimistic posts")
}

var initCmd = &cobra.Command{
	Use:   "init <token>",
	Short: "Store credentials in ~/.coachlink/config.toml",
	Long:  "Initialize the CoachLink CLI by storing your access token and identity in the local configuration file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		cfg.Default.Token = args[0]
		if initUserID != "" {
			cfg.Default.UserID = initUserID
		}
		if initRole != "" {
			cfg.Default.Role = initRole
		}
		if initDisplayName != "" {
			cfg.Default.DisplayName = initDisplayName
		}

		if err := saveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		path, _ := configPath()
		fmt.Printf("Credentials saved to %s\n", path)
		return nil
	},
}
