package main

import (
	"fmt"
	"net/http"
	"time"

	coachlink "github.com/coachlink-app/coachlink-go"
	"github.com/spf13/cobra"
)

var pushServeAddr string

func init() {
	rootCmd.AddCommand(pushCmd)
	pushCmd.AddCommand(pushServeCmd)
	pushServeCmd.Flags().StringVar(&pushServeAddr, "addr", "", "listen address (default :8686 or [push] addr from config)")
}

var pushCmd = &cobra.Command{
	Use:   "push",
	Short: "Push webhook tools",
}

var pushServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local push webhook receiver",
	Long:  "Listen for signed push webhooks and print each verified notification. Requires [push] secret in the config.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := resolvedConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Push.Secret == "" {
			return fmt.Errorf("no push secret; run 'coachlink config set push.secret <secret>' first")
		}

		addr := pushServeAddr
		if addr == "" {
			addr = cfg.Push.Addr
		}
		if addr == "" {
			addr = ":8686"
		}

		receiver, err := coachlink.NewPushReceiver(cfg.Push.Secret, func(n coachlink.Notification) error {
			watchLine(watchWarn, "push", "[%s] %s: %s", n.Type, n.Title, n.Message)
			return nil
		})
		if err != nil {
			return err
		}

		mux := http.NewServeMux()
		mux.Handle("/webhooks/push", receiver.HTTPHandler())

		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		fmt.Printf("Listening on %s (POST /webhooks/push)\n", addr)
		return srv.ListenAndServe()
	},
}
