package main

import (
	"fmt"
	"os"

	coachlink "github.com/coachlink-app/coachlink-go"
)

// resolvedConfig is the stored config with environment overrides applied.
// COACHLINK_TOKEN, COACHLINK_USER_ID, COACHLINK_ROLE, COACHLINK_BASE_URL and
// COACHLINK_PUSH_SECRET win over ~/.coachlink/config.toml.
func resolvedConfig() (*Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if v := os.Getenv("COACHLINK_TOKEN"); v != "" {
		cfg.Default.Token = v
	}
	if v := os.Getenv("COACHLINK_USER_ID"); v != "" {
		cfg.Default.UserID = v
	}
	if v := os.Getenv("COACHLINK_ROLE"); v != "" {
		cfg.Default.Role = v
	}
	if v := os.Getenv("COACHLINK_BASE_URL"); v != "" {
		cfg.Default.BaseURL = v
	}
	if v := os.Getenv("COACHLINK_PUSH_SECRET"); v != "" {
		cfg.Push.Secret = v
	}
	return cfg, nil
}

// getClient creates an API client from the stored credentials.
func getClient() *coachlink.Client {
	cfg, err := resolvedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.Token == "" {
		fmt.Fprintln(os.Stderr, "No token. Run 'coachlink init <token>' first.")
		os.Exit(1)
	}

	var opts []coachlink.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, coachlink.WithBaseURL(cfg.Default.BaseURL))
	}
	if cfg.Default.Role != "" {
		opts = append(opts, coachlink.WithRole(coachlink.Role(cfg.Default.Role)))
	}

	return coachlink.NewClient(cfg.Default.Token, opts...)
}

// getIdentity builds the realtime identity from the stored credentials.
func getIdentity() coachlink.Identity {
	cfg, err := resolvedConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.UserID == "" {
		fmt.Fprintln(os.Stderr, "No user id. Run 'coachlink init <token> --user <id>' first.")
		os.Exit(1)
	}

	role := coachlink.Role(cfg.Default.Role)
	if !role.Valid() {
		role = coachlink.RoleClient
	}
	return coachlink.Identity{
		UserID:      cfg.Default.UserID,
		Role:        role,
		Token:       cfg.Default.Token,
		DisplayName: cfg.Default.DisplayName,
	}
}

func valueOrDefault(val, def string) string {
	if val == "" {
		return def
	}
	return val
}

// masktoken shows the first 8 and last 4 characters of a token.
func maskToken(tok string) string {
	if len(tok) <= 12 {
		return "****"
	}
	return tok[:8] + "..." + tok[len(tok)-4:]
}
