package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rovermesh/signalhub/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file with secure defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			output, _ := cmd.Flags().GetString("output")
			if output == "" {
				output = "signalhub.json"
			}
			return writeStarterConfig(output)
		},
	}
	cmd.Flags().StringP("output", "o", "", "output config file path (default: ./signalhub.json)")
	return cmd
}

func writeStarterConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("refusing to overwrite existing config: %s", path)
	}

	secret, err := config.GenerateRandomSecret()
	if err != nil {
		return err
	}

	cfg := config.Config{
		Server: config.ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"*"},
		},
		Auth: config.AuthConfig{
			Mode:      "hs256",
			JWTSecret: secret,
		},
		Storage: config.StorageConfig{
			Driver: "sqlite",
			DSN:    "signalhub.db",
		},
		Logging: config.LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Wrote %s with a freshly generated HS256 secret.\n", path)
	fmt.Println("Review allowed_origins before exposing the hub to browsers.")
	return nil
}
