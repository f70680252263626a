package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	pkgcli "github.com/fossclaw/fossclaw/pkg/cli"

	"github.com/fossclaw/fossclaw/internal/auth"
	"github.com/fossclaw/fossclaw/internal/config"
)

func newInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Interactive wizard to generate a credentials file",
		RunE: func(cmd *cobra.Command, args []string) error {
			defaults, _ := cmd.Flags().GetBool("defaults")
			if defaults {
				return runInitDefaults()
			}
			return runInitWizard()
		},
	}
	cmd.Flags().Bool("defaults", false, "generate credentials non-interactively with a random password")
	return cmd
}

func runInitWizard() error {
	p := pkgcli.DefaultPrompter()

	_, _ = fmt.Fprintln(p.Out)
	_, _ = fmt.Fprintln(p.Out, "  fossclaw — Credentials Setup")
	_, _ = fmt.Fprintln(p.Out, strings.Repeat("─", 32))
	_, _ = fmt.Fprintln(p.Out)

	username := p.Ask("  Username", "admin")
	password := p.AskPassword("  Password (leave blank to generate one)")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := cfg.CredentialsPath()
	creds, generated, err := writeCredentials(path, username, password)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(p.Out, "\n  Credentials written to %s\n", path)
	if generated != "" {
		_, _ = fmt.Fprintf(p.Out, "  Generated password: %s\n", generated)
	}
	_, _ = fmt.Fprintf(p.Out, "  Username: %s\n\n", creds.Username)
	_, _ = fmt.Fprintln(p.Out, "  Next step: fossclaw serve")
	return nil
}

func runInitDefaults() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	path := cfg.CredentialsPath()
	_, generated, err := writeCredentials(path, "admin", "")
	if err != nil {
		return err
	}
	if generated != "" {
		fmt.Printf("generated fossclaw credentials written to %s (password: %s)\n", path, generated)
	} else {
		fmt.Printf("credentials already exist at %s\n", path)
	}
	return nil
}

func writeCredentials(path, username, password string) (auth.Credentials, string, error) {
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return auth.Credentials{}, "", fmt.Errorf("read existing credentials: %w", err)
		}
		var existing auth.Credentials
		if err := json.Unmarshal(data, &existing); err != nil {
			return auth.Credentials{}, "", fmt.Errorf("parse existing credentials: %w", err)
		}
		return existing, "", nil
	}

	generated := ""
	if password == "" {
		var err error
		password, err = auth.RandomPassword()
		if err != nil {
			return auth.Credentials{}, "", fmt.Errorf("generate password: %w", err)
		}
		generated = password
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return auth.Credentials{}, "", fmt.Errorf("hash password: %w", err)
	}
	creds := auth.Credentials{Username: username, PasswordHash: string(hash)}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return auth.Credentials{}, "", fmt.Errorf("create base dir: %w", err)
	}
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return auth.Credentials{}, "", err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o600); err != nil {
		return auth.Credentials{}, "", fmt.Errorf("write credentials: %w", err)
	}
	return creds, generated, nil
}
