package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/threadmark/internal/hub"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage hub accounts",
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create an account",
	Long: `Create an account in the configured store. The password is read from
the terminal, or from the first line of stdin when it is not a terminal.

Examples:
  threadmark-hub user add --email ana@example.com --name "Ana"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		email, _ := cmd.Flags().GetString("email")
		name, _ := cmd.Flags().GetString("name")

		cfg, err := hub.LoadConfig()
		if err != nil {
			return err
		}
		password, err := readPassword(os.Stdin, os.Stderr)
		if err != nil {
			return err
		}

		store, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("opening %s store: %w", cfg.Store, err)
		}
		defer store.Close()

		sessions := hub.NewSessions(store, cfg.JWTSecret, cfg.TokenTTL, cfg.IdentityCacheTTL)
		u, err := sessions.AddUser(cmd.Context(), email, name, password)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (%s)\n", u.Email, u.UID)
		return nil
	},
}

func init() {
	userAddCmd.Flags().String("email", "", "account email")
	userAddCmd.Flags().String("name", "", "display name")
	userAddCmd.MarkFlagRequired("email")
	userCmd.AddCommand(userAddCmd)
}

func readPassword(in *os.File, prompt io.Writer) (string, error) {
	fd := int(in.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(prompt, "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
