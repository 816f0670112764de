package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/kalambet/threadmark/internal/auth"
	"github.com/kalambet/threadmark/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the shared hub",
	Long: `Sign in to the shared hub. The session is stored in the data directory
and picked up by a running daemon without a restart.

Examples:
  threadmark login --hub https://hub.example.com --email ana@example.com`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		hub, _ := cmd.Flags().GetString("hub")
		email, _ := cmd.Flags().GetString("email")
		if hub == "" {
			hub = cfg.Remote.URL
		}
		if hub == "" {
			return fmt.Errorf("no hub configured: pass --hub or run `threadmark config set remote.url <url>`")
		}

		p := newPrompter(os.Stdin, os.Stderr)
		if email == "" {
			if email, err = p.line("Email: "); err != nil {
				return err
			}
		}
		password, err := p.secret("Password: ")
		if err != nil {
			return err
		}
		if email == "" || password == "" {
			return fmt.Errorf("email and password are required")
		}

		sessions, err := auth.OpenFile(sessionPath(cfg), nil)
		if err != nil {
			return err
		}
		s, err := newHubClient(cfg, hub, sessions, nil).Login(cmd.Context(), email, password)
		if err != nil {
			return err
		}
		if err := sessions.SignIn(s); err != nil {
			return err
		}

		printSuccess("Signed in to %s as %s", hub, s.User.Label())
		if cfg.Remote.URL == "" {
			printWarning("remote.url is not set; run `threadmark config set remote.url %s` and restart the daemon to store threads on the hub", hub)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of the shared hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		sessions, err := auth.OpenFile(sessionPath(cfg), nil)
		if err != nil {
			return err
		}
		if _, ok := sessions.CurrentSession(); !ok {
			printWarning("Not signed in")
			return nil
		}
		if err := sessions.SignOut(); err != nil {
			return err
		}
		printSuccess("Signed out; threads are stored locally again")
		return nil
	},
}

func init() {
	loginCmd.Flags().String("hub", "", "hub URL (default: remote.url)")
	loginCmd.Flags().String("email", "", "account email")
}

// prompter reads answers from in, echoing prompts to out. Secrets are read
// without echo when in is a terminal.
type prompter struct {
	in  *os.File
	r   *bufio.Reader
	out io.Writer
}

func newPrompter(in *os.File, out io.Writer) *prompter {
	return &prompter{in: in, r: bufio.NewReader(in), out: out}
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	s, err := p.r.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && s != "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(s), nil
}

func (p *prompter) secret(prompt string) (string, error) {
	fd := int(p.in.Fd())
	if !term.IsTerminal(fd) {
		return p.line(prompt)
	}
	fmt.Fprint(p.out, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(p.out)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}
