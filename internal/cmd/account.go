package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/meshport/internal/observability"
	"github.com/3leaps/meshport/pkg/portal"
	"github.com/3leaps/meshport/pkg/session"
)

var (
	accountUsername      string
	accountPassword      string
	accountPasswordStdin bool
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a portal account",
	Long: `Create an account on the portal backend.

Examples:
  meshport register -u ada --password-stdin < pw.txt
  MESHPORT_PASSWORD=secret meshport register -u ada`,
	Args: cobra.NoArgs,
	RunE: runRegister,
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session",
	Long: `Log in to the portal backend. The session (token, admin flag, backend
URL) is stored in the data directory with mode 0600 and used by later
commands until 'meshport logout'.`,
	Args: cobra.NoArgs,
	RunE: runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored session",
	Args:  cobra.NoArgs,
	RunE:  runLogout,
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in user",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "List portal users (admin only)",
	Long: `List the accounts known to the backend. Requires an admin session.
Passwords are never shown.`,
	Args: cobra.NoArgs,
	RunE: runUsers,
}

func init() {
	rootCmd.AddCommand(registerCmd, loginCmd, logoutCmd, whoamiCmd, usersCmd)

	for _, c := range []*cobra.Command{registerCmd, loginCmd} {
		c.Flags().StringVarP(&accountUsername, "username", "u", "", "Account username")
		c.Flags().StringVarP(&accountPassword, "password", "p", "", "Account password (prefer --password-stdin or MESHPORT_PASSWORD)")
		c.Flags().BoolVar(&accountPasswordStdin, "password-stdin", false, "Read the password from stdin")
	}
}

// readCredentials assembles credentials from flags, stdin and the
// environment, then validates them locally.
func readCredentials(cmd *cobra.Command) (portal.Credentials, error) {
	password := accountPassword
	if accountPasswordStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return portal.Credentials{}, exitError(foundry.ExitFileReadError, "Failed to read password from stdin", err)
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		password = os.Getenv("MESHPORT_PASSWORD")
	}

	creds := portal.Credentials{Username: strings.TrimSpace(accountUsername), Password: password}
	if err := session.ValidateCredentials(creds); err != nil {
		return creds, exitError(foundry.ExitInvalidArgument, "Missing credentials", err)
	}
	return creds, nil
}

func runRegister(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	creds, err := readCredentials(cmd)
	if err != nil {
		return err
	}
	client, err := newPortalClient(cfg)
	if err != nil {
		return err
	}

	msg, err := client.Register(commandContext(cmd.Context()), creds)
	if err != nil {
		observability.CLILogger.Warn("Registration rejected",
			zap.String("username", creds.Username), zap.Error(err))
		return exitError(classExitCode(err), "Registration failed", err)
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, map[string]string{"username": creds.Username, "message": msg})
	}
	_, _ = fmt.Fprintln(out, msg)
	return nil
}

func runLogin(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	creds, err := readCredentials(cmd)
	if err != nil {
		return err
	}
	client, err := newPortalClient(cfg)
	if err != nil {
		return err
	}

	sess, err := session.Login(commandContext(cmd.Context()), client, creds)
	if err != nil {
		return exitError(classExitCode(err), "Login failed", err)
	}
	store := sessionStore(cfg)
	if err := store.Save(sess); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to save session", err)
	}

	observability.CLILogger.Info("Logged in",
		zap.String("username", sess.Username),
		zap.Bool("is_admin", sess.IsAdmin),
		zap.String("session_file", store.Path()))

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, sessionView(sess))
	}
	role := "user"
	if sess.IsAdmin {
		role = "admin"
	}
	_, _ = fmt.Fprintf(out, "Logged in as %s (%s) at %s\n", sess.Username, role, sess.BackendURL)
	return nil
}

func runLogout(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	if err := sessionStore(cfg).Clear(); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to remove session", err)
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
	return nil
}

func runWhoami(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	sess, err := requireSession(cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, sessionView(sess))
	}
	_, _ = fmt.Fprintf(out, "username=%s\n", sess.Username)
	_, _ = fmt.Fprintf(out, "is_admin=%t\n", sess.IsAdmin)
	_, _ = fmt.Fprintf(out, "backend=%s\n", sess.BackendURL)
	_, _ = fmt.Fprintf(out, "logged_in_at=%s\n", sess.CreatedAt.UTC().Format(time.RFC3339))
	return nil
}

func runUsers(cmd *cobra.Command, _ []string) error {
	cfg, err := currentConfig(cmd.Context())
	if err != nil {
		return err
	}
	sess, err := requireSession(cfg)
	if err != nil {
		return err
	}
	client, err := newPortalClient(cfg)
	if err != nil {
		return err
	}

	users, err := client.ListUsers(commandContext(cmd.Context()), sess.BearerToken())
	if err != nil {
		return exitError(classExitCode(err), "Failed to list users", err)
	}

	out := cmd.OutOrStdout()
	if jsonFlag {
		return writeJSON(out, users)
	}
	if len(users) == 0 {
		_, _ = fmt.Fprintln(out, "No users found")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer func() { _ = w.Flush() }()
	_, _ = fmt.Fprintln(w, "USERNAME\tADMIN")
	for _, u := range users {
		_, _ = fmt.Fprintf(w, "%s\t%t\n", u.Username, u.IsAdmin)
	}
	return nil
}

// sessionView is the printable part of a session; the token stays on disk.
func sessionView(sess *session.Session) map[string]any {
	return map[string]any{
		"username":     sess.Username,
		"is_admin":     sess.IsAdmin,
		"backend_url":  sess.BackendURL,
		"logged_in_at": sess.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
