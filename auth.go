package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/anotepad/notesync/internal/drive"
)

func newLoginCmd() *cobra.Command {
	var noBrowser bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Connect notesync to your Google Drive",
		Long: `Sign in with Google in the browser and save the token in the data directory.

Requires auth.client_id (and auth.client_secret for a desktop OAuth client)
in the config file. Use --no-browser on a headless machine and open the
printed URL yourself.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			resolved, err := cc.requireResolved()
			if err != nil {
				return err
			}

			if err := os.MkdirAll(resolved.Paths.DataDir, dataDirPermissions); err != nil {
				return fmt.Errorf("creating data directory: %w", err)
			}

			opener := openBrowser
			if noBrowser {
				opener = func(string) error { return errors.New("browser disabled") }
			}

			err = drive.LoginWithBrowser(cmd.Context(), resolved.Paths.Token(),
				credentialsFrom(resolved.Config), opener, cc.Logger)
			if errors.Is(err, drive.ErrNoClientID) {
				return fmt.Errorf("%w: set it in %s", err, resolved.ConfigPath)
			}

			if err != nil {
				return err
			}

			cc.Statusf("Login successful.\n")

			return nil
		},
	}

	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "print the sign-in URL instead of opening a browser")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the saved login token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			resolved, err := cc.requireResolved()
			if err != nil {
				return err
			}

			if err := drive.Logout(resolved.Paths.Token(), cc.Logger); err != nil {
				return err
			}

			cc.Statusf("Logged out.\n")

			return nil
		},
	}
}

// openBrowser launches the platform's URL handler without waiting for it.
func openBrowser(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("opening browser: %w", err)
	}

	go cmd.Wait() //nolint:errcheck // reaped only

	return nil
}
