package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/fakeyudi/pulse/internal/auth"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save the API key used to sync pulses",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close(cmd.Context())

		existing, err := a.queue.Credential(cmd.Context())
		if err != nil {
			return err
		}

		var credential string
		if in, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(in.Fd()) {
			credential, err = readHidden(cmd, in, existing)
		} else {
			credential, err = auth.Ask(cmd.InOrStdin(), cmd.ErrOrStderr(), existing)
		}
		if err != nil {
			return err
		}

		if err := a.queue.SaveCredential(cmd.Context(), credential); err != nil {
			return fmt.Errorf("saving credential: %w", err)
		}
		cmd.Printf("API key %s saved.\n", auth.Mask(credential))
		return nil
	},
}

// readHidden prompts on a terminal without echoing the key.
func readHidden(cmd *cobra.Command, in *os.File, existing string) (string, error) {
	prompt := "API key: "
	if existing != "" {
		prompt = fmt.Sprintf("API key [%s]: ", auth.Mask(existing))
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	b, err := term.ReadPassword(in.Fd())
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("reading credential: %w", err)
	}
	credential := strings.TrimSpace(string(b))
	if credential == "" {
		if existing == "" {
			return "", auth.ErrEmptyCredential
		}
		return existing, nil
	}
	return credential, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
