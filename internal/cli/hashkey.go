package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"apiforge/internal/auth"
)

var (
	hashKeyID      string
	hashKeySubject string
	hashKeyRole    string
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key",
	Short: "Hash an API key secret for auth.api_keys",
	Long: `Read an API key secret without echo and print an auth.api_keys entry
holding its bcrypt hash.

Clients send the key as "<id>.<secret>" in the X-API-Key header.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret, err := readSecret(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		hash, err := auth.HashSecret(secret)
		if err != nil {
			return fmt.Errorf("failed to hash secret: %w", err)
		}

		id := hashKeyID
		if id == "" {
			id = strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "[[auth.api_keys]]")
		fmt.Fprintf(out, "id = %q\n", id)
		fmt.Fprintf(out, "hash = %q\n", hash)
		fmt.Fprintf(out, "subject = %q\n", hashKeySubject)
		fmt.Fprintf(out, "role = %q\n", hashKeyRole)
		fmt.Fprintf(cmd.ErrOrStderr(), "\n✅ Send as X-API-Key: %s.<secret>\n", id)
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().StringVar(&hashKeyID, "id", "", "key id (generated when empty)")
	hashKeyCmd.Flags().StringVar(&hashKeySubject, "subject", "service", "subject the key authenticates as")
	hashKeyCmd.Flags().StringVar(&hashKeyRole, "role", "user", "role of the key")
}

// readSecret prompts on a terminal, otherwise reads one line from in
func readSecret(in io.Reader, prompt io.Writer) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, "Secret: ")
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt) // New line after secret input
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return validSecret(string(b))
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	return validSecret(strings.TrimRight(line, "\r\n"))
}

func validSecret(s string) (string, error) {
	if len(s) < 16 {
		return "", errors.New("secret must be at least 16 characters")
	}
	if strings.Contains(s, ".") {
		return "", errors.New("secret must not contain '.'")
	}
	return s, nil
}
