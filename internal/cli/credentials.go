package cli

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/KevinKickass/OpenRVCore/internal/auth"
)

func hashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print the argon2id hash for auth.users[].password_hash",
		Long:  "Hashes the argument, or the first line of stdin when no argument is given.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no password on stdin")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return auth.ErrEmptyPassword
			}

			hash, err := auth.NewPasswordHasher().HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

type tokenEntry struct {
	Name        string   `yaml:"name"`
	TokenHash   string   `yaml:"token_hash"`
	Permissions []string `yaml:"permissions"`
}

func tokenCmd() *cobra.Command {
	var name string
	var permissions []string

	c := &cobra.Command{
		Use:   "token",
		Short: "Generate an API token and its auth.api_tokens entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			issued, err := auth.NewMachineTokenGenerator().Issue(name, permissions)
			if err != nil {
				return err
			}
			granted := make([]string, len(issued.Permissions))
			for i, p := range issued.Permissions {
				granted[i] = string(p)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# token (shown once): %s\n", issued.Token)
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode([]tokenEntry{{Name: issued.Name, TokenHash: issued.Hash, Permissions: granted}}); err != nil {
				return err
			}
			return enc.Close()
		},
	}

	c.Flags().StringVar(&name, "name", "automation", "token name")
	c.Flags().StringSliceVar(&permissions, "permissions", []string{string(auth.PermRead)}, "granted permissions")
	return c
}
