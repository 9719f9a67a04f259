package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/redeployr"
)

// createHashTokenCommand creates the hash-token subcommand
func createHashTokenCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Print the bcrypt hash of an API token",
		Long: `Hash an API token for the [server.auth] section of the config file.
The token is read from --token or, when omitted, from the first line of stdin.

Examples:
  openssl rand -hex 24 | tee ci.token | redeployr hash-token`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return errors.New("no token given: use --token or pipe it on stdin")
				}
				token = strings.TrimSpace(line)
			}
			h, err := redeployr.HashToken(token)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), h)
			return err
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "token to hash")
	return cmd
}
