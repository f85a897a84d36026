package cli

import (
	"fmt"

	"github.com/meancat/panicstream/config"
	"github.com/meancat/panicstream/server"
	"github.com/spf13/cobra"
)

func newTokenCommand(opts *rootOptions) *cobra.Command {
	var (
		username string
		offline  bool
	)

	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a bearer token",
		Long: `Print a bearer token for the coordinator API.

By default the token is requested from the coordinator at PANIC_API_URL with the app
secret in PANIC_APP_SECRET. With --offline it is signed locally with PANIC_AUTH_SIGNING_KEY.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string

			if offline {
				auth, err := server.NewAuthenticator("", v.GetString("auth.signing_key"), v.GetDuration("auth.token_ttl"))
				if err != nil {
					return err
				}
				if token, err = auth.Mint(username); err != nil {
					return err
				}
			} else {
				session, err := opts.newDeviceSession(cmd.Context(), "", username)
				if err != nil {
					return err
				}
				token = session.client.Token()
			}

			_, err := fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "token subject (default \"anonymous\")")
	cmd.Flags().BoolVar(&offline, "offline", false, "sign the token locally instead of asking the coordinator")

	return cmd
}
