package cli

import (
	"path"

	"github.com/spf13/cobra"
)

func newFetchCommand(opts *rootOptions) *cobra.Command {
	var apiURL, output string

	cmd := &cobra.Command{
		Use:   "fetch <key>",
		Short: "Download a finished recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if output == "" {
				output = path.Base(key)
			}

			session, err := opts.newDeviceSession(cmd.Context(), apiURL, "")
			if err != nil {
				return err
			}

			if err := session.client.Download(cmd.Context(), key, output); err != nil {
				return err
			}

			session.logger.Donef("Downloaded %s to %s", key, output)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "coordinator URL (default $PANIC_API_URL)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (default: the key's base name)")

	return cmd
}
