package cli

import (
	"path/filepath"

	"github.com/meancat/panicstream/api"
	"github.com/meancat/panicstream/liveupload/partupload"
	"github.com/spf13/cobra"
)

func newPutCommand(opts *rootOptions) *cobra.Command {
	var apiURL, key string

	cmd := &cobra.Command{
		Use:   "put <file>",
		Short: "Upload a finished file as a single object",
		Long: `Upload a finished file with a single presigned PUT.

Without --key the file is stored as a recording chunk under panic_chunks/<file name>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]

			session, err := opts.newDeviceSession(cmd.Context(), apiURL, "")
			if err != nil {
				return err
			}

			var grant api.PartGrant
			if key != "" {
				grant, err = session.client.PresignObject(cmd.Context(), key)
			} else {
				var url string
				url, err = session.client.PresignedURL(cmd.Context(), filepath.Base(path))
				grant = api.PartGrant{URL: url, Headers: map[string]string{"Content-Type": "video/MP2T"}}
			}
			if err != nil {
				return err
			}

			uploader := partupload.New(partupload.DefaultConfig(), session.logger)
			defer uploader.CloseIdleConnections()

			etag, err := uploader.UploadFile(cmd.Context(), path, grant)
			if err != nil {
				return err
			}

			session.logger.Donef("Uploaded %s (ETag %s)", path, etag)
			return nil
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "coordinator URL (default $PANIC_API_URL)")
	cmd.Flags().StringVarP(&key, "key", "k", "", "object key")

	return cmd
}
