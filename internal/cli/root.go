// Package cli wires the panicstream commands.
package cli

import (
	"context"
	"fmt"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/meancat/panicstream/config"
	"github.com/meancat/panicstream/presign"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	debug bool
}

// NewRootCommand ...
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "panicstream",
		Short:         "Upload recordings to object storage while they are still being written",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "enable debug logging")

	cmd.AddCommand(
		newServeCommand(opts),
		newTokenCommand(opts),
		newStreamCommand(opts),
		newPutCommand(opts),
		newFetchCommand(opts),
	)

	return cmd
}

func (opts *rootOptions) logger(debug bool) log.Logger {
	logger := log.NewLogger()
	logger.EnableDebugLog(opts.debug || debug)
	return logger
}

// deviceSession is what every device-side command starts from: the environment
// configuration, a logger and an authenticated coordinator client.
type deviceSession struct {
	config config.Client
	logger log.Logger
	client *presign.Client
}

// newDeviceSession loads the device configuration. Non-empty apiURL and username override
// the environment.
func (opts *rootOptions) newDeviceSession(ctx context.Context, apiURL, username string) (*deviceSession, error) {
	cfg, err := config.LoadClient(env.NewRepository())
	if err != nil {
		return nil, err
	}
	if apiURL != "" {
		cfg.APIURL = apiURL
	}
	if username != "" {
		cfg.Username = username
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := opts.logger(cfg.Debug)
	client := presign.NewClient(cfg.APIURL, "", logger)

	token, err := client.FetchToken(ctx, cfg.AppSecret, cfg.Username)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	return &deviceSession{
		config: cfg,
		logger: logger,
		client: client.WithToken(token),
	}, nil
}
