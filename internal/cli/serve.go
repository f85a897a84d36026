package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/meancat/panicstream/config"
	"github.com/meancat/panicstream/objectstore"
	"github.com/meancat/panicstream/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	var configPath string

	v := config.NewViper()

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the presigning coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServer(v, configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, opts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "configuration file path (e.g. /etc/panicstream/server.yml)")
	cmd.Flags().String("listen", ":8080", "address to listen on")
	_ = v.BindPFlag("listen", cmd.Flags().Lookup("listen"))

	return cmd
}

func serve(ctx context.Context, cfg config.Server, opts *rootOptions) error {
	logger := opts.logger(cfg.Debug)

	store, err := objectstore.NewS3Store(ctx, objectstore.Options{
		Region:          cfg.S3.Region,
		Endpoint:        cfg.S3.Endpoint,
		Bucket:          cfg.S3.Bucket,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
		PathStyle:       cfg.S3.PathStyle,
	}, logger)
	if err != nil {
		return err
	}

	auth, err := server.NewAuthenticator(cfg.Auth.AppKey, cfg.Auth.SigningKey, cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	uploads, err := server.NewUploadService(store, server.ServiceConfig{
		PartURLExpiry:   cfg.Upload.PartURLExpiry,
		ObjectURLExpiry: cfg.Upload.ObjectURLExpiry,
		AllowedKeys:     cfg.Upload.AllowedKeys,
	}, logger)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(auth, uploads, logger),
		ReadHeaderTimeout: 20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Infof("Coordinator listening on %s (bucket: %s)", cfg.Listen, cfg.S3.Bucket)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})

	group.Go(func() error {
		<-ctx.Done()

		logger.Infof("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return httpServer.Shutdown(shutdownCtx)
	})

	return group.Wait()
}
