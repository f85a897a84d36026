package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/go-units"
	"github.com/meancat/panicstream/config"
	"github.com/meancat/panicstream/liveupload"
	"github.com/meancat/panicstream/liveupload/partupload"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type streamOptions struct {
	apiURL   string
	key      string
	partSize string
	duration time.Duration
	attempts int
}

func newStreamCommand(opts *rootOptions) *cobra.Command {
	streamOpts := &streamOptions{}

	cmd := &cobra.Command{
		Use:   "stream <file>",
		Short: "Upload a file while it is still being written",
		Long: `Tail a growing file and upload it as a multipart upload.

The first interrupt stops tailing: everything already written is uploaded and the upload
is completed. A second interrupt aborts the upload.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), opts, streamOpts, args[0])
		},
	}

	cmd.Flags().StringVar(&streamOpts.apiURL, "api-url", "", "coordinator URL (default $PANIC_API_URL)")
	cmd.Flags().StringVarP(&streamOpts.key, "key", "k", "", "object key hint (default panic_<utc timestamp>.ts)")
	cmd.Flags().StringVar(&streamOpts.partSize, "part-size", "", "part size, e.g. 8MiB (default $PANIC_PART_SIZE or 5MiB)")
	cmd.Flags().DurationVar(&streamOpts.duration, "duration", 0, "stop tailing after this long (default: until interrupted)")
	cmd.Flags().IntVar(&streamOpts.attempts, "attempts", partupload.DefaultConfig().MaxAttemptsPerPart, "upload attempts per part")

	return cmd
}

func runStream(ctx context.Context, opts *rootOptions, streamOpts *streamOptions, path string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	signals := make(chan os.Signal, 2)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	var flagPartSize int
	if streamOpts.partSize != "" {
		size, err := config.ParsePartSize("--part-size", streamOpts.partSize)
		if err != nil {
			return err
		}
		flagPartSize = size
	}

	session, err := opts.newDeviceSession(ctx, streamOpts.apiURL, "")
	if err != nil {
		return err
	}
	logger := session.logger

	partSize := session.config.PartSize
	if flagPartSize > 0 {
		partSize = flagPartSize
	}

	uploaderConfig := partupload.DefaultConfig()
	uploaderConfig.MaxAttemptsPerPart = streamOpts.attempts
	uploader := partupload.New(uploaderConfig, logger)
	defer uploader.CloseIdleConnections()

	streamer := liveupload.NewStreamer(liveupload.Config{
		Path:     path,
		KeyHint:  streamOpts.key,
		PartSize: partSize,
	}, session.client, uploader, logger)

	handle := streamer.Start(ctx)

	var timeout <-chan time.Time
	if streamOpts.duration > 0 {
		timer := time.NewTimer(streamOpts.duration)
		defer timer.Stop()
		timeout = timer.C
	}

	var result liveupload.Result
	group := new(errgroup.Group)

	group.Go(func() error {
		var err error
		result, err = handle.Wait()
		return err
	})

	group.Go(func() error {
		select {
		case <-handle.Done():
			return nil
		case <-timeout:
			logger.Infof("Duration elapsed, uploading the rest of %s", path)
		case <-signals:
			logger.Infof("Stopping, uploading the rest of %s (interrupt again to abort)", path)
		}
		handle.Stop()

		select {
		case <-handle.Done():
		case <-signals:
			logger.Warnf("Aborting upload")
			cancel()
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		return err
	}

	stats := uploader.Stats()
	logger.Printf("Object: %s", result.ObjectKey)
	logger.Printf("Size: %s in %d parts (avg part upload %s)", units.HumanSize(float64(result.Bytes)), len(result.Parts), stats.Average().Round(time.Millisecond))

	return nil
}
