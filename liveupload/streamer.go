// Package liveupload uploads a file to object storage while another process is still
// appending to it. Newly appended bytes are sliced into parts and pushed through a
// multipart upload brokered by the presigning coordinator; the bytes themselves go
// straight to the object store.
package liveupload

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/meancat/panicstream/api"
	"github.com/meancat/panicstream/liveupload/partupload"
)

// DefaultPollInterval is the pause after a read found no new bytes.
const DefaultPollInterval = 30 * time.Millisecond

const defaultAbortTimeout = 30 * time.Second

var (
	// ErrEmptyRecording is returned when the source produced no bytes before the stop request.
	// The multipart upload is aborted instead of completed because there is nothing to assemble.
	ErrEmptyRecording = errors.New("recording is empty, nothing was uploaded")
	// ErrAlreadyRun is returned when Run is called on a Streamer that already ran once.
	ErrAlreadyRun = errors.New("streamer has already run")
)

// PresignAPI is the part of the coordinator client the streamer drives.
type PresignAPI interface {
	StartMultipart(ctx context.Context, keyHint string) (api.StartMultipartResponse, error)
	PresignPart(ctx context.Context, uploadID string, partNumber int, objectKey string) (api.PartGrant, error)
	CompleteMultipart(ctx context.Context, uploadID, objectKey string, parts []api.CompletedPart) error
	AbortMultipart(ctx context.Context, uploadID, objectKey string) error
}

// PartUploader PUTs part bytes to the object store.
type PartUploader interface {
	UploadPart(ctx context.Context, part partupload.Part, grantFn partupload.GrantFunc) (string, error)
}

// Config describes one streaming run.
type Config struct {
	// Path is the growing file to upload.
	Path string
	// KeyHint is sent to the coordinator when the multipart upload is started.
	KeyHint string
	// PartSize is the size of every part but the last. Default: DefaultPartSize
	PartSize int
	// ReadStep caps a single read. Default: DefaultReadStep
	ReadStep int
	// PollInterval is the pause when no new bytes are available. Default: DefaultPollInterval
	PollInterval time.Duration
	// AbortTimeout bounds the best-effort abort call. Default: 30 seconds
	AbortTimeout time.Duration
}

// DefaultKeyHint names a recording after its start time.
func DefaultKeyHint(t time.Time) string {
	return fmt.Sprintf("panic_%s.ts", t.UTC().Format("20060102_150405"))
}

// Result summarizes a finished run.
type Result struct {
	UploadID  string
	ObjectKey string
	Parts     []api.CompletedPart
	Bytes     int64
	State     State
}

// Streamer runs one live multipart upload. It is single-use.
type Streamer struct {
	config   Config
	api      PresignAPI
	uploader PartUploader
	logger   log.Logger

	state atomic.Int32
	ran   atomic.Bool
}

// NewStreamer ...
func NewStreamer(config Config, presignAPI PresignAPI, uploader PartUploader, logger log.Logger) *Streamer {
	if config.PartSize <= 0 {
		config.PartSize = DefaultPartSize
	}
	if config.ReadStep <= 0 {
		config.ReadStep = DefaultReadStep
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.AbortTimeout <= 0 {
		config.AbortTimeout = defaultAbortTimeout
	}
	if config.KeyHint == "" {
		config.KeyHint = DefaultKeyHint(time.Now())
	}

	return &Streamer{
		config:   config,
		api:      presignAPI,
		uploader: uploader,
		logger:   logger,
	}
}

// State returns the current state of the run.
func (s *Streamer) State() State {
	return State(s.state.Load())
}

// setState moves the run to state. A terminal state is final.
func (s *Streamer) setState(state State) {
	current := s.State()
	if current.Terminal() {
		s.logger.Warnf("Ignoring streamer state change %s -> %s", current, state)
		return
	}
	s.logger.Debugf("Streamer state: %s -> %s", current, state)
	s.state.Store(int32(state))
}

// Run tails the file and uploads it until stop is closed and everything written before the
// stop has been uploaded. Cancelling ctx aborts the upload instead.
// Run blocks; all network calls are made sequentially from the calling goroutine.
func (s *Streamer) Run(ctx context.Context, stop <-chan struct{}) (Result, error) {
	if !s.ran.CompareAndSwap(false, true) {
		return Result{State: s.State()}, ErrAlreadyRun
	}

	s.setState(StateStarting)

	reader, err := OpenGrowingFile(s.config.Path, s.config.ReadStep)
	if err != nil {
		s.setState(StateFailed)
		return Result{State: StateFailed}, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			s.logger.Warnf("Failed to close %s: %s", s.config.Path, err)
		}
	}()

	if err := ctx.Err(); err != nil {
		s.setState(StateFailed)
		return Result{State: StateFailed}, err
	}

	start, err := s.api.StartMultipart(ctx, s.config.KeyHint)
	if err != nil {
		s.setState(StateFailed)
		return Result{State: StateFailed}, fmt.Errorf("start multipart upload: %w", err)
	}

	session := newUploadSession(start.UploadID, start.ObjectKey)
	s.logger.Infof("Started multipart upload %s (key: %s)", session.UploadID, session.ObjectKey)
	s.setState(StateStreaming)

	assembler := NewPartAssembler(s.config.PartSize)
	s.logger.Debugf("Tailing %s in %s parts", s.config.Path, units.BytesSize(float64(assembler.PartSize())))

	if err := s.stream(ctx, stop, reader, assembler, session); err != nil {
		return s.abort(session, reader, err)
	}

	s.setState(StateFinalizing)

	if final := assembler.TakeFinalPart(); final != nil {
		if err := s.uploadPart(ctx, session, final); err != nil {
			return s.abort(session, reader, err)
		}
	}

	// Start already ran, and a complete with zero parts is rejected by S3, so the session is
	// released with an abort instead.
	if len(session.CompletedParts) == 0 {
		return s.abort(session, reader, ErrEmptyRecording)
	}

	if err := ctx.Err(); err != nil {
		return s.abort(session, reader, err)
	}

	parts := session.Parts()
	if err := s.api.CompleteMultipart(ctx, session.UploadID, session.ObjectKey, parts); err != nil {
		return s.abort(session, reader, fmt.Errorf("complete multipart upload: %w", err))
	}

	s.setState(StateCompleted)
	s.logger.Donef("Uploaded %s in %d parts to %s", units.HumanSize(float64(reader.Cursor())), len(parts), session.ObjectKey)

	return s.result(session, reader, StateCompleted), nil
}

func (s *Streamer) stream(ctx context.Context, stop <-chan struct{}, reader *GrowingFileReader, assembler *PartAssembler, session *UploadSession) error {
	stopAt := int64(-1)

	for {
		if stopAt < 0 && isClosed(stop) {
			size, err := reader.Size()
			if err != nil {
				return err
			}
			stopAt = size
			stop = nil
			s.logger.Debugf("Stop requested at %d bytes, %d bytes left to read", stopAt, stopAt-reader.Cursor())
		}

		if stopAt >= 0 && reader.Cursor() >= stopAt {
			return nil
		}

		if err := ctx.Err(); err != nil {
			return err
		}

		data, err := reader.ReadNewBytesUpTo(stopAt)
		if err != nil {
			return err
		}

		if len(data) == 0 {
			timer := time.NewTimer(s.config.PollInterval)
			select {
			case <-ctx.Done():
			case <-stop:
			case <-timer.C:
			}
			timer.Stop()
			continue
		}

		assembler.Feed(data)

		for assembler.HasFullPart() {
			if err := s.uploadPart(ctx, session, assembler.TakeFullPart()); err != nil {
				return err
			}
		}
	}
}

func (s *Streamer) uploadPart(ctx context.Context, session *UploadSession, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	partNumber := session.NextPartNumber
	grantFn := func(ctx context.Context, n int) (api.PartGrant, error) {
		return s.api.PresignPart(ctx, session.UploadID, n, session.ObjectKey)
	}

	etag, err := s.uploader.UploadPart(ctx, partupload.Part{Number: partNumber, Data: data}, grantFn)
	if err != nil {
		return err
	}

	session.recordPart(etag)
	s.logger.Printf("Part %d uploaded (%s)", partNumber, units.HumanSize(float64(len(data))))

	return nil
}

// abort cancels the multipart upload on a best-effort basis and reports cause.
// It uses its own context so that it still runs after the run context was cancelled.
func (s *Streamer) abort(session *UploadSession, reader *GrowingFileReader, cause error) (Result, error) {
	s.setState(StateAborting)

	if errors.Is(cause, ErrEmptyRecording) {
		s.logger.Warnf("Nothing was recorded, aborting multipart upload %s", session.UploadID)
	} else {
		s.logger.Errorf("Streaming upload failed: %s", cause)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.AbortTimeout)
	defer cancel()

	if err := s.api.AbortMultipart(ctx, session.UploadID, session.ObjectKey); err != nil {
		s.logger.Warnf("Failed to abort multipart upload %s: %s", session.UploadID, err)
	}

	s.setState(StateAborted)

	return s.result(session, reader, StateAborted), cause
}

func (s *Streamer) result(session *UploadSession, reader *GrowingFileReader, state State) Result {
	var uploaded int64
	if state == StateCompleted {
		uploaded = reader.Cursor()
	}
	return Result{
		UploadID:  session.UploadID,
		ObjectKey: session.ObjectKey,
		Parts:     session.Parts(),
		Bytes:     uploaded,
		State:     state,
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Handle is an awaitable, stoppable Streamer run.
type Handle struct {
	streamer *Streamer
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	result   Result
	err      error
}

// Start runs the streamer on its own goroutine.
func (s *Streamer) Start(ctx context.Context) *Handle {
	h := &Handle{
		streamer: s,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}

	go func() {
		defer close(h.done)
		h.result, h.err = s.Run(ctx, h.stop)
	}()

	return h
}

// Stop requests a graceful stop: bytes already written are still uploaded before completion.
// It is safe to call more than once.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Done is closed once the run reached a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finished and returns its outcome.
func (h *Handle) Wait() (Result, error) {
	<-h.done
	return h.result, h.err
}

// StopAndWait ...
func (h *Handle) StopAndWait() (Result, error) {
	h.Stop()
	return h.Wait()
}

// State returns the current state of the run.
func (h *Handle) State() State {
	return h.streamer.State()
}
