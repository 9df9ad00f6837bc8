// Package upload implements chunked, resumable, content-addressed file
// uploads: whole-file fingerprinting on a worker goroutine, resume
// discovery against the server's acknowledged-chunk set, and bounded
// parallel per-chunk upload with per-chunk retry, all admitted through the
// shared concurrency gate.
package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sao-lang/lania-tools/internal/cancelreg"
	"github.com/sao-lang/lania-tools/internal/limiter"
	"github.com/sao-lang/lania-tools/request/core"
)

// DefaultChunkSize is 5 MiB.
const DefaultChunkSize int64 = 5 << 20

// defaultParallelism bounds concurrent chunk sends per file, so one upload
// cannot monopolise the global admission slots.
const defaultParallelism = 3

// Options configures one file upload.
type Options struct {
	ChunkSize int64

	// EnableResume fetches the acknowledged-chunk set for this fingerprint
	// from ResumeQueryURL before planning.
	EnableResume   bool
	ResumeQueryURL string

	// ComputeChunkHash adds a per-chunk digest to the multipart form.
	ComputeChunkHash bool

	Parallelism int
	RetryTimes  int
	RetryDelay  time.Duration

	// CancelID names the single cancel handle shared by every chunk of
	// this file. Generated when empty.
	CancelID string

	// OnChunkProgress receives streamed byte progress per chunk.
	OnChunkProgress func(index int, sent, total int64)
	// OnOverallProgress receives the finished-chunk count, incremented
	// only after the server acknowledges a chunk.
	OnOverallProgress func(finished, total int)
}

// Result identifies a completed upload. Merge notification is left to the
// caller.
type Result struct {
	FileMD5     string
	TotalChunks int
}

// resumeReply is the resume-discovery payload.
type resumeReply struct {
	Uploaded []int `json:"uploaded"`
}

// Coordinator runs uploads over the shared transport and admission gate.
type Coordinator struct {
	transport core.Transport
	gate      *limiter.Limiter
	registry  *cancelreg.Registry
	logger    *zap.Logger
}

// NewCoordinator creates an upload coordinator.
func NewCoordinator(transport core.Transport, gate *limiter.Limiter, registry *cancelreg.Registry, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		transport: transport,
		gate:      gate,
		registry:  registry,
		logger:    logger,
	}
}

// Upload fingerprints the file, discovers already-acknowledged chunks,
// and uploads the remainder in parallel. A chunk that fails terminally
// fails the whole upload and aborts its siblings; chunks the server
// already acknowledged stay acknowledged, so the next session resumes.
func (c *Coordinator) Upload(ctx context.Context, url string, file File, opts Options) (*Result, error) {
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	totalChunks := int((file.Size() + chunkSize - 1) / chunkSize)
	if totalChunks == 0 {
		totalChunks = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cancelID := opts.CancelID
	if cancelID == "" {
		cancelID = "upload-" + uuid.NewString()
	}
	c.registry.Set(cancelID, cancel)
	defer c.registry.Delete(cancelID)

	fileMD5, err := Fingerprint(ctx, file, chunkSize)
	if err != nil {
		return nil, fmt.Errorf("fingerprint file: %w", err)
	}

	uploaded, err := c.discoverUploaded(ctx, fileMD5, opts)
	if err != nil {
		return nil, err
	}

	c.logger.Info("upload planned",
		zap.String("file", file.Name()),
		zap.String("file_md5", fileMD5),
		zap.Int("total_chunks", totalChunks),
		zap.Int("already_uploaded", len(uploaded)),
	)

	var finished atomic.Int64
	finished.Store(int64(len(uploaded)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for index := 0; index < totalChunks; index++ {
		if uploaded[index] {
			continue
		}
		index := index
		g.Go(func() error {
			if err := c.uploadChunk(gctx, url, file, fileMD5, index, totalChunks, chunkSize, opts); err != nil {
				return err
			}
			done := finished.Add(1)
			if opts.OnOverallProgress != nil {
				opts.OnOverallProgress(int(done), totalChunks)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &Result{FileMD5: fileMD5, TotalChunks: totalChunks}, nil
}

// discoverUploaded fetches the server's acknowledged-chunk set for the
// fingerprint. Resume disabled or unconfigured yields an empty set.
func (c *Coordinator) discoverUploaded(ctx context.Context, fileMD5 string, opts Options) (map[int]bool, error) {
	uploaded := make(map[int]bool)
	if !opts.EnableResume || opts.ResumeQueryURL == "" {
		return uploaded, nil
	}

	req := core.NewRequest(core.MethodGet, opts.ResumeQueryURL)
	req.Params = map[string]string{"fileMd5": fileMD5}

	var resp *core.Response
	err := c.gate.Do(ctx, func() error {
		var sendErr error
		resp, sendErr = c.transport.Send(ctx, req)
		return sendErr
	})
	if err != nil {
		return nil, fmt.Errorf("resume discovery: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("resume discovery: unexpected status %d", resp.StatusCode)
	}

	var reply resumeReply
	if err := resp.Decode(&reply); err != nil {
		return nil, fmt.Errorf("resume discovery: decode reply: %w", err)
	}
	for _, index := range reply.Uploaded {
		uploaded[index] = true
	}
	return uploaded, nil
}

// uploadChunk slices and sends one chunk, retrying up to RetryTimes with
// RetryDelay spacing. Every attempt passes through the admission gate.
func (c *Coordinator) uploadChunk(ctx context.Context, url string, file File, fileMD5 string, index, totalChunks int, chunkSize int64, opts Options) error {
	data, err := readChunk(file, index, chunkSize)
	if err != nil {
		return fmt.Errorf("read chunk %d: %w", index, err)
	}

	var lastErr error
	for attempt := 0; attempt <= opts.RetryTimes; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.gate.Do(ctx, func() error {
			return c.sendChunk(ctx, url, file.Name(), data, fileMD5, index, totalChunks, opts)
		})
		if lastErr == nil {
			return nil
		}
		if core.IsCancelled(lastErr) || ctx.Err() != nil {
			return lastErr
		}

		c.logger.Warn("chunk upload attempt failed",
			zap.Int("chunk", index),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)

		if attempt < opts.RetryTimes && opts.RetryDelay > 0 {
			timer := time.NewTimer(opts.RetryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("chunk %d failed after %d attempts: %w", index, opts.RetryTimes+1, lastErr)
}

// sendChunk submits one multipart form attempt.
func (c *Coordinator) sendChunk(ctx context.Context, url, fileName string, data []byte, fileMD5 string, index, totalChunks int, opts Options) error {
	var form bytes.Buffer
	w := multipart.NewWriter(&form)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	fields := map[string]string{
		"chunkIndex":  strconv.Itoa(index),
		"totalChunks": strconv.Itoa(totalChunks),
		"fileMd5":     fileMD5,
	}
	if opts.ComputeChunkHash {
		fields["chunkMd5"] = chunkDigest(data)
	}
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req := core.NewRequest(core.MethodPost, url)
	req.Body = bytes.NewReader(form.Bytes())
	req.ResponseType = core.ResponseBinary
	req.SetHeader("Content-Type", w.FormDataContentType())
	if opts.OnChunkProgress != nil {
		total := int64(len(data))
		req.UploadProgress = func(sent, _ int64) {
			opts.OnChunkProgress(index, sent, total)
		}
	}

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("chunk %d rejected with status %d", index, resp.StatusCode)
	}
	return nil
}

// readChunk slices the file for one chunk index.
func readChunk(file File, index int, chunkSize int64) ([]byte, error) {
	off := int64(index) * chunkSize
	size := file.Size()
	n := chunkSize
	if off+n > size {
		n = size - off
	}
	if n <= 0 {
		return nil, nil
	}
	buf := make([]byte, n)
	read, err := file.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:read], nil
}
