package upload

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// File is the upload source: random-access reads plus size and a name for
// the multipart part. Token storage of the original file handle stays with
// the caller.
type File interface {
	io.ReaderAt
	Size() int64
	Name() string
}

// osFile adapts an *os.File to the File interface.
type osFile struct {
	f    *os.File
	size int64
	name string
}

func (o *osFile) ReadAt(p []byte, off int64) (int, error) { return o.f.ReadAt(p, off) }
func (o *osFile) Size() int64                             { return o.size }
func (o *osFile) Name() string                            { return o.name }

// Open opens a file on disk as an upload source. The caller owns closing
// via the returned closer.
func Open(path string) (File, io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return &osFile{f: f, size: info.Size(), name: info.Name()}, f, nil
}

// BytesFile wraps an in-memory payload as an upload source.
type BytesFile struct {
	Data     []byte
	FileName string
}

func (b *BytesFile) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b.Data)) {
		return 0, io.EOF
	}
	n := copy(p, b.Data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (b *BytesFile) Size() int64  { return int64(len(b.Data)) }
func (b *BytesFile) Name() string { return b.FileName }

type hashResult struct {
	sum string
	err error
}

// Fingerprint computes the whole-file MD5 by streaming chunkSize slices
// through a running hash on a worker goroutine, so the caller's scheduling
// thread never reads the file synchronously. The worker posts exactly one
// result or error and exits; cancelling ctx abandons it.
func Fingerprint(ctx context.Context, file File, chunkSize int64) (string, error) {
	results := make(chan hashResult, 1)

	go func() {
		h := md5.New()
		buf := make([]byte, chunkSize)
		size := file.Size()

		for off := int64(0); off < size; off += chunkSize {
			if err := ctx.Err(); err != nil {
				results <- hashResult{err: err}
				return
			}
			n := chunkSize
			if off+n > size {
				n = size - off
			}
			read, err := file.ReadAt(buf[:n], off)
			if err != nil && err != io.EOF {
				results <- hashResult{err: fmt.Errorf("hash file at offset %d: %w", off, err)}
				return
			}
			h.Write(buf[:read])
		}
		results <- hashResult{sum: hex.EncodeToString(h.Sum(nil))}
	}()

	select {
	case r := <-results:
		return r.sum, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// chunkDigest computes the MD5 of a single in-memory chunk.
func chunkDigest(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
