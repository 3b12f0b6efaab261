package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/ztransfer/ztransfer/internal/blob"
	"github.com/ztransfer/ztransfer/internal/common"
)

// ChecksumStreamer copies an incoming byte stream to a blob writer while
// hashing and counting. It never holds more than one chunk buffer in memory
// regardless of stream length.
type ChecksumStreamer struct {
	// MaxBytes is the size ceiling; crossing it aborts the write.
	MaxBytes int64
	// ChunkSize is the fixed buffer size. Zero means 4 MiB.
	ChunkSize int
}

const defaultChunkSize = 4 << 20

// Stream copies src into dst chunk by chunk. On success the writer is
// committed and the byte count plus hex SHA-256 digest are returned. On any
// failure (size ceiling, read error, write error, context cancellation)
// the writer is aborted so no partial object ever looks complete. A failed
// abort is joined to the primary error; the sweeper reclaims such orphans.
func (s *ChecksumStreamer) Stream(ctx context.Context, src io.Reader, dst blob.Writer) (int64, string, error) {
	chunkSize := s.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	hasher := sha256.New()
	buf := make([]byte, chunkSize)
	var total int64

	for {
		if err := ctx.Err(); err != nil {
			return total, "", s.abort(ctx, dst, err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			total += int64(n)
			if s.MaxBytes > 0 && total > s.MaxBytes {
				return total, "", s.abort(ctx, dst, common.ErrSizeExceeded)
			}
			if _, err := dst.Write(buf[:n]); err != nil {
				return total, "", s.abort(ctx, dst, fmt.Errorf("%w: %v", common.ErrStorageIO, err))
			}
			hasher.Write(buf[:n])
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return total, "", s.abort(ctx, dst, fmt.Errorf("read: %w", readErr))
		}
	}

	if err := dst.Commit(ctx); err != nil {
		return total, "", fmt.Errorf("%w: finalize: %v", common.ErrStorageIO, err)
	}

	return total, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *ChecksumStreamer) abort(ctx context.Context, dst blob.Writer, cause error) error {
	if abortErr := dst.Abort(ctx); abortErr != nil {
		return errors.Join(cause, fmt.Errorf("cleanup: %w", abortErr))
	}
	return cause
}
