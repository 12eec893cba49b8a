package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/seqgrab/seqgrab/internal/rendition"
)

const copyBufSize = 64 << 10

// downloadDirect streams url into destPath through a .part file, resuming
// a previous partial with a Range request when the server honors it.
func (e *Executor) downloadDirect(ctx context.Context, url string, desc rendition.Descriptor, destPath string) Result {
	partPath := destPath + ".part"

	var offset int64
	if fi, err := os.Stat(partPath); err == nil {
		offset = fi.Size()
	}

	req, err := e.newRequest(ctx, http.MethodGet, url)
	if err != nil {
		return failure(desc, "invalid stream URL: %v", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := e.httpClient().Do(req)
	if err != nil {
		return failure(desc, "requesting stream: %v", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// Server ignored the range; start over.
		offset = 0
	case http.StatusPartialContent:
	default:
		return failure(desc, "stream request returned %d", resp.StatusCode)
	}

	written, err := writePart(partPath, offset, resp.Body)
	if err != nil {
		return failure(desc, "writing stream: %v", err)
	}
	total := offset + written
	if total == 0 {
		os.Remove(partPath)
		return failure(desc, "stream was empty")
	}

	if err := os.Rename(partPath, destPath); err != nil {
		return failure(desc, "finalizing file: %v", err)
	}
	return Result{Success: true, Path: destPath, Bytes: total}
}

func writePart(partPath string, offset int64, src io.Reader) (int64, error) {
	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return 0, err
	}

	buf := make([]byte, copyBufSize)
	written, err := io.CopyBuffer(f, src, buf)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		// Keep the partial for a later resume.
		return written, fmt.Errorf("after %d bytes: %w", written, err)
	}
	return written, nil
}
