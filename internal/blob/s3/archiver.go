package s3blob

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
)

// multipartThreshold is the local file size above which uploads switch to
// multipart.
const multipartThreshold int64 = 64 * 1024 * 1024

// Archiver uploads produced pipeline artifacts (backtests, dashboards, the
// reconciliation event log) for off-box retention. Keys are partitioned by
// run date: <prefix>/<YYYY-MM-DD>/<filename>.
type Archiver struct {
	writer *Writer
	prefix string
	logger *slog.Logger
}

// NewArchiver builds an archiver uploading under the given key prefix.
func NewArchiver(writer *Writer, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archive")),
	}
}

// ArchiveFiles uploads each named file and returns the number uploaded.
// Missing files are skipped with a warning so a partial pipeline run still
// archives what it produced; upload failures abort.
func (a *Archiver) ArchiveFiles(ctx context.Context, runDate time.Time, paths []string) (int, error) {
	day := runDate.UTC().Format("2006-01-02")

	uploaded := 0
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			a.logger.Warn("artifact missing, skipping", slog.String("path", p))
			continue
		}

		f, err := os.Open(p)
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: open artifact %s: %w", p, err)
		}

		key := path.Join(a.prefix, day, filepath.Base(p))
		if info.Size() >= multipartThreshold {
			err = a.writer.PutMultipart(ctx, key, f, minPartSize)
		} else {
			err = a.writer.Put(ctx, key, f, "text/csv")
		}
		f.Close()
		if err != nil {
			return uploaded, err
		}

		uploaded++
		a.logger.Info("artifact archived",
			slog.String("key", key),
			slog.Int64("bytes", info.Size()),
		)
	}
	return uploaded, nil
}
