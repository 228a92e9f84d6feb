package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"chatrelay/internal/config"
)

// StartFileTail follows JSONL files of envelopes, such as a chat recorder's
// output, reopening them after truncation.
func StartFileTail(ctx context.Context, cfg *config.Manager, out chan<- Envelope, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, out, logger)
	}
}

func tailFile(ctx context.Context, path string, startAtEnd bool, out chan<- Envelope, logger *slog.Logger) {
	var file *os.File
	var offset int64
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
			}
		}

		reader := bufio.NewReader(file)
		var partial string
		for {
			chunk, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					partial += chunk
					if !BackoffSleep(ctx, 200*time.Millisecond) {
						_ = file.Close()
						return
					}
					info, statErr := os.Stat(path)
					if statErr == nil && info.Size() < offset {
						_ = file.Close()
						file = nil
						startAtEnd = false
						break
					}
					continue
				}
				if logger != nil {
					logger.Warn("tail read error", "path", path, "err", err)
				}
				_ = file.Close()
				file = nil
				break
			}
			line := partial + chunk
			partial = ""
			offset += int64(len(line))
			if isBlankLine(line) {
				continue
			}
			env, err := DecodeEnvelope([]byte(line))
			if err != nil {
				if logger != nil {
					logger.Warn("tail envelope rejected", "path", path, "err", err)
				}
				continue
			}
			env.Source = "file_tail"
			SendNonBlocking(ctx, out, env, logger)
		}
	}
}
