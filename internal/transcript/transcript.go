// Package transcript appends rendered chat lines to JSONL files, one file
// per platform and channel, rotated by age and size.
package transcript

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/john/combinedchat/internal/message"
)

// Line is one transcript record.
type Line struct {
	ReceivedAt time.Time        `json:"received_at"`
	Platform   message.Platform `json:"platform"`
	Channel    string           `json:"channel"`
	ID         string           `json:"id,omitempty"`
	User       string           `json:"user"`
	UserID     string           `json:"user_id,omitempty"`
	Message    string           `json:"message"`
	ReplyTo    string           `json:"reply_to,omitempty"`
}

// fileWriter manages a single JSONL file
type fileWriter struct {
	file         *os.File
	writer       *bufio.Writer
	createdAt    time.Time
	bytesWritten int64
	filename     string
}

// Writer records chat events. Record may be called from any goroutine;
// files are only touched by Start.
type Writer struct {
	outputDir     string
	rotateMinutes int
	rotateBytes   int64
	logger        *slog.Logger
	now           func() time.Time

	events chan message.Event
	files  map[string]*fileWriter // key: "platform_channel"
}

// New creates a transcript writer
func New(outputDir string, rotateMinutes, rotateMegabytes int, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		outputDir:     outputDir,
		rotateMinutes: rotateMinutes,
		rotateBytes:   int64(rotateMegabytes) * 1024 * 1024,
		logger:        logger,
		now:           time.Now,
		events:        make(chan message.Event, 256),
		files:         make(map[string]*fileWriter),
	}
}

// Record queues a chat event. Non-chat events are ignored, and events are
// dropped with a warning if the writer falls behind.
func (w *Writer) Record(ev message.Event) {
	if ev.Kind != message.KindChat || ev.Platform == "" || ev.Channel == "" {
		return
	}
	select {
	case w.events <- ev:
	default:
		w.logger.Warn("transcript: queue full, dropping line",
			slog.String("platform", string(ev.Platform)),
			slog.String("channel", ev.Channel))
	}
}

// Start writes queued events until ctx ends, then flushes and closes every file
func (w *Writer) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.outputDir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case ev := <-w.events:
			if err := w.write(ev); err != nil {
				w.logger.Warn("transcript: write failed", slog.Any("err", err))
			}

		case <-ticker.C:
			w.flushAll()
			w.checkRotation()

		case <-ctx.Done():
			w.drain()
			w.closeAll()
			return ctx.Err()
		}
	}
}

func (w *Writer) drain() {
	for {
		select {
		case ev := <-w.events:
			if err := w.write(ev); err != nil {
				w.logger.Warn("transcript: write failed", slog.Any("err", err))
			}
		default:
			return
		}
	}
}

func (w *Writer) write(ev message.Event) error {
	key := fmt.Sprintf("%s_%s", ev.Platform, ev.Channel)
	fw := w.files[key]
	if fw == nil {
		var err error
		fw, err = w.create(key)
		if err != nil {
			return fmt.Errorf("create file writer: %w", err)
		}
		w.files[key] = fw
	}

	line := Line{
		ReceivedAt: w.now().UTC(),
		Platform:   ev.Platform,
		Channel:    ev.Channel,
		ID:         ev.ID,
		User:       ev.User,
		UserID:     ev.UserID,
		Message:    ev.Message,
	}
	if ev.Reply != nil {
		line.ReplyTo = ev.Reply.MessageID
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}
	data = append(data, '\n')
	n, err := fw.writer.Write(data)
	fw.bytesWritten += int64(n)
	if err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	if w.rotateBytes > 0 && fw.bytesWritten >= w.rotateBytes {
		w.logger.Info("transcript: rotating file (size limit)", slog.String("file", fw.filename))
		w.rotate(key, fw)
	}
	return nil
}

func (w *Writer) create(key string) (*fileWriter, error) {
	now := w.now()
	filename := fmt.Sprintf("%s_%s.jsonl", key, now.UTC().Format("20060102_150405"))
	path := filepath.Join(w.outputDir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	w.logger.Debug("transcript: opened file", slog.String("file", filename))
	return &fileWriter{
		file:      file,
		writer:    bufio.NewWriter(file),
		createdAt: now,
		filename:  filename,
	}, nil
}

// checkRotation rotates files past the age limit
func (w *Writer) checkRotation() {
	if w.rotateMinutes <= 0 {
		return
	}
	limit := time.Duration(w.rotateMinutes) * time.Minute
	for key, fw := range w.files {
		if w.now().Sub(fw.createdAt) >= limit {
			w.logger.Info("transcript: rotating file (time limit)", slog.String("file", fw.filename))
			w.rotate(key, fw)
		}
	}
}

// rotate closes the file; the next line for key opens a new one.
func (w *Writer) rotate(key string, fw *fileWriter) {
	w.close(fw)
	delete(w.files, key)
}

func (w *Writer) flushAll() {
	for _, fw := range w.files {
		if err := fw.writer.Flush(); err != nil {
			w.logger.Warn("transcript: flush failed", slog.String("file", fw.filename), slog.Any("err", err))
		}
	}
}

func (w *Writer) closeAll() {
	for key, fw := range w.files {
		w.close(fw)
		delete(w.files, key)
	}
}

func (w *Writer) close(fw *fileWriter) {
	if err := fw.writer.Flush(); err != nil {
		w.logger.Warn("transcript: flush failed", slog.String("file", fw.filename), slog.Any("err", err))
	}
	if err := fw.file.Close(); err != nil {
		w.logger.Warn("transcript: close failed", slog.String("file", fw.filename), slog.Any("err", err))
	}
}
