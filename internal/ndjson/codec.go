package ndjson

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// MaxLineSize is the largest single NDJSON line accepted in either direction (64 MiB).
// Agent messages carrying whole files or diffs routinely exceed a few hundred KiB.
const MaxLineSize = 64 * 1024 * 1024

// initialBufferSize is the scanner's starting buffer; it grows up to MaxLineSize.
const initialBufferSize = 64 * 1024

// Encoder writes NDJSON records to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes a record as a single JSON line
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if len(data) > MaxLineSize {
		e.logger.Error("record exceeds size limit",
			"size", len(data),
			"limit", MaxLineSize,
			"overflow", len(data)-MaxLineSize)
		return fmt.Errorf("record size %d exceeds limit %d", len(data), MaxLineSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush every record so a crash never leaves a half-written log line behind
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder splits an input stream into NDJSON lines without interpreting them.
// Interpretation is left to the caller so a malformed line never stops the stream.
type Decoder struct {
	reader  io.Reader
	scanner *bufio.Scanner
	logger  *slog.Logger
	limit   int
	lineNum int
}

// NewDecoder creates a new NDJSON line decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	return NewDecoderWithLimit(r, logger, MaxLineSize)
}

// NewDecoderWithLimit creates a decoder that rejects lines longer than limit bytes
func NewDecoderWithLimit(r io.Reader, logger *slog.Logger, limit int) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(initialBufferSize, limit)), limit)

	return &Decoder{
		reader:  r,
		scanner: scanner,
		logger:  logger,
		limit:   limit,
	}
}

// Next returns the next non-blank line with surrounding whitespace trimmed.
// It returns io.EOF once the stream is exhausted. The returned slice is only
// valid until the following call to Next.
func (d *Decoder) Next() ([]byte, error) {
	for d.scanner.Scan() {
		d.lineNum++
		data := bytes.TrimSpace(d.scanner.Bytes())
		if len(data) == 0 {
			continue
		}
		return data, nil
	}

	if err := d.scanner.Err(); err != nil {
		d.logger.Error("failed to read line",
			"line", d.lineNum+1,
			"limit", d.limit,
			"error", err)
		return nil, fmt.Errorf("scanner error at line %d: %w", d.lineNum+1, err)
	}
	return nil, io.EOF
}

// Line reports the 1-based number of the line most recently returned by Next.
func (d *Decoder) Line() int {
	return d.lineNum
}

// Discard consumes the rest of the underlying stream. Callers use it after a
// read error so the producer on the other end of a pipe never blocks.
func (d *Decoder) Discard() (int64, error) {
	return io.Copy(io.Discard, d.reader)
}

// Preview returns at most n bytes of data for log output.
func Preview(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n])
}
