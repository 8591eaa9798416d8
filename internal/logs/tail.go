package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const maxLineBytes = 1024 * 1024

// Options controls Tail and Follow.
type Options struct {
	// Lines is how many trailing lines Tail returns. Zero skips to the end.
	Lines int
	// Match keeps only lines containing the substring.
	Match string
}

// Chunk is a batch of lines and the offset to resume from.
type Chunk struct {
	Lines  []string
	Offset int64
}

// Tail returns the last opts.Lines matching lines of path. A missing file
// yields an empty chunk.
func Tail(path string, opts Options) (Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Chunk{}, nil
		}
		return Chunk{}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Chunk{}, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return Chunk{}, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Lines <= 0 {
		return Chunk{Offset: info.Size()}, nil
	}

	ring := make([]string, opts.Lines)
	count, idx := 0, 0
	offset, err := scanLines(file, func(line string) {
		if !matches(line, opts.Match) {
			return
		}
		ring[idx] = line
		idx = (idx + 1) % opts.Lines
		if count < opts.Lines {
			count++
		}
	})
	if err != nil {
		return Chunk{}, err
	}

	lines := make([]string, count)
	if count == opts.Lines {
		for i := range count {
			lines[i] = ring[(idx+i)%opts.Lines]
		}
	} else {
		copy(lines, ring[:count])
	}
	return Chunk{Lines: lines, Offset: offset}, nil
}

// Follow polls path every interval starting at offset and hands each batch
// of new matching lines to emit until ctx is cancelled or emit fails.
func Follow(ctx context.Context, path string, offset int64, interval time.Duration, match string, emit func([]string) error) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	target := resolve(path)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if current := resolve(path); current != target {
			target, offset = current, 0
		}
		chunk, err := readFrom(path, offset, match)
		if err != nil {
			return err
		}
		offset = chunk.Offset
		if len(chunk.Lines) > 0 {
			if err := emit(chunk.Lines); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func readFrom(path string, offset int64, match string) (Chunk, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Chunk{}, nil
		}
		return Chunk{Offset: offset}, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("stat log file: %w", err)
	}
	if offset < 0 || offset > info.Size() {
		offset = 0
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return Chunk{Offset: offset}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	read, err := scanLines(file, func(line string) {
		if matches(line, match) {
			lines = append(lines, line)
		}
	})
	if err != nil {
		return Chunk{Offset: offset}, err
	}
	return Chunk{Lines: lines, Offset: offset + read}, nil
}

// scanLines feeds complete lines to fn and returns the bytes consumed. A
// trailing partial line is left for the next read.
func scanLines(r io.Reader, fn func(string)) (int64, error) {
	reader := bufio.NewReaderSize(r, 64*1024)
	var consumed int64
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return consumed, nil
			}
			return consumed, fmt.Errorf("read log file: %w", err)
		}
		consumed += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(line)
	}
}

func matches(line, match string) bool {
	return match == "" || strings.Contains(line, match)
}

func resolve(path string) string {
	if target, err := filepath.EvalSymlinks(path); err == nil {
		return target
	}
	return path
}
