package logs_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"leadpipe/internal/logs"
)

func writeLog(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func appendLog(t *testing.T, path, content string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("append log: %v", err)
	}
}

func TestTailReturnsLastMatchingLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadpipe.log")
	writeLog(t, path, "a record=1\nb record=2\nc record=1\nd record=1\npartial")

	chunk, err := logs.Tail(path, logs.Options{Lines: 2, Match: "record=1"})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if !slices.Equal(chunk.Lines, []string{"c record=1", "d record=1"}) {
		t.Fatalf("lines = %q", chunk.Lines)
	}
	if want := int64(len("a record=1\nb record=2\nc record=1\nd record=1\n")); chunk.Offset != want {
		t.Fatalf("offset = %d, want %d", chunk.Offset, want)
	}
}

func TestTailMissingFileIsEmpty(t *testing.T) {
	chunk, err := logs.Tail(filepath.Join(t.TempDir(), "absent.log"), logs.Options{Lines: 10})
	if err != nil || len(chunk.Lines) != 0 || chunk.Offset != 0 {
		t.Fatalf("Tail missing = %+v, %v", chunk, err)
	}
}

func TestTailZeroLinesSkipsToEnd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadpipe.log")
	writeLog(t, path, "one\ntwo\n")
	chunk, err := logs.Tail(path, logs.Options{})
	if err != nil || len(chunk.Lines) != 0 || chunk.Offset != 8 {
		t.Fatalf("Tail = %+v, %v", chunk, err)
	}
}

func TestFollowEmitsAppendedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadpipe.log")
	writeLog(t, path, "start\n")
	chunk, err := logs.Tail(path, logs.Options{Lines: 1})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := errors.New("done")
	var got []string
	go func() {
		time.Sleep(50 * time.Millisecond)
		appendLog(t, path, "skip me\nnext line\n")
	}()

	err = logs.Follow(ctx, path, chunk.Offset, 10*time.Millisecond, "next", func(lines []string) error {
		got = append(got, lines...)
		return done
	})
	if !errors.Is(err, done) {
		t.Fatalf("Follow = %v", err)
	}
	if !slices.Equal(got, []string{"next line"}) {
		t.Fatalf("lines = %q", got)
	}
}

func TestFollowRestartsWhenPointerMoves(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "leadpipe-1.log")
	second := filepath.Join(dir, "leadpipe-2.log")
	pointer := filepath.Join(dir, "daemon.log")
	writeLog(t, first, "old run line that is fairly long\n")
	writeLog(t, second, "")
	if err := os.Symlink(first, pointer); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	chunk, err := logs.Tail(pointer, logs.Options{Lines: 1})
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		appendLog(t, second, "new run\n")
		_ = os.Remove(pointer)
		_ = os.Symlink(second, pointer)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := errors.New("done")
	var got []string
	err = logs.Follow(ctx, pointer, chunk.Offset, 10*time.Millisecond, "", func(lines []string) error {
		got = append(got, lines...)
		return done
	})
	if !errors.Is(err, done) {
		t.Fatalf("Follow = %v", err)
	}
	if !slices.Equal(got, []string{"new run"}) {
		t.Fatalf("lines = %q", got)
	}
}

func TestFollowStopsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leadpipe.log")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := logs.Follow(ctx, path, 0, time.Millisecond, "", func([]string) error { return nil }); err != nil {
		t.Fatalf("Follow after cancel = %v", err)
	}
}
