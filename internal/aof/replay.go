package aof

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/mauri870/aofkv/internal/kvstore"
)

// Stats summarizes a replay.
type Stats struct {
	// Applied is the number of well-formed entries applied to the store.
	Applied int
	// Skipped is the number of malformed, unknown or truncated lines.
	Skipped int
}

// Load replays the log at path into kv. A missing file is not an error and
// leaves kv untouched.
func Load(path string, kv kvstore.KV) (Stats, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, &IOError{Op: "open", Path: path, Err: err}
	}
	defer f.Close()

	stats, err := Replay(f, kv)
	if err != nil {
		return stats, &IOError{Op: "read", Path: path, Err: err}
	}
	return stats, nil
}

// Replay applies every well-formed line read from r to kv, in order.
//
// Only newline terminated lines are considered. A trailing fragment without
// a newline can only come from an interrupted append and is skipped.
func Replay(r io.Reader, kv kvstore.KV) (Stats, error) {
	var stats Stats

	br := bufio.NewReaderSize(r, 64*1024)
	for {
		line, err := br.ReadString('\n')
		if errors.Is(err, io.EOF) {
			if line != "" {
				stats.Skipped++
			}
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		entry, ok := Parse(line[:len(line)-1])
		if !ok {
			stats.Skipped++
			continue
		}
		apply(kv, entry)
		stats.Applied++
	}
}

func apply(kv kvstore.KV, e Entry) {
	switch e.Op {
	case OpSet:
		kv.Set(e.Key, e.Value)
	case OpDelete:
		kv.Delete(e.Key)
	}
}
