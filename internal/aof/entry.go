// Package aof implements the append-only log the in-memory store is rebuilt
// from on startup.
//
// The log is line oriented UTF-8 text, one mutation per line:
//
//	SET <key> <value...>
//	DELETE <key>
//
// The value is the remainder of the line and may contain spaces. Lines that
// do not match either form are ignored on replay, which makes a crash during
// the last append harmless.
package aof

import (
	"strings"
)

// Op identifies the kind of mutation carried by an Entry.
type Op int

const (
	OpSet Op = iota + 1
	OpDelete
)

const (
	setKeyword    = "SET"
	deleteKeyword = "DELETE"
)

func (o Op) String() string {
	switch o {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Entry is a single mutation recorded in the log.
type Entry struct {
	Op    Op
	Key   string
	Value string
}

// Set returns an entry that sets key to value.
func Set(key, value string) Entry {
	return Entry{Op: OpSet, Key: key, Value: value}
}

// Delete returns an entry that removes key.
func Delete(key string) Entry {
	return Entry{Op: OpDelete, Key: key}
}

// Encode returns the line encoding of e without the trailing newline.
func (e Entry) Encode() string {
	switch e.Op {
	case OpSet:
		return setKeyword + " " + e.Key + " " + e.Value
	case OpDelete:
		return deleteKeyword + " " + e.Key
	default:
		return ""
	}
}

// Parse decodes a single log line. It reports false for anything that is not
// a well-formed SET or DELETE line.
func Parse(line string) (Entry, bool) {
	parts := strings.SplitN(line, " ", 3)
	switch {
	case len(parts) == 3 && parts[0] == setKeyword && parts[1] != "":
		return Set(parts[1], parts[2]), true
	case len(parts) == 2 && parts[0] == deleteKeyword && parts[1] != "":
		return Delete(parts[1]), true
	default:
		return Entry{}, false
	}
}
