package aof

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	assert.Equal(t, "SET a 1", Set("a", "1").Encode())
	assert.Equal(t, "SET greeting hello big world", Set("greeting", "hello big world").Encode())
	assert.Equal(t, "DELETE a", Delete("a").Encode())
	assert.Equal(t, "", Entry{}.Encode())
}

func TestParse(t *testing.T) {
	tests := []struct {
		line  string
		entry Entry
		ok    bool
	}{
		{"SET a 1", Set("a", "1"), true},
		{"SET a hello world", Set("a", "hello world"), true},
		{"SET a ", Set("a", ""), true},
		{"DELETE a", Delete("a"), true},
		{"SET a", Entry{}, false},
		{"SET", Entry{}, false},
		{"DELETE", Entry{}, false},
		{"DELETE a b", Entry{}, false},
		{"DEL a", Entry{}, false},
		{"set a 1", Entry{}, false},
		{"", Entry{}, false},
		{"SET  1", Entry{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			entry, ok := Parse(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.entry, entry)
		})
	}
}
