package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{in: 0, want: "0 B"},
		{in: 512, want: "512 B"},
		{in: 1024, want: "1.0 KB"},
		{in: 1536, want: "1.5 KB"},
		{in: 1048576, want: "1.0 MB"},
		{in: 5 * 1024 * 1024 * 1024, want: "5.0 GB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatBytes(tt.in))
	}
}
