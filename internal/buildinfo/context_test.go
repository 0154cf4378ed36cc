package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		ctx           *Context
		wantVersion   string
		wantBuildDate string
		wantSystemID  string
	}{
		{"nil context", nil, UnknownValue, UnknownValue, UnknownValue},
		{"empty values", NewContext("", "", ""), UnknownValue, UnknownValue, UnknownValue},
		{"populated", NewContext("1.2.0", "2026-01-01", "abc"), "1.2.0", "2026-01-01", "abc"},
		{"pre-release", NewContext("1.2.0-beta.1", "", "abc"), "1.2.0-beta.1", UnknownValue, "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantVersion, tt.ctx.Version())
			assert.Equal(t, tt.wantBuildDate, tt.ctx.BuildDate())
			assert.Equal(t, tt.wantSystemID, tt.ctx.SystemID())
		})
	}
}

func TestRelease(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "streamhub@1.0.0", NewContext("1.0.0", "", "").Release())
	assert.Equal(t, "streamhub@unknown", (*Context)(nil).Release())
	assert.Contains(t, NewContext("1.0.0", "today", "").String(), "streamhub 1.0.0 (built today")
}
