// Package buildinfo carries build-time metadata injected by the linker.
package buildinfo

import (
	"fmt"
	"runtime"
)

// UnknownValue is reported for metadata the build did not set.
const UnknownValue = "unknown"

// Context holds the version, build date and system identifier.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext returns build metadata. Empty values report UnknownValue.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// Version is the git tag the binary was built from.
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.version)
}

// BuildDate is when the binary was built.
func (c *Context) BuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.buildDate)
}

// SystemID identifies this installation in telemetry.
func (c *Context) SystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.systemID)
}

// Release is the telemetry release name.
func (c *Context) Release() string {
	return "streamhub@" + c.Version()
}

// String renders the version banner.
func (c *Context) String() string {
	return fmt.Sprintf("streamhub %s (built %s, %s, %s/%s)",
		c.Version(), c.BuildDate(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
