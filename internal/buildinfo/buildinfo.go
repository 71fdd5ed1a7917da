// Package buildinfo carries build-time metadata that is not part of the user configuration.
package buildinfo

import "os"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Set with -ldflags "-X github.com/muvis-xrh/xrhms-core/internal/buildinfo.version=..."
var (
	version   string
	buildDate string
)

// Context holds the build metadata and the host the job runs on.
type Context struct {
	Version   string
	BuildDate string
	Node      string
}

// NewContext returns a Context. An empty node falls back to the hostname.
func NewContext(ver, date, node string) *Context {
	if node == "" {
		node, _ = os.Hostname()
	}
	return &Context{Version: ver, BuildDate: date, Node: node}
}

// Current returns the metadata linked into the binary.
func Current(node string) *Context {
	return NewContext(version, buildDate, node)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// GetVersion returns the build version string
func (c *Context) GetVersion() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Version)
}

// GetBuildDate returns the build date string
func (c *Context) GetBuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.BuildDate)
}

// GetNode returns the node name used in job summaries
func (c *Context) GetNode() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.Node)
}
