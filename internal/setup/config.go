package setup

import (
	"io"
	"os"
)

// Config holds platform-independent configuration for nicd setup.
type Config struct {
	BinaryPath string
	DataDir    string
	LogPath    string

	// Out receives progress output. Defaults to stdout.
	Out    io.Writer
	Runner Runner
}

func (c *Config) out() io.Writer {
	if c.Out == nil {
		return os.Stdout
	}
	return c.Out
}

func (c *Config) runner() Runner {
	if c.Runner == nil {
		return ExecRunner{}
	}
	return c.Runner
}
