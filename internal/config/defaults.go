package config

import "time"

const (
	DefaultHost = "localhost"
	DefaultPort = 8765

	DefaultBufferSize       = 10000
	DefaultInitialBackoff   = time.Second
	DefaultMaxBackoff       = time.Minute
	DefaultTerminateTimeout = 5 * time.Second
)
