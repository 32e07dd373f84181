package consts

import "time"

// BufferSize1MB is 1 megabyte
const BufferSize1MB = 1024 * 1024

// Timeouts for various operations
const (
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
)

// Published listener address names.
const (
	EnvVimAddress   = "GUISE_VIM_ADDRESS"
	EnvNvimAddress  = "GUISE_NVIM_ADDRESS"
	EnvProxyAddress = "GUISE_PROXY_ADDRESS"
	// EnvDebug names a file the proxy client appends debug lines to.
	EnvDebug = "GUISE_DEBUG"
)

// Host editor names.
const (
	// HookGroupPrefix starts every generated hook group name.
	HookGroupPrefix = "guise_wait_"
	// TokenPrefix starts every generated trigger token.
	TokenPrefix = "guise:"
	// OpenStrategyVar is the editor variable holding the user's open strategy.
	OpenStrategyVar = "guise#open_strategy"
)
