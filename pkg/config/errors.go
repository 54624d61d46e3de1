package config

import "errors"

// ErrParsingConfig is returned when the environment does not fit the config struct.
var ErrParsingConfig = errors.New("failed to parse environment variables into config")
