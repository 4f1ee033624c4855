package server

import "github.com/nikandfor/errors"

var (
	ErrInvalidConfig  = errors.New("server: invalid config")
	ErrAlreadyStarted = errors.New("server: already started")
	ErrNotRunning     = errors.New("server: not running")
)
