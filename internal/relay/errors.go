package relay

import "errors"

var (
	ErrAlreadyRunning   = errors.New("already running")
	ErrNotRunning       = errors.New("not running")
	ErrBind             = errors.New("bind failed")
	ErrSend             = errors.New("send failed")
	ErrMalformedPattern = errors.New("malformed pattern")
	ErrInvalidMapping   = errors.New("invalid mapping")
	ErrClosed           = errors.New("registry closed")
)
