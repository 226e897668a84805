package domain

import "errors"

var (
	ErrConfiguration       = errors.New("configuration error")
	ErrAuthFailure         = errors.New("authentication failed")
	ErrTransientConnection = errors.New("transient connection error")
	ErrMaxAttemptsReached  = errors.New("max reconnect attempts reached")
	ErrMalformedPayload    = errors.New("malformed payload")
	ErrUpstreamFormat      = errors.New("upstream format error")
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidFilter       = errors.New("invalid filter")
)

type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindAuth          ErrorKind = "auth"
	KindTransient     ErrorKind = "transient"
	KindMaxAttempts   ErrorKind = "max_attempts"
	KindMalformed     ErrorKind = "malformed"
	KindUpstream      ErrorKind = "upstream_format"
)

// Terminal reports whether the kind stops automatic reconnection.
func (k ErrorKind) Terminal() bool {
	return k == KindConfiguration || k == KindAuth || k == KindMaxAttempts
}

// KindOf maps an error onto the taxonomy. Unknown errors are transient.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrAuthFailure):
		return KindAuth
	case errors.Is(err, ErrMaxAttemptsReached):
		return KindMaxAttempts
	case errors.Is(err, ErrMalformedPayload):
		return KindMalformed
	case errors.Is(err, ErrUpstreamFormat):
		return KindUpstream
	}
	return KindTransient
}
