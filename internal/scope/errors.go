package scope

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailed   = errors.New("scope: connection failed")
	ErrNoInstrumentFound  = errors.New("scope: no instrument found on USB or LAN")
	ErrProtocolViolation  = errors.New("scope: protocol violation")
	ErrDepthNegotiation   = errors.New("scope: memory depth negotiation failed")
	ErrInvalidDeviceState = errors.New("scope: invalid device state")
	ErrMalformedReply     = errors.New("scope: malformed reply")
	ErrInvalidMagnitude   = errors.New("scope: invalid magnitude string")
	ErrUnsupportedScale   = errors.New("scope: unsupported scale")
)

// ProtocolError reports a reply the instrument should never produce.
type ProtocolError struct {
	Op  string
	Got string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("scope: %s: unrecognized reply %q", e.Op, e.Got)
}

func (e *ProtocolError) Is(target error) bool { return target == ErrProtocolViolation }

// DepthError is returned when no candidate depth was accepted.
type DepthError struct {
	Requested int
}

func (e *DepthError) Error() string {
	return fmt.Sprintf("scope: could not set memory depth to %d", e.Requested)
}

func (e *DepthError) Is(target error) bool { return target == ErrDepthNegotiation }

// ReplyError carries a reply that could not be parsed as Kind.
type ReplyError struct {
	Text string
	Kind Kind
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("scope: cannot parse %q as %s", e.Text, e.Kind)
}

func (e *ReplyError) Is(target error) bool { return target == ErrMalformedReply }
