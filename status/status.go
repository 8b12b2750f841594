// Package status implements errors returned by the channel. A Status
// carries a code, a message, and an optional typed Detail that lets
// filters above the core distinguish, e.g., an LB drop from any other
// UNAVAILABLE outcome (spec.md §7).
package status

import (
	"errors"
	"fmt"

	"github.com/grpc/grpc-sub023/codes"
)

// Detail is a typed, low-cardinality tag attached to a Status in addition
// to its code and message. The client-channel core uses this (rather than
// tag-absence-means-shutdown) to resolve the Open Question in spec.md §9.
type Detail int

const (
	// DetailNone is the zero value: no additional detail.
	DetailNone Detail = iota
	// DetailLBDrop marks a pick failure as an LB-policy drop rather than
	// a connection failure (spec.md §4.8, §7).
	DetailLBDrop
	// DetailDisconnectIdle marks the channel's disconnect error as a
	// targeted enter-IDLE rather than a terminal shutdown.
	DetailDisconnectIdle
	// DetailDisconnectShutdown marks the channel's disconnect error as
	// terminal.
	DetailDisconnectShutdown
)

// Status is an immutable error value with a code, message, and optional
// Detail. It implements error via Error().
type Status struct {
	code    codes.Code
	message string
	detail  Detail
}

// New returns a Status with the given code and message.
func New(code codes.Code, message string) *Status {
	return &Status{code: code, message: message}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(code codes.Code, format string, a ...any) *Status {
	return New(code, fmt.Sprintf(format, a...))
}

// WithDetail returns a copy of s carrying the given Detail.
func (s *Status) WithDetail(d Detail) *Status {
	if s == nil {
		return nil
	}
	cp := *s
	cp.detail = d
	return &cp
}

// Code returns s's code, or codes.OK if s is nil.
func (s *Status) Code() codes.Code {
	if s == nil {
		return codes.OK
	}
	return s.code
}

// Message returns s's message.
func (s *Status) Message() string {
	if s == nil {
		return ""
	}
	return s.message
}

// Detail returns s's attached Detail, or DetailNone if unset.
func (s *Status) Detail() Detail {
	if s == nil {
		return DetailNone
	}
	return s.detail
}

// Err returns s as an error, or nil if s represents codes.OK.
func (s *Status) Err() error {
	if s == nil || s.code == codes.OK {
		return nil
	}
	return (*statusError)(s)
}

// Error implements error.
func (s *Status) Error() string {
	return fmt.Sprintf("rpc error: code = %s desc = %s", s.code, s.message)
}

// statusError adapts *Status to error without colliding with the
// (*Status).Err nil-means-ok convention: a non-nil *statusError is always
// a real error.
type statusError Status

func (e *statusError) Error() string { return (*Status)(e).Error() }

// Errorf constructs a Status from a code and format string and returns it
// as an error, matching the ubiquitous status.Errorf(codes.X, ...) call
// convention used throughout the LB policies.
func Errorf(code codes.Code, format string, a ...any) error {
	return Newf(code, format, a...).Err()
}

// Error is Errorf without formatting.
func Error(code codes.Code, message string) error {
	return New(code, message).Err()
}

// FromError recovers the *Status carried by err, if any. For a nil err it
// returns (nil, true). ok is false for any other error not produced by
// this package, in which case a Status with codes.Unknown is returned.
func FromError(err error) (s *Status, ok bool) {
	if err == nil {
		return nil, true
	}
	var se *statusError
	if errors.As(err, &se) {
		return (*Status)(se), true
	}
	return New(codes.Unknown, err.Error()), false
}

// Code is a convenience wrapper around FromError(err).Code().
func Code(err error) codes.Code {
	s, _ := FromError(err)
	return s.Code()
}
