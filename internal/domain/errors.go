package domain

import "errors"

var (
	ErrUnknownCategory    = errors.New("unknown channel category")
	ErrUnauthorizedTopic  = errors.New("not authorized for this channel")
	ErrUnknownMessageType = errors.New("unrecognized message type")
	ErrMalformedMessage   = errors.New("malformed message")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrServiceStopped     = errors.New("broadcast service stopped")
)
