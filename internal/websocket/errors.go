package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrInvalidJSON      = errors.New("failed to marshal event")
	ErrWriteTimeout     = errors.New("write timeout")
	ErrNilTransport     = errors.New("nil transport")
)
