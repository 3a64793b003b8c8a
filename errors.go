package exl2

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions.
var (
	ErrClosed             = errors.New("exl2: connection closed")
	ErrStreamDone         = errors.New("exl2: stream already complete")
	ErrUnexpectedResponse = errors.New("exl2: unexpected response")
	ErrReleased           = errors.New("exl2: request released")
)

// ConnectionError represents a connection-level error.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.URL != "" {
		return fmt.Sprintf("exl2: %s %s: %v", e.Op, e.URL, e.Err)
	}
	return fmt.Sprintf("exl2: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// SendError represents a failure to write a request frame.
type SendError struct {
	Op        string
	RequestID uint64
	Err       error
}

func (e *SendError) Error() string {
	if e.RequestID != 0 {
		return fmt.Sprintf("exl2: send %s #%d: %v", e.Op, e.RequestID, e.Err)
	}
	return fmt.Sprintf("exl2: send %s: %v", e.Op, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ProtocolError is an error reported by the server for one request.
type ProtocolError struct {
	RequestID uint64
	Action    Action
	Message   string
}

func (e *ProtocolError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("exl2: %s #%d: server error: %s", e.Action, e.RequestID, e.Message)
	}
	return fmt.Sprintf("exl2: request #%d: server error: %s", e.RequestID, e.Message)
}
