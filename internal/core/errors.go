package core

import "errors"

// Error codes surfaced to callers alongside sentinel errors.
const (
	ErrCodeRoomRequired    = "room_required"
	ErrCodeMessageRequired = "message_required"
	ErrCodeNotConnected    = "not_connected"
	ErrCodeHistory         = "history_failed"
)

var (
	ErrRoomRequired    = errors.New("room id is required")
	ErrMessageRequired = errors.New("message id is required")
	ErrEmptyText       = errors.New("message text is empty")
)

// CoreError wraps a code and human-readable message.
type CoreError struct {
	Code    string
	Message string
	Err     error
}

func (e *CoreError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CoreError) Unwrap() error {
	return e.Err
}

// NewError builds a coded error wrapping err.
func NewError(code, msg string, err error) *CoreError {
	return &CoreError{Code: code, Message: msg, Err: err}
}
