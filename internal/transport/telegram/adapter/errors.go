package adapter

import (
	"errors"
	"fmt"
)

var ErrNotConnected = errors.New("telegram client not connected")

// APIError is a Telegram Bot API rejection ({"ok":false,...}).
type APIError struct {
	Code        int
	Description string
	err         error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

func (e *APIError) Unwrap() error { return e.err }
