package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	ErrInvalidPluginID = errors.New("invalid plugin id")
	ErrUnknownPlugin   = errors.New("unknown plugin")
	ErrLoad            = errors.New("plugin load failed")
	ErrNotSupported    = errors.New("operation not supported by plugin")
	ErrTimeout         = errors.New("gateway timeout")
	ErrInvalidWebhook  = errors.New("invalid webhook payload")
	ErrInvalidOptions  = errors.New("invalid gateway options")
)

// LoadError reports a registered plugin whose implementation cannot be built
type LoadError struct {
	Plugin string
	Path   string
	Err    error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load plugin %s from %q: %v", e.Plugin, e.Path, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrLoad, e.Err} }

// Error is a failure reported by a provider while talking to its upstream
type Error struct {
	Plugin  string
	Op      string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s failed", e.Plugin, e.Op)
	if e.Code != "" {
		msg += " [" + e.Code + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a gateway or network timeout
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// WrapTimeout tags timeout failures with ErrTimeout and leaves others as they are
func WrapTimeout(plugin, op string, err error) error {
	if err == nil || errors.Is(err, ErrTimeout) || !IsTimeout(err) {
		return err
	}
	return fmt.Errorf("%s %s: %w: %v", plugin, op, ErrTimeout, err)
}
