package backend

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSessionInvalid marks failures that need a new sign-in. They are never
	// retried.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrTransient marks every other refresh failure.
	ErrTransient = errors.New("transient data error")
)

var DefaultSessionMarkers = []string{
	"authorization", "permission", "not logged in", "invalid session", "invalid_session",
}

// Classifier sorts refresh failures by the markers found in their message.
type Classifier struct {
	markers []string
}

func NewClassifier(markers []string) Classifier {
	if len(markers) == 0 {
		markers = DefaultSessionMarkers
	}
	lc := make([]string, 0, len(markers))
	for _, m := range markers {
		if m = strings.ToLower(strings.TrimSpace(m)); m != "" {
			lc = append(lc, m)
		}
	}
	return Classifier{markers: lc}
}

// Classify wraps err with ErrSessionInvalid or ErrTransient. Already classified
// errors are returned unchanged.
func (c Classifier) Classify(err error) error {
	if err == nil || errors.Is(err, ErrSessionInvalid) || errors.Is(err, ErrTransient) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range c.markers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrSessionInvalid, err)
		}
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
