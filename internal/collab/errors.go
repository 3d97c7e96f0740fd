package collab

import "errors"

// ErrUnexpectedPayload is returned when a hub event carries the wrong type.
var ErrUnexpectedPayload = errors.New("unexpected event payload")
