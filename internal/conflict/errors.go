package conflict

import "errors"

var (
	// ErrUnexpectedPayload is returned when a hub event carries the wrong type.
	ErrUnexpectedPayload = errors.New("unexpected event payload")

	// ErrUnknownAction is returned for editor actions other than open and close.
	ErrUnknownAction = errors.New("unknown editor action")
)
