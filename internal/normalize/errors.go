package normalize

import (
	"errors"
	"fmt"

	"chatrelay/internal/model"
)

var (
	ErrMissingField     = errors.New("missing field")
	ErrInvalidType      = errors.New("invalid type")
	ErrInvalidPlatform  = errors.New("invalid platform")
	ErrMissingTimestamp = errors.New("missing timestamp")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
)

// Error carries the failing field and platform alongside one of the sentinel
// kinds above.
type Error struct {
	Kind     error
	Field    string
	Platform model.Platform
}

func (e *Error) Error() string {
	switch {
	case e.Field != "" && e.Platform != "":
		return fmt.Sprintf("%s: %s: %s", e.Platform, e.Kind, e.Field)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Field)
	case e.Platform != "":
		return fmt.Sprintf("%s: %s", e.Platform, e.Kind)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

func missingField(platform model.Platform, name string) error {
	return &Error{Kind: ErrMissingField, Field: name, Platform: platform}
}

func invalidType(platform model.Platform, name string) error {
	return &Error{Kind: ErrInvalidType, Field: name, Platform: platform}
}
