package destination

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a destination id does not exist.
	ErrNotFound = errors.New("destination not found")
	// ErrAlreadyExists is returned when inserting a duplicate id.
	ErrAlreadyExists = errors.New("destination already exists")
)

// ConfigError reports an invalid destination configuration value.
type ConfigError struct {
	Mode    Mode
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	switch {
	case e.Mode != "" && e.Field != "":
		return fmt.Sprintf("%s.%s %s", e.Mode, e.Field, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s %s", e.Field, e.Message)
	default:
		return e.Message
	}
}

// ErrorKind classifies the error for callers that map failures to statuses.
func (e *ConfigError) ErrorKind() string {
	return "configuration"
}
