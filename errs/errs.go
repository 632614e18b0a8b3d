// Package errs defines the error kinds a training run can produce.
//
// ConfigurationError and IOError abort a run. ItemError is recorded and the
// affected recording is skipped. EliminationWarning never aborts a run; it is
// returned alongside the result so callers can tell an empty codebook apart
// from a healthy one.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an unusable configuration or training corpus.
type ConfigurationError struct {
	Field string
	Msg   string
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return "configuration: " + e.Msg
	}
	return fmt.Sprintf("configuration: %s: %s", e.Field, e.Msg)
}

// Config is shorthand for building a *ConfigurationError.
func Config(field, format string, args ...any) error {
	return &ConfigurationError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// ItemError reports a recording that could not be used for training.
type ItemError struct {
	Item string
	Err  error
}

func (e *ItemError) Error() string { return fmt.Sprintf("item %s: %v", e.Item, e.Err) }
func (e *ItemError) Unwrap() error { return e.Err }

// EliminationWarning reports an elimination stage that removed every
// remaining mapping.
type EliminationWarning struct {
	Stage string
	Input int
}

func (e *EliminationWarning) Error() string {
	return fmt.Sprintf("elimination: stage %s removed all %d mappings", e.Stage, e.Input)
}

// IOError reports a failed artifact write.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("write %s: %v", e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

// IsConfiguration reports whether err contains a ConfigurationError.
func IsConfiguration(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// IsItem reports whether err contains an ItemError.
func IsItem(err error) bool {
	var ie *ItemError
	return errors.As(err, &ie)
}
