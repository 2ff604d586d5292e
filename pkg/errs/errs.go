// Package errs defines the error taxonomy shared across the forecast
// pipeline. All three kinds fail fast: nothing in the pipeline retries or
// recovers, a bad input stops the run for that tax.
package errs

import (
	"fmt"
	"strings"
)

// ConfigurationError reports an unknown or invalid configuration value, such
// as an unrecognized tax name or frequency. The message names the offending
// value and, when the valid set is enumerable, lists the allowed values.
type ConfigurationError struct {
	Setting string   // the setting or field that failed
	Value   string   // the offending value
	Allowed []string // allowed values, when enumerable
}

func (e *ConfigurationError) Error() string {
	if len(e.Allowed) > 0 {
		return fmt.Sprintf("invalid %s %q, allowed values are: %s",
			e.Setting, e.Value, strings.Join(e.Allowed, ", "))
	}
	return fmt.Sprintf("invalid %s %q", e.Setting, e.Value)
}

// NewConfigurationError builds a ConfigurationError for a setting.
func NewConfigurationError(setting, value string, allowed ...string) *ConfigurationError {
	return &ConfigurationError{Setting: setting, Value: value, Allowed: allowed}
}

// DataAlignmentError reports a mismatch between two values that must agree:
// a non-regular date index, a size mismatch between an assumption sequence
// and the forecast periods, or a date outside the forecast window. Detail
// always carries both conflicting values.
type DataAlignmentError struct {
	Op     string // operation that detected the mismatch
	Detail string // message naming both conflicting values
}

func (e *DataAlignmentError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// NewSizeMismatchError builds a DataAlignmentError for two lengths that
// must be equal.
func NewSizeMismatchError(op, what string, got, want int) *DataAlignmentError {
	return &DataAlignmentError{
		Op:     op,
		Detail: fmt.Sprintf("size mismatch between %s (length=%d) and forecast periods (length=%d)", what, got, want),
	}
}

// NewOutOfWindowError builds a DataAlignmentError for a date outside the
// forecast window.
func NewOutOfWindowError(op, date, start, stop string) *DataAlignmentError {
	return &DataAlignmentError{
		Op:     op,
		Detail: fmt.Sprintf("date %s outside forecast window [%s, %s]", date, start, stop),
	}
}

// MissingHistoryError reports that no historical time bin overlaps the data
// being transformed, e.g. sector shares cannot be imputed because sector
// history is empty. Failing here is deliberate: silently defaulting to zero
// shares would produce wrong numbers instead of a stopped run.
type MissingHistoryError struct {
	Tax    string
	Detail string
}

func (e *MissingHistoryError) Error() string {
	if e.Tax != "" {
		return fmt.Sprintf("no overlapping history for %s: %s", e.Tax, e.Detail)
	}
	return fmt.Sprintf("no overlapping history: %s", e.Detail)
}
