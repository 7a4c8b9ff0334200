package common

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingPath   = errors.New("path is required")
	ErrPathNotString = errors.New("path must be a string")
	ErrNotObject     = errors.New("payload must be a json object")
	ErrMalformed     = errors.New("payload is not well-formed json")
	ErrEmptyPayload  = errors.New("empty response payload")
	ErrFunctionError = errors.New("downstream function error")
	ErrEmptyKey      = errors.New("counter key cannot be empty")
	ErrEmptyTarget   = errors.New("downstream target cannot be empty")
)

// DecodeSource tells which payload failed to decode.
type DecodeSource string

const (
	DecodeSourceEvent    DecodeSource = "event"
	DecodeSourceResponse DecodeSource = "response"
)

type DecodeError struct {
	Source DecodeSource
	Err    error
}

func NewDecodeError(source DecodeSource, err error) *DecodeError {
	return &DecodeError{Source: source, Err: err}
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", e.Source, e.Err.Error())
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type StoreError struct {
	Key string
	Err error
}

func NewStoreError(key string, err error) *StoreError {
	return &StoreError{Key: key, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("increment counter %q: %s", e.Key, e.Err.Error())
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

type InvokeError struct {
	Target string
	Err    error
}

func NewInvokeError(target string, err error) *InvokeError {
	return &InvokeError{Target: target, Err: err}
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("invoke %q: %s", e.Target, e.Err.Error())
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// IsDecodeError reports whether err is, or wraps, a *DecodeError.
func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

func IsStoreError(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

func IsInvokeError(err error) bool {
	var target *InvokeError
	return errors.As(err, &target)
}

func MultiError(errs []error) string {
	if len(errs) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return strings.Join(msgs, "; ")
}
