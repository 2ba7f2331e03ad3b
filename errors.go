// Copyright 2024 Bjørn Erik Pedersen
// SPDX-License-Identifier: MIT

package exif

import (
	"errors"
	"fmt"
)

// The distinct failure kinds surfaced to callers. Test with errors.Is.
var (
	// ErrInvalidJPEG means the JPEG marker stream is malformed.
	ErrInvalidJPEG = errors.New("invalid JPEG structure")

	// ErrInvalidHeader means the Exif identifier or the TIFF header
	// failed validation.
	ErrInvalidHeader = errors.New("invalid Exif header")

	// ErrInvalidIFD means one or more IFDs could not be decoded.
	// A partial decode returns the directories that did resolve
	// together with an error wrapping this sentinel.
	ErrInvalidIFD = errors.New("invalid IFD")
)

var (
	// Internal sentinel to unwind the decoder on a failed read;
	// recovered and normalized at the public API boundary.
	errStop = errors.New("stop")

	errShortRead = errors.New("short read")
)

// InvalidFormatError wraps errors caused by malformed input bytes,
// as opposed to I/O failures on the byte source.
type InvalidFormatError struct {
	Err error
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid format: %s", e.Err)
}

func (e *InvalidFormatError) Unwrap() error {
	return e.Err
}

// IsInvalidFormat reports whether err was caused by malformed input,
// i.e. any of ErrInvalidJPEG, ErrInvalidHeader or ErrInvalidIFD.
func IsInvalidFormat(err error) bool {
	var e *InvalidFormatError
	return errors.As(err, &e)
}

func isInvalidFormatErrorCandidate(err error) bool {
	return errors.Is(err, ErrInvalidJPEG) || errors.Is(err, ErrInvalidHeader) || errors.Is(err, ErrInvalidIFD)
}

func newInvalidFormatError(err error) error {
	if err == nil {
		return nil
	}
	return &InvalidFormatError{Err: err}
}

func newInvalidFormatErrorf(format string, args ...any) error {
	return &InvalidFormatError{Err: fmt.Errorf(format, args...)}
}

// normalizeErr wraps malformed-input errors in InvalidFormatError on
// their way out of the public API. I/O errors pass through untouched.
func normalizeErr(err error) error {
	if err == nil {
		return nil
	}
	if isInvalidFormatErrorCandidate(err) && !IsInvalidFormat(err) {
		return newInvalidFormatError(err)
	}
	return err
}
