// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"errors"
	"fmt"
)

var (
	// ErrDescriptorParse is matched by every *ParseError through
	// errors.Is.
	ErrDescriptorParse = errors.New("descriptor parse error")

	// ErrMissingPrivateKey is returned when signing material is requested
	// from a descriptor that only carries public keys.
	ErrMissingPrivateKey = errors.New("descriptor has no private key")

	// ErrIndexOutOfRange is returned when deriving at an index that is
	// hardened, or at a non-zero index of a non-ranged descriptor.
	ErrIndexOutOfRange = errors.New("derivation index out of range")

	// ErrHardenedPublicDerivation is returned when a public descriptor
	// cannot be produced because derivation past the key requires a
	// hardened step.
	ErrHardenedPublicDerivation = errors.New("hardened derivation " +
		"requires a private key")
)

// ParseError describes a malformed descriptor string. The offending
// descriptor text is never included since it may hold private keys.
type ParseError struct {
	// Reason is a human readable description of what is wrong.
	Reason string

	// Err is the underlying error, if any.
	Err error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	if e.Err == nil {
		return "descriptor parse error: " + e.Reason
	}

	return fmt.Sprintf("descriptor parse error: %s: %v", e.Reason, e.Err)
}

// Unwrap returns the underlying error.
func (e *ParseError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrDescriptorParse.
func (e *ParseError) Is(target error) bool {
	return target == ErrDescriptorParse
}

func parseErrorf(format string, args ...interface{}) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}
