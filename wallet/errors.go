// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
)

// ErrorCode identifies a kind of Error.
type ErrorCode uint8

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates an error with the wallet store. The Err field
	// of the Error is set to the underlying error.
	ErrDatabase ErrorCode = iota

	// ErrNetworkMismatch indicates that a persisted wallet belongs to a
	// different network than the one it is loaded for.
	ErrNetworkMismatch

	// ErrDescriptorMismatch indicates that the descriptors given when
	// loading differ from the persisted ones.
	ErrDescriptorMismatch

	// ErrGenesisMismatch indicates that the persisted chain starts at a
	// different genesis block.
	ErrGenesisMismatch

	// ErrMissingData indicates that a persisted change set lacks data
	// required to load the wallet.
	ErrMissingData

	// ErrInvalidData indicates that persisted data could not be applied.
	ErrInvalidData
)

// Map of ErrorCode values back to their constant names for pretty printing.
var errorCodeStrings = map[ErrorCode]string{
	ErrDatabase:           "ErrDatabase",
	ErrNetworkMismatch:    "ErrNetworkMismatch",
	ErrDescriptorMismatch: "ErrDescriptorMismatch",
	ErrGenesisMismatch:    "ErrGenesisMismatch",
	ErrMissingData:        "ErrMissingData",
	ErrInvalidData:        "ErrInvalidData",
}

// String returns the ErrorCode as a human-readable name.
func (e ErrorCode) String() string {
	if s := errorCodeStrings[e]; s != "" {
		return s
	}
	return fmt.Sprintf("Unknown ErrorCode (%d)", int(e))
}

var (
	// ErrLoadMismatch is matched by every Error reporting that persisted
	// state does not fit the parameters it is loaded with.
	ErrLoadMismatch = errors.New("persisted wallet does not match")

	// ErrMissingNonWitnessUtxo is returned when signing an input whose
	// full previous transaction is required but absent.
	ErrMissingNonWitnessUtxo = errors.New("input is missing its " +
		"non-witness utxo")

	// ErrLoaded describes the error condition of attempting to load or
	// create a wallet when the loader has already done so.
	ErrLoaded = errors.New("wallet already loaded")

	// ErrNotLoaded describes the error condition of attempting to persist
	// or unload a wallet before it was loaded.
	ErrNotLoaded = errors.New("wallet is not loaded")

	// ErrExists describes the error condition of attempting to create a
	// new wallet when one exists already.
	ErrExists = errors.New("wallet already exists")
)

// Error provides a single type for errors that can happen while creating,
// loading or persisting a wallet.
type Error struct {
	Code        ErrorCode // Describes the kind of error
	Description string    // Human readable description of the issue
	Err         error     // Underlying error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	if e.Err != nil {
		return e.Description + ": " + e.Err.Error()
	}
	return e.Description
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrLoadMismatch and the error describes such
// a mismatch.
func (e Error) Is(target error) bool {
	if target != ErrLoadMismatch {
		return false
	}

	switch e.Code {
	case ErrNetworkMismatch, ErrDescriptorMismatch, ErrGenesisMismatch:
		return true
	}

	return false
}

// walletError creates an Error given a set of arguments.
func walletError(c ErrorCode, desc string, err error) Error {
	return Error{Code: c, Description: desc, Err: err}
}

// InvalidTxBuilderStateError is returned by TxBuilder.Finish when the
// builder's parameters are contradictory or out of range.
type InvalidTxBuilderStateError struct {
	Reason string
}

// Error implements the error interface.
func (e *InvalidTxBuilderStateError) Error() string {
	return "invalid transaction builder state: " + e.Reason
}

func invalidBuilder(format string, args ...interface{}) error {
	return &InvalidTxBuilderStateError{
		Reason: fmt.Sprintf(format, args...),
	}
}

// UnknownOutpointError is returned when a transaction must spend an output
// that is not an unspent output of the wallet.
type UnknownOutpointError struct {
	OutPoint wire.OutPoint
}

// Error implements the error interface.
func (e *UnknownOutpointError) Error() string {
	return fmt.Sprintf("outpoint %v is not a wallet utxo", e.OutPoint)
}

// MissingPrivateKeyError is returned when signing an input owned by a
// keychain whose descriptor holds no private key.
type MissingPrivateKeyError struct {
	Keychain keyring.KeychainKind
	Index    uint32
	Err      error
}

// Error implements the error interface.
func (e *MissingPrivateKeyError) Error() string {
	return fmt.Sprintf("no private key for %v index %d: %v", e.Keychain,
		e.Index, e.Err)
}

// Unwrap returns the underlying error.
func (e *MissingPrivateKeyError) Unwrap() error {
	return e.Err
}
