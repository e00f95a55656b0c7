// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package cfgutil provides go-flags value types shared by the command line
// tools.
package cfgutil

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
)

// ExplicitString is a string flag that remembers whether it was set on the
// command line or in a config file, so a default can be told apart from the
// same value given explicitly.
type ExplicitString struct {
	Value string
	set   bool
}

// NewExplicitString creates a string flag with the provided default value.
func NewExplicitString(defaultValue string) *ExplicitString {
	return &ExplicitString{Value: defaultValue}
}

// ExplicitlySet returns whether the flag was parsed rather than defaulted.
func (e *ExplicitString) ExplicitlySet() bool {
	return e.set
}

// MarshalFlag implements the flags.Marshaler interface.
func (e *ExplicitString) MarshalFlag() (string, error) {
	return e.Value, nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (e *ExplicitString) UnmarshalFlag(value string) error {
	e.Value = value
	e.set = true
	return nil
}

// AmountFlag is a bitcoin amount flag given in BTC, with or without a
// trailing " BTC".
type AmountFlag struct {
	btcutil.Amount
}

// NewAmountFlag creates an amount flag with a default amount.
func NewAmountFlag(defaultValue btcutil.Amount) *AmountFlag {
	return &AmountFlag{defaultValue}
}

// MarshalFlag implements the flags.Marshaler interface.
func (a *AmountFlag) MarshalFlag() (string, error) {
	return a.Amount.String(), nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (a *AmountFlag) UnmarshalFlag(value string) error {
	value = strings.TrimSpace(strings.TrimSuffix(value, "BTC"))
	btc, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return err
	}
	amount, err := btcutil.NewAmount(btc)
	if err != nil {
		return err
	}
	if amount < 0 {
		return fmt.Errorf("negative amount %v", amount)
	}

	a.Amount = amount
	return nil
}

const (
	unitSatPerVByte = "sat/vb"
	unitBTCPerKVB   = "btc/kvb"
)

// FeeRateFlag is a fee rate flag. Values are given in sat/vB, optionally
// suffixed with the unit, or in BTC/kvB when suffixed with "BTC/kvB". The
// parsed rate is kept in satoshis per kilo-vbyte.
type FeeRateFlag struct {
	PerKVByte btcutil.Amount
}

// NewFeeRateFlag creates a fee rate flag with a default rate in satoshis per
// kilo-vbyte.
func NewFeeRateFlag(perKVByte btcutil.Amount) *FeeRateFlag {
	return &FeeRateFlag{PerKVByte: perKVByte}
}

// MarshalFlag implements the flags.Marshaler interface.
func (f *FeeRateFlag) MarshalFlag() (string, error) {
	satPerVByte := float64(f.PerKVByte) / 1000
	return strconv.FormatFloat(satPerVByte, 'f', -1, 64) + " sat/vB", nil
}

// UnmarshalFlag implements the flags.Unmarshaler interface.
func (f *FeeRateFlag) UnmarshalFlag(value string) error {
	value = strings.ToLower(strings.TrimSpace(value))

	unit := unitSatPerVByte
	switch {
	case strings.HasSuffix(value, unitBTCPerKVB):
		unit = unitBTCPerKVB
		value = strings.TrimSuffix(value, unitBTCPerKVB)

	case strings.HasSuffix(value, unitSatPerVByte):
		value = strings.TrimSuffix(value, unitSatPerVByte)
	}

	rate, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return err
	}
	if rate < 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return fmt.Errorf("invalid fee rate %v", value)
	}

	if unit == unitBTCPerKVB {
		perKVByte, err := btcutil.NewAmount(rate)
		if err != nil {
			return err
		}
		f.PerKVByte = perKVByte
		return nil
	}

	f.PerKVByte = btcutil.Amount(math.Ceil(rate * 1000))
	return nil
}
