// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txauthor

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
)

// Credit is a spendable output offered to coin selection.
type Credit struct {
	OutPoint wire.OutPoint
	Amount   btcutil.Amount
	PkScript []byte
}

// InsufficientFundsError is returned when the available inputs cannot pay
// for the outputs and the fee. Needed includes the fee at the point
// selection gave up.
type InsufficientFundsError struct {
	Needed    btcutil.Amount
	Available btcutil.Amount
}

// Error implements the error interface.
func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds available to construct "+
		"transaction: needed %v, available %v", e.Needed, e.Available)
}

// InputSelectionStrategy defines how funds are selected when building an
// unsigned transaction.
type InputSelectionStrategy int

const (
	// PositiveYieldingSelection adds candidates in the given order until
	// the outputs and the fee are paid for. Selection fails at the first
	// candidate that costs more in fees than it adds. Candidates sorted
	// with SortLargestFirst never yield more after such a candidate.
	PositiveYieldingSelection InputSelectionStrategy = iota

	// ConstantSelection uses every candidate, including ones that cost
	// more in fees than they add.
	ConstantSelection
)

// SortLargestFirst orders credits by descending value, breaking ties by
// outpoint.
func SortLargestFirst(credits []Credit) {
	sort.SliceStable(credits, func(i, j int) bool {
		a, b := credits[i], credits[j]
		if a.Amount != b.Amount {
			return a.Amount > b.Amount
		}
		if a.OutPoint.Hash != b.OutPoint.Hash {
			return bytes.Compare(
				a.OutPoint.Hash[:], b.OutPoint.Hash[:],
			) < 0
		}
		return a.OutPoint.Index < b.OutPoint.Index
	})
}

// inputState holds the current state of the transaction including all inputs
// which were selected so far.
type inputState struct {
	// feeRatePerKb is the feerate which is used for fee calculation.
	feeRatePerKb btcutil.Amount

	// txFee is the fee of the current transaction state when serialized
	// in satoshis.
	txFee btcutil.Amount

	// inputTotal is the total value of all selected inputs.
	inputTotal btcutil.Amount

	// targetAmount is the amount we want to fund with the transaction
	// not including the change.
	targetAmount btcutil.Amount

	// allowChange is false when the transaction must not have a change
	// output, in which case any excess goes to the fee.
	allowChange bool

	// changeOutpoint is the change output of the transaction. This will
	// be what is left over after subtracting the targetAmount and the tx
	// fee from the inputTotal.
	//
	// NOTE: This (value) might be below the dust limit, or even negative
	// since it is the change remaining in case we pay the fee for a change
	// output.
	changeOutpoint wire.TxOut

	// inputs is the set of credits which will be used to create the
	// transaction. The previous output scripts tell the input types apart
	// for the size estimate.
	inputs []Credit

	// outputs are the outputs of the transaction not including the change.
	//
	// NOTE: This might also be empty in case we drain a wallet.
	outputs []*wire.TxOut

	// selectionStrategy determines which criteria is used to make the
	// input selection.
	selectionStrategy InputSelectionStrategy
}

// virtualSizeEstimate is the (worst case) tx size with the current set of
// inputs. It takes a parameter whether to add a change output or not.
func (t *inputState) virtualSizeEstimate(change bool) int {
	var (
		nested, p2wpkh, p2tr, p2pkh int
		changeScriptSize            int
	)
	if change {
		changeScriptSize = len(t.changeOutpoint.PkScript)
	}
	for _, input := range t.inputs {
		pkScript := input.PkScript
		switch {
		// If this is a p2sh output, we assume this is a
		// nested P2WKH.
		case txscript.IsPayToScriptHash(pkScript):
			nested++
		case txscript.IsPayToWitnessPubKeyHash(pkScript):
			p2wpkh++
		case txscript.IsPayToTaproot(pkScript):
			p2tr++
		default:
			p2pkh++
		}
	}

	return txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, t.outputs, changeScriptSize,
	)
}

// changeIsDust reports whether the current change would be below the dust
// limit, or whether change is not allowed at all.
func (t *inputState) changeIsDust() bool {
	if !t.allowChange {
		return true
	}

	return txrules.IsDustOutput(
		&t.changeOutpoint, txrules.DefaultRelayFeePerKb,
	)
}

// enoughInput returns true if we've accumulated enough inputs to pay the fees
// and have at least one output that meets the dust limit.
func (t *inputState) enoughInput() bool {
	// If we have a change output above dust, then we certainly have enough
	// inputs to the transaction.
	if len(t.inputs) > 0 && !t.changeIsDust() {
		return true
	}

	// We did not have enough input for a change output. Check if we have
	// enough input to pay the fees for a transaction with no change
	// output.
	t.txFee = txrules.FeeForSerializeSize(
		t.feeRatePerKb, t.virtualSizeEstimate(false),
	)

	if t.inputTotal < t.targetAmount+t.txFee {
		return false
	}

	// We still have to check whether we have an output when we could not
	// create change output.
	return len(t.outputs) > 0
}

// needed returns the amount the transaction needs at its current state.
func (t *inputState) needed() btcutil.Amount {
	fee := txrules.FeeForSerializeSize(
		t.feeRatePerKb, t.virtualSizeEstimate(false),
	)

	return t.targetAmount + fee
}

// clone copies the inputState.
func (t *inputState) clone() inputState {
	s := inputState{
		feeRatePerKb:      t.feeRatePerKb,
		txFee:             t.txFee,
		inputTotal:        t.inputTotal,
		allowChange:       t.allowChange,
		changeOutpoint:    t.changeOutpoint,
		selectionStrategy: t.selectionStrategy,
		targetAmount:      t.targetAmount,
		outputs:           make([]*wire.TxOut, len(t.outputs)),
		inputs:            make([]Credit, len(t.inputs)),
	}

	// we deepcopy outputs otherwise changing the clone would lead to
	// changing the initial state of the outputs.
	for idx, out := range t.outputs {
		cpy := *out
		s.outputs[idx] = &cpy
	}

	copy(s.inputs, t.inputs)

	return s
}

// totalOutput returns the total amount of the current tx selection meaning the
// sum of all outputs including the change output.
//
// NOTE: This might be dust or even negative when adding a negative yielding
// input.
func (t *inputState) totalOutput() btcutil.Amount {
	// When there are still no inputs added we default to a total amount
	// of 0 to bootstrap the tx selection process. Otherwise the addition
	// of inputs fail unless they overshoot the target amount. This happens
	// because the change output can be negative until the final target
	// amount is not met.
	if len(t.inputs) == 0 {
		return 0
	}

	return t.targetAmount + btcutil.Amount(t.changeOutpoint.Value)
}

// addToState adds new inputs to a copy of the state. It returns nil if the
// inputs decrease the tx output value after paying fees and the selection
// strategy rejects that.
func (t *inputState) addToState(checkYield bool,
	inputs ...Credit) *inputState {

	// Clone the current set state.
	tempInputState := t.clone()

	for _, input := range inputs {
		tempInputState.inputs = append(tempInputState.inputs, input)
		tempInputState.inputTotal += input.Amount
	}

	// Recalculate the tx fee.
	tempInputState.txFee = txrules.FeeForSerializeSize(
		tempInputState.feeRatePerKb,
		tempInputState.virtualSizeEstimate(t.allowChange),
	)

	tempInputState.changeOutpoint.Value = int64(tempInputState.inputTotal -
		tempInputState.targetAmount - tempInputState.txFee)

	// Calculate the yield of this input from the change in total tx output
	// value.
	inputYield := tempInputState.totalOutput() - t.totalOutput()
	if checkYield && t.selectionStrategy == PositiveYieldingSelection &&
		inputYield <= 0 {

		return nil
	}

	return &tempInputState
}

// add adds the inputs to the state, reporting false if they were rejected.
func (t *inputState) add(checkYield bool, inputs ...Credit) bool {
	newState := t.addToState(checkYield, inputs...)
	if newState == nil {
		return false
	}

	// We copy the contents of the new state to our main inputState.
	// just copying the pointer would lead to information loss.
	*t = newState.clone()
	return true
}

// insufficientFunds returns the error describing the current shortfall.
func (t *inputState) insufficientFunds() error {
	return &InsufficientFundsError{
		Needed:    t.needed(),
		Available: t.inputTotal,
	}
}
