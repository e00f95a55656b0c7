// Copyright (c) 2016-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txauthor provides transaction creation code for wallets.
package txauthor

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
)

// ErrNoOutputs is returned when neither recipients nor a change output
// would be present in the transaction.
var ErrNoOutputs = errors.New("transaction has no outputs")

// SumOutputValues sums up the list of TxOuts and returns an Amount.
func SumOutputValues(outputs []*wire.TxOut) (totalOutput btcutil.Amount) {
	for _, txOut := range outputs {
		totalOutput += btcutil.Amount(txOut.Value)
	}
	return totalOutput
}

// AuthoredTx holds the state of a newly-created transaction and the change
// output (if one was added).
type AuthoredTx struct {
	Tx              *wire.MsgTx
	PrevScripts     [][]byte
	PrevInputValues []btcutil.Amount
	TotalInput      btcutil.Amount
	ChangeIndex     int // negative if no change
	Fee             btcutil.Amount
}

// ChangeSource provides change output scripts for transaction creation.
type ChangeSource struct {
	// NewScript is a closure that produces unique change output scripts per
	// invocation.
	NewScript func() ([]byte, error)

	// ScriptSize is the size in bytes of scripts produced by `NewScript`.
	ScriptSize int
}

// NewUnsignedTransaction creates an unsigned transaction paying to zero or
// more non-change outputs. An appropriate transaction fee is included based
// on the estimated virtual size.
//
// The mustUse credits are always spent, whatever their yield. The remaining
// candidates are added depending on the input selection strategy, in the
// order given. Callers wanting largest-first selection sort the candidates
// with SortLargestFirst beforehand.
//
// When the inputs overshoot the outputs and the fee, a change output paying
// to the change source is appended. Change below the dust limit is left to
// the fee instead. A nil change source forbids change, so any excess goes to
// the fee as well.
//
// If the inputs were unable to provide enough value to pay for every output
// and any necessary fees, an *InsufficientFundsError is returned.
//
// BUGS: Fee estimation is off when redeeming inputs from a uncompressed P2PKH.
// Because one cannot evaluate whether an uncompressed or compressed public
// key was used in the P2PKH output before knowing the ScriptSig.
// We use the compressed format to estimate P2PKH inputs because uncompressed
// public keys are very rare which would lead to overpaying fees most of the
// time.
func NewUnsignedTransaction(outputs []*wire.TxOut, feeRatePerKb btcutil.Amount,
	mustUse, candidates []Credit, selectionStrategy InputSelectionStrategy,
	changeSource *ChangeSource) (*AuthoredTx, error) {

	var changeScript []byte
	if changeSource != nil {
		var err error
		changeScript, err = changeSource.NewScript()
		if err != nil {
			return nil, err
		}
	}

	if len(outputs) == 0 && changeSource == nil {
		return nil, ErrNoOutputs
	}

	inputState := inputState{
		feeRatePerKb:      feeRatePerKb,
		targetAmount:      SumOutputValues(outputs),
		allowChange:       changeSource != nil,
		outputs:           outputs,
		selectionStrategy: selectionStrategy,
		changeOutpoint: wire.TxOut{
			PkScript: changeScript,
		},
	}

	if len(mustUse) > 0 {
		inputState.add(false, mustUse...)
	}

	switch selectionStrategy {
	case PositiveYieldingSelection:
		// We look through all our inputs and add an input until
		// the amount is enough to pay the target amount and the
		// transaction fees.
		for _, input := range candidates {
			if inputState.enoughInput() {
				// We stop considering inputs when the input
				// amount is enough to fund the transaction.
				break
			}

			// In case adding a new input fails in the positive
			// yielding strategy we fail quickly because all follow
			// up inputs will be negative yielding too.
			if !inputState.add(true, input) {
				return nil, inputState.insufficientFunds()
			}
		}

	case ConstantSelection:
		// In case of a constant selection all inputs are added
		// although they might be negative yielding so we do not
		// check for the return value.
		if len(candidates) > 0 {
			inputState.add(false, candidates...)
		}
	}

	// This check is needed to make sure our input amount suffice
	// after considering all eligible inputs.
	if !inputState.enoughInput() {
		return nil, inputState.insufficientFunds()
	}

	// We need the inputs in the right format.
	numberInputs := len(inputState.inputs)
	txIn := make([]*wire.TxIn, 0, numberInputs)
	inputValues := make([]btcutil.Amount, 0, numberInputs)
	scripts := make([][]byte, 0, numberInputs)

	for _, input := range inputState.inputs {
		txIn = append(txIn, wire.NewTxIn(&input.OutPoint, nil, nil))
		inputValues = append(inputValues, input.Amount)
		scripts = append(scripts, input.PkScript)
	}

	l := len(outputs)
	unsignedTransaction := &wire.MsgTx{
		Version:  wire.TxVersion,
		TxIn:     txIn,
		TxOut:    outputs[:l:l],
		LockTime: 0,
	}

	// Default is no change output. We check if changeOutpoint in the
	// input state is above dust, and add the change output to the
	// transaction.
	changeIndex := -1
	if !inputState.changeIsDust() {
		change := inputState.changeOutpoint
		unsignedTransaction.TxOut = append(
			unsignedTransaction.TxOut, &change,
		)
		changeIndex = l
	}

	fee := inputState.inputTotal - SumOutputValues(unsignedTransaction.TxOut)
	if changeIndex < 0 && fee > inputState.txFee {
		log.Debugf("Dropping %v of dust change into the fee",
			fee-inputState.txFee)
	}

	return &AuthoredTx{
		Tx:              unsignedTransaction,
		PrevScripts:     scripts,
		PrevInputValues: inputValues,
		TotalInput:      inputState.inputTotal,
		ChangeIndex:     changeIndex,
		Fee:             fee,
	}, nil
}

// CheckOutputs validates every output against the dust and amount rules at
// the given relay fee.
func CheckOutputs(outputs []*wire.TxOut, relayFeePerKb btcutil.Amount) error {
	for _, out := range outputs {
		if err := txrules.CheckOutput(out, relayFeePerKb); err != nil {
			return err
		}
	}
	return nil
}

// TXPrevOutFetcher creates a txscript.PrevOutFetcher from a given slice of
// previous pk scripts and input values.
func TXPrevOutFetcher(tx *wire.MsgTx, prevPkScripts [][]byte,
	inputValues []btcutil.Amount) (*txscript.MultiPrevOutFetcher, error) {

	if len(tx.TxIn) != len(prevPkScripts) {
		return nil, errors.New("tx.TxIn and prevPkScripts slices " +
			"must have equal length")
	}
	if len(tx.TxIn) != len(inputValues) {
		return nil, errors.New("tx.TxIn and inputValues slices " +
			"must have equal length")
	}

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txin := range tx.TxIn {
		fetcher.AddPrevOut(txin.PreviousOutPoint, &wire.TxOut{
			Value:    int64(inputValues[idx]),
			PkScript: prevPkScripts[idx],
		})
	}

	return fetcher, nil
}
