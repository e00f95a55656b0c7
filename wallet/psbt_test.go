// Copyright (c) 2020-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestPsbtInputInfo checks the UTXO information attached to the inputs of a
// built transaction for every script type.
func TestPsbtInputInfo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		external      string
		nonWitness    bool
		witness       bool
		redeemScript  bool
		taproot       bool
		sigHashType   txscript.SigHashType
		derivationLen int
	}{{
		name:          "p2pkh",
		external:      "pkh(" + testTprv + "/44'/1'/0'/0/*)",
		nonWitness:    true,
		sigHashType:   txscript.SigHashAll,
		derivationLen: 5,
	}, {
		name:          "nested p2wpkh",
		external:      "sh(wpkh(" + testTprv + "/49'/1'/0'/0/*))",
		nonWitness:    true,
		witness:       true,
		redeemScript:  true,
		sigHashType:   txscript.SigHashAll,
		derivationLen: 5,
	}, {
		name:          "p2wpkh",
		external:      testExternal,
		nonWitness:    true,
		witness:       true,
		sigHashType:   txscript.SigHashAll,
		derivationLen: 5,
	}, {
		name:          "p2tr",
		external:      "tr(" + testTprv + "/86'/1'/0'/0/*)",
		witness:       true,
		taproot:       true,
		sigHashType:   txscript.SigHashDefault,
		derivationLen: 5,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			w, err := Create(testParams, test.external, "")
			require.NoError(t, err)
			funding := fundWallet(t, w, 100000, 1)

			packet, err := w.BuildTx().
				AddRecipient(foreignScript(t), 30000).Finish()
			require.NoError(t, err)
			require.NoError(t, packet.SanityCheck())

			in := packet.Inputs[0]
			require.Equal(t, test.nonWitness, in.NonWitnessUtxo != nil)
			require.Equal(t, test.witness, in.WitnessUtxo != nil)
			require.Equal(t, test.redeemScript, len(in.RedeemScript) > 0)
			require.Equal(t, test.taproot,
				len(in.TaprootInternalKey) > 0)
			require.Equal(t, test.sigHashType, in.SighashType)

			require.Len(t, in.Bip32Derivation, 1)
			path := in.Bip32Derivation[0].Bip32Path
			require.Len(t, path, test.derivationLen)

			prevOut, err := prevOutput(packet, 0)
			require.NoError(t, err)
			require.Equal(t, funding.TxOut[0], prevOut)

			// The packet survives serialization.
			var buf bytes.Buffer
			require.NoError(t, packet.Serialize(&buf))
			parsed, err := psbt.NewFromRawBytes(&buf, false)
			require.NoError(t, err)
			require.Equal(t, packet.UnsignedTx.TxHash(),
				parsed.UnsignedTx.TxHash())
		})
	}
}

// TestPrevOutput checks that mismatching parent transactions are rejected.
func TestPrevOutput(t *testing.T) {
	t.Parallel()

	parent := fundingTx(foreignScript(t), 1000, 1)
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: parent.TxHash()}, nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(500, foreignScript(t)))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	prevOut, err := prevOutput(packet, 0)
	require.NoError(t, err)
	require.Nil(t, prevOut)
	require.Nil(t, PsbtPrevOutputFetcher(packet).FetchPrevOutput(
		tx.TxIn[0].PreviousOutPoint,
	))

	packet.Inputs[0].WitnessUtxo = parent.TxOut[0]
	prevOut, err = prevOutput(packet, 0)
	require.NoError(t, err)
	require.Equal(t, parent.TxOut[0], prevOut)

	packet.Inputs[0].NonWitnessUtxo = parent
	prevOut, err = prevOutput(packet, 0)
	require.NoError(t, err)
	require.Equal(t, parent.TxOut[0], prevOut)

	packet.Inputs[0].NonWitnessUtxo = fundingTx(foreignScript(t), 1000, 2)
	_, err = prevOutput(packet, 0)
	require.Error(t, err)

	tx.TxIn[0].PreviousOutPoint = wire.OutPoint{
		Hash:  parent.TxHash(),
		Index: 3,
	}
	packet.Inputs[0].NonWitnessUtxo = parent
	_, err = prevOutput(packet, 0)
	require.Error(t, err)

	tx.TxIn[0].PreviousOutPoint = wire.OutPoint{Hash: chainhash.Hash{}}
	_, err = prevOutput(packet, 0)
	require.Error(t, err)
}
