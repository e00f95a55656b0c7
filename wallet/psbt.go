// Copyright (c) 2020-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keyring"
)

// derivationInfo returns the BIP32 derivation of the key at the keychain
// index together with the script type of its descriptor.
func derivationInfo(keyRing *keyring.KeyRing, k keyring.KeychainKind,
	index uint32) (*psbt.Bip32Derivation, descriptor.ScriptType, error) {

	desc := keyRing.Descriptor(k)
	key, err := desc.Derive(index)
	if err != nil {
		return nil, 0, err
	}

	return &psbt.Bip32Derivation{
		PubKey:               key.PubKey.SerializeCompressed(),
		MasterKeyFingerprint: key.Origin.FingerprintUint32(),
		Bip32Path:            key.Origin.Path,
	}, desc.ScriptType(), nil
}

// addInputInfo adds the UTXO and BIP32 derivation info of a wallet output
// to the PSBT input spending it. prevTx may be nil if the wallet does not
// hold the parent transaction.
func addInputInfo(in *psbt.PInput, prevTx *wire.MsgTx, utxo *Utxo,
	keyRing *keyring.KeyRing) error {

	derivation, scriptType, err := derivationInfo(
		keyRing, utxo.Keychain, utxo.Index,
	)
	if err != nil {
		return fmt.Errorf("unable to derive key of %v: %w",
			utxo.OutPoint, err)
	}

	switch scriptType {
	case descriptor.TR:
		addInputInfoSegWitV1(in, utxo.TxOut, derivation)

	case descriptor.PKH:
		if prevTx == nil {
			return fmt.Errorf("parent of legacy input %v is "+
				"unknown", utxo.OutPoint)
		}
		in.NonWitnessUtxo = prevTx
		in.SighashType = txscript.SigHashAll
		in.Bip32Derivation = []*psbt.Bip32Derivation{derivation}

	default:
		redeemScript, err := keyRing.Descriptor(utxo.Keychain).
			RedeemScript(utxo.Index)
		if err != nil {
			return err
		}
		addInputInfoSegWitV0(
			in, prevTx, utxo.TxOut, derivation, redeemScript,
		)
	}

	return nil
}

// addInputInfoSegWitV0 adds the UTXO and BIP32 derivation info for a SegWit
// v0 PSBT input (p2wkh, np2wkh).
func addInputInfoSegWitV0(in *psbt.PInput, prevTx *wire.MsgTx,
	utxo *wire.TxOut, derivation *psbt.Bip32Derivation,
	redeemScript []byte) {

	// As a fix for CVE-2020-14199 the full non-witness UTXO is included
	// whenever the wallet has it.
	in.NonWitnessUtxo = prevTx

	in.WitnessUtxo = &wire.TxOut{
		Value:    utxo.Value,
		PkScript: utxo.PkScript,
	}
	in.SighashType = txscript.SigHashAll
	in.Bip32Derivation = []*psbt.Bip32Derivation{derivation}

	// Nested P2WKH needs the redeem script, otherwise an offline signer
	// can't sign for it. For native P2WKH this is nil.
	in.RedeemScript = redeemScript
}

// addInputInfoSegWitV1 adds the UTXO and BIP32 derivation info for a SegWit
// v1 PSBT input (p2tr).
func addInputInfoSegWitV1(in *psbt.PInput, utxo *wire.TxOut,
	derivation *psbt.Bip32Derivation) {

	// For SegWit v1 we only need the witness UTXO information.
	in.WitnessUtxo = &wire.TxOut{
		Value:    utxo.Value,
		PkScript: utxo.PkScript,
	}
	in.SighashType = txscript.SigHashDefault

	in.Bip32Derivation = []*psbt.Bip32Derivation{derivation}

	xOnly := derivation.PubKey[1:]
	in.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
		XOnlyPubKey:          xOnly,
		MasterKeyFingerprint: derivation.MasterKeyFingerprint,
		Bip32Path:            derivation.Bip32Path,
	}}
	in.TaprootInternalKey = xOnly
}

// createOutputInfo creates the BIP32 derivation info for an output paying to
// the wallet.
func createOutputInfo(txOut *wire.TxOut, k keyring.KeychainKind,
	index uint32, keyRing *keyring.KeyRing) (*psbt.POutput, error) {

	derivation, scriptType, err := derivationInfo(keyRing, k, index)
	if err != nil {
		return nil, err
	}

	out := &psbt.POutput{
		Bip32Derivation: []*psbt.Bip32Derivation{derivation},
	}

	// Include the Taproot derivation path as well if this is a P2TR output.
	if scriptType == descriptor.TR &&
		txscript.IsPayToTaproot(txOut.PkScript) {

		schnorrPubKey := derivation.PubKey[1:]
		out.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
			XOnlyPubKey:          schnorrPubKey,
			MasterKeyFingerprint: derivation.MasterKeyFingerprint,
			Bip32Path:            derivation.Bip32Path,
		}}
		out.TaprootInternalKey = schnorrPubKey
	}

	return out, nil
}

// prevOutput returns the output spent by the input at index i, taken from
// its non-witness UTXO if present and otherwise from its witness UTXO. It
// returns nil if the input carries neither.
func prevOutput(packet *psbt.Packet, i int) (*wire.TxOut, error) {
	in := &packet.Inputs[i]
	op := packet.UnsignedTx.TxIn[i].PreviousOutPoint

	if in.NonWitnessUtxo != nil {
		if in.NonWitnessUtxo.TxHash() != op.Hash {
			return nil, fmt.Errorf("input %d: non-witness utxo "+
				"is not the parent of %v", i, op)
		}
		if op.Index >= uint32(len(in.NonWitnessUtxo.TxOut)) {
			return nil, fmt.Errorf("input %d: non-witness utxo "+
				"has no output %d", i, op.Index)
		}

		return in.NonWitnessUtxo.TxOut[op.Index], nil
	}

	return in.WitnessUtxo, nil
}

// PsbtPrevOutputFetcher returns a txscript.PrevOutFetcher built from the UTXO
// information in a PSBT packet. Inputs without valid UTXO information are
// left out.
func PsbtPrevOutputFetcher(packet *psbt.Packet) *txscript.MultiPrevOutFetcher {
	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for idx, txIn := range packet.UnsignedTx.TxIn {
		prevOut, err := prevOutput(packet, idx)
		if err != nil || prevOut == nil {
			continue
		}
		fetcher.AddPrevOut(txIn.PreviousOutPoint, prevOut)
	}

	return fetcher
}

// ExtractTx returns the final transaction of a fully signed and finalized
// packet.
func ExtractTx(packet *psbt.Packet) (*wire.MsgTx, error) {
	return psbt.Extract(packet)
}
