// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// SignOptions tunes Wallet.Sign.
type SignOptions struct {
	// TrustWitnessUtxo allows signing segwit v0 inputs that only carry
	// a witness UTXO. Their amount can't be verified without the parent
	// transaction.
	TrustWitnessUtxo bool

	// SigHashType overrides the sighash type of every signed input.
	SigHashType fn.Option[txscript.SigHashType]

	// TryFinalize finalizes every input that has all signatures after
	// signing.
	TryFinalize bool
}

// DefaultSignOptions returns the options Sign is usually called with.
func DefaultSignOptions() SignOptions {
	return SignOptions{
		TryFinalize: true,
	}
}

// isFinalized reports whether the input already carries its final scripts.
func isFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// Sign adds the wallet's signatures to every input it owns and returns
// whether the packet is complete. Inputs the wallet does not own and inputs
// that are final already are left alone, so signing twice has no effect.
//
// Signing an owned input with a watch-only descriptor fails with a
// *MissingPrivateKeyError.
func (w *Wallet) Sign(packet *psbt.Packet, opts SignOptions) (bool, error) {
	keyRing := w.snap.Load().keyRing
	tx := packet.UnsignedTx

	if len(packet.Inputs) != len(tx.TxIn) {
		return false, fmt.Errorf("packet has %d inputs for %d "+
			"transaction inputs", len(packet.Inputs), len(tx.TxIn))
	}

	// Every input needs a previous output for the sighash midstate.
	// Placeholders for unknown ones are only good enough for segwit v0.
	fetcher := PsbtPrevOutputFetcher(packet)
	var incomplete bool
	for _, txIn := range tx.TxIn {
		if fetcher.FetchPrevOutput(txIn.PreviousOutPoint) == nil {
			fetcher.AddPrevOut(txIn.PreviousOutPoint, &wire.TxOut{})
			incomplete = true
		}
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return false, err
	}

	for i := range packet.Inputs {
		in := &packet.Inputs[i]
		if isFinalized(in) {
			continue
		}

		prevOut, err := prevOutput(packet, i)
		if err != nil {
			return false, err
		}
		if prevOut == nil {
			continue
		}

		k, index, ok := keyRing.IndexOfScript(prevOut.PkScript)
		if !ok {
			continue
		}

		desc := keyRing.Descriptor(k)
		signer := &inputSigner{
			updater:    updater,
			index:      i,
			prevOut:    prevOut,
			sigHashes:  sigHashes,
			incomplete: incomplete,
		}
		if err := signer.sign(desc, k, index, opts); err != nil {
			return false, err
		}

		if !opts.TryFinalize {
			continue
		}
		_, err = psbt.MaybeFinalize(packet, i)
		switch {
		case err == nil:
		case errors.Is(err, psbt.ErrNotFinalizable):
			log.Debugf("Input %d of %v is not finalizable yet", i,
				tx.TxHash())
		default:
			return false, fmt.Errorf("unable to finalize input "+
				"%d: %w", i, err)
		}
	}

	return packet.IsComplete(), nil
}

// inputSigner signs a single PSBT input.
type inputSigner struct {
	updater    *psbt.Updater
	index      int
	prevOut    *wire.TxOut
	sigHashes  *txscript.TxSigHashes
	incomplete bool
}

func (s *inputSigner) input() *psbt.PInput {
	return &s.updater.Upsbt.Inputs[s.index]
}

// hashType returns the sighash type to sign with: the override, else what
// the input requests, else the default of the script type.
func (s *inputSigner) hashType(scriptType descriptor.ScriptType,
	opts SignOptions) txscript.SigHashType {

	hashType := txscript.SigHashAll
	if scriptType == descriptor.TR {
		hashType = txscript.SigHashDefault
	}
	if requested := s.input().SighashType; requested != 0 {
		hashType = requested
	}

	return opts.SigHashType.UnwrapOr(hashType)
}

// hasSigFrom reports whether the input was signed with the public key.
func (s *inputSigner) hasSigFrom(pubKey *btcec.PublicKey) bool {
	serialized := pubKey.SerializeCompressed()
	for _, sig := range s.input().PartialSigs {
		if bytes.Equal(sig.PubKey, serialized) {
			return true
		}
	}

	return false
}

func (s *inputSigner) sign(desc *descriptor.Descriptor,
	k keyring.KeychainKind, index uint32, opts SignOptions) error {

	in := s.input()
	scriptType := desc.ScriptType()

	switch scriptType {
	case descriptor.PKH:
		if in.NonWitnessUtxo == nil {
			return ErrMissingNonWitnessUtxo
		}

	case descriptor.SHWPKH, descriptor.WPKH:
		if in.NonWitnessUtxo == nil && !opts.TrustWitnessUtxo {
			return ErrMissingNonWitnessUtxo
		}

	case descriptor.TR:
		if len(in.TaprootKeySpendSig) > 0 {
			return nil
		}
		if s.incomplete {
			return fmt.Errorf("input %d: taproot signing needs "+
				"every previous output", s.index)
		}
	}

	key, err := desc.Derive(index)
	if err != nil {
		return err
	}
	if scriptType != descriptor.TR && s.hasSigFrom(key.PubKey) {
		return nil
	}

	privKey, err := key.PrivKey()
	if err != nil {
		return &MissingPrivateKeyError{
			Keychain: k,
			Index:    index,
			Err:      err,
		}
	}
	defer privKey.Zero()

	hashType := s.hashType(scriptType, opts)
	if opts.SigHashType.IsSome() && hashType != txscript.SigHashDefault {
		err := s.updater.AddInSighashType(hashType, s.index)
		if err != nil {
			return err
		}
	}

	tx := s.updater.Upsbt.UnsignedTx
	pubKey := key.PubKey.SerializeCompressed()

	switch scriptType {
	case descriptor.PKH:
		sig, err := txscript.RawTxInSignature(
			tx, s.index, s.prevOut.PkScript, hashType, privKey,
		)
		if err != nil {
			return err
		}
		_, err = s.updater.Sign(s.index, sig, pubKey, nil, nil)
		return err

	case descriptor.SHWPKH:
		redeemScript, err := desc.RedeemScript(index)
		if err != nil {
			return err
		}
		sig, err := txscript.RawTxInWitnessSignature(
			tx, s.sigHashes, s.index, s.prevOut.Value,
			redeemScript, hashType, privKey,
		)
		if err != nil {
			return err
		}
		_, err = s.updater.Sign(
			s.index, sig, pubKey, redeemScript, nil,
		)
		return err

	case descriptor.WPKH:
		sig, err := txscript.RawTxInWitnessSignature(
			tx, s.sigHashes, s.index, s.prevOut.Value,
			s.prevOut.PkScript, hashType, privKey,
		)
		if err != nil {
			return err
		}
		_, err = s.updater.Sign(s.index, sig, pubKey, nil, nil)
		return err

	case descriptor.TR:
		// A nil script root applies the BIP86 tweak.
		sig, err := txscript.RawTxInTaprootSignature(
			tx, s.sigHashes, s.index, s.prevOut.Value,
			s.prevOut.PkScript, nil, hashType, privKey,
		)
		if err != nil {
			return err
		}
		in.TaprootKeySpendSig = sig
		return nil
	}

	return fmt.Errorf("unsupported script type %v", scriptType)
}
