// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"sort"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcwallet/wallet/txrules"
	"github.com/btcsuite/btcwallet/wallet/txsizes"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/wallet/txauthor"
)

const (
	// DefaultMaxFeeRate is the default maximum fee rate in sat/kvb that
	// the wallet will consider sane. This is currently set to 1000 sat/vb
	// (1,000,000 sat/kvb).
	DefaultMaxFeeRate SatPerKVByte = 1000 * 1000

	// MinRelayFeeRate is the lowest fee rate a transaction may be built
	// with.
	MinRelayFeeRate = SatPerKVByte(txrules.DefaultRelayFeePerKb)
)

// SatPerKVByte is a type that represents a fee rate in satoshis per
// kilo-virtual-byte. This is the standard unit for fee estimation in modern
// Bitcoin transactions that use SegWit.
type SatPerKVByte btcutil.Amount

// ChangeSpendPolicy restricts which outputs coin selection may pick by the
// keychain they were received on.
type ChangeSpendPolicy uint8

const (
	// ChangeAllowed lets coin selection pick any output.
	ChangeAllowed ChangeSpendPolicy = iota

	// OnlyChange restricts coin selection to internal keychain outputs.
	OnlyChange

	// NoChange keeps coin selection away from internal keychain outputs.
	NoChange
)

// TxBuilder collects the parameters of a new transaction. It is created with
// Wallet.BuildTx and turned into an unsigned PSBT with Finish.
type TxBuilder struct {
	w *Wallet

	recipients []*wire.TxOut
	feeRate    SatPerKVByte

	drainWallet bool
	drainTo     []byte

	mustUse     []wire.OutPoint
	unspendable []wire.OutPoint

	manuallySelectedOnly bool
	excludeUnconfirmed   bool
	changePolicy         ChangeSpendPolicy

	rbf      bool
	lockTime uint32
}

// BuildTx returns a builder for a transaction funded by the wallet.
func (w *Wallet) BuildTx() *TxBuilder {
	return &TxBuilder{
		w:       w,
		feeRate: MinRelayFeeRate,
	}
}

// AddRecipient adds an output paying amount to the script.
func (b *TxBuilder) AddRecipient(script []byte,
	amount btcutil.Amount) *TxBuilder {

	b.recipients = append(b.recipients, wire.NewTxOut(
		int64(amount), script,
	))
	return b
}

// FeeRate sets the fee rate of the transaction.
func (b *TxBuilder) FeeRate(rate SatPerKVByte) *TxBuilder {
	b.feeRate = rate
	return b
}

// DrainWallet spends every eligible output of the wallet.
func (b *TxBuilder) DrainWallet() *TxBuilder {
	b.drainWallet = true
	return b
}

// DrainTo sends whatever the recipients and the fee leave over to the
// script instead of a change address.
func (b *TxBuilder) DrainTo(script []byte) *TxBuilder {
	b.drainTo = script
	return b
}

// AddUtxos forces the outputs to be spent.
func (b *TxBuilder) AddUtxos(ops ...wire.OutPoint) *TxBuilder {
	b.mustUse = append(b.mustUse, ops...)
	return b
}

// AddUnspendable keeps coin selection away from the outputs.
func (b *TxBuilder) AddUnspendable(ops ...wire.OutPoint) *TxBuilder {
	b.unspendable = append(b.unspendable, ops...)
	return b
}

// ManuallySelectedOnly restricts the inputs to the ones given to AddUtxos.
func (b *TxBuilder) ManuallySelectedOnly() *TxBuilder {
	b.manuallySelectedOnly = true
	return b
}

// ExcludeUnconfirmed keeps coin selection away from unconfirmed outputs.
func (b *TxBuilder) ExcludeUnconfirmed() *TxBuilder {
	b.excludeUnconfirmed = true
	return b
}

// ChangePolicy sets which keychains coin selection may spend from.
func (b *TxBuilder) ChangePolicy(policy ChangeSpendPolicy) *TxBuilder {
	b.changePolicy = policy
	return b
}

// EnableRBF signals replaceability (BIP125) on every input.
func (b *TxBuilder) EnableRBF() *TxBuilder {
	b.rbf = true
	return b
}

// NLockTime sets the lock time of the transaction.
func (b *TxBuilder) NLockTime(lockTime uint32) *TxBuilder {
	b.lockTime = lockTime
	return b
}

// validate checks the parameters for contradictions. It runs before any
// state is read.
func (b *TxBuilder) validate() error {
	if len(b.recipients) == 0 && b.drainTo == nil {
		return invalidBuilder("no recipients and no drain target")
	}
	if b.drainTo != nil && !b.drainWallet && len(b.mustUse) == 0 {
		return invalidBuilder("drain target set without draining " +
			"the wallet or selecting utxos")
	}
	if b.manuallySelectedOnly && len(b.mustUse) == 0 {
		return invalidBuilder("manual selection without utxos")
	}

	for i, out := range b.recipients {
		if out.Value <= 0 {
			return invalidBuilder("recipient %d has no amount", i)
		}
		err := txrules.CheckOutput(out, txrules.DefaultRelayFeePerKb)
		if err != nil {
			return invalidBuilder("recipient %d: %v", i, err)
		}
	}

	if b.feeRate < MinRelayFeeRate {
		return invalidBuilder("fee rate %d sat/kvb below minimum "+
			"relay fee %d sat/kvb", b.feeRate, MinRelayFeeRate)
	}
	if b.feeRate > DefaultMaxFeeRate {
		return invalidBuilder("fee rate %d sat/kvb above maximum %d "+
			"sat/kvb", b.feeRate, DefaultMaxFeeRate)
	}

	unspendable := make(map[wire.OutPoint]struct{}, len(b.unspendable))
	for _, op := range b.unspendable {
		unspendable[op] = struct{}{}
	}
	for _, op := range b.mustUse {
		if _, ok := unspendable[op]; ok {
			return invalidBuilder("utxo %v is both required and "+
				"unspendable", op)
		}
	}

	return nil
}

// credit converts a wallet output into coin selection input.
func credit(utxo *Utxo) txauthor.Credit {
	return txauthor.Credit{
		OutPoint: utxo.OutPoint,
		Amount:   btcutil.Amount(utxo.TxOut.Value),
		PkScript: utxo.TxOut.PkScript,
	}
}

// Finish selects the inputs and returns the unsigned transaction as a PSBT
// carrying everything a signer needs.
//
// When a change output is created, its address is revealed on the internal
// keychain and marked used. Nothing else about the wallet changes.
func (b *TxBuilder) Finish() (*psbt.Packet, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}

	w := b.w
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.snap.Load()

	// Required outputs go first, in the given order.
	var (
		mustUse []txauthor.Credit
		chosen  = make(map[wire.OutPoint]struct{})
	)
	for _, op := range b.mustUse {
		if _, ok := chosen[op]; ok {
			continue
		}
		utxo, ok := s.unspent[op]
		if !ok {
			return nil, &UnknownOutpointError{OutPoint: op}
		}
		chosen[op] = struct{}{}
		mustUse = append(mustUse, credit(&utxo))
	}

	skip := make(map[wire.OutPoint]struct{}, len(b.unspendable))
	for _, op := range b.unspendable {
		if _, ok := s.unspent[op]; !ok {
			log.Debugf("Ignoring unknown unspendable outpoint %v",
				op)
			continue
		}
		skip[op] = struct{}{}
	}

	var candidates []txauthor.Credit
	if !b.manuallySelectedOnly {
		for i := range s.outputs {
			utxo := &s.outputs[i]
			if utxo.SpentBy.IsSome() {
				continue
			}
			if _, ok := chosen[utxo.OutPoint]; ok {
				continue
			}
			if _, ok := skip[utxo.OutPoint]; ok {
				continue
			}
			if !b.eligible(utxo, s) {
				continue
			}
			candidates = append(candidates, credit(utxo))
		}
		txauthor.SortLargestFirst(candidates)
	}

	strategy := txauthor.PositiveYieldingSelection
	if b.drainWallet {
		strategy = txauthor.ConstantSelection
	}
	if b.drainTo != nil && !b.drainWallet {
		candidates = nil
		strategy = txauthor.ConstantSelection
	}

	// The change address comes from a copy of the key ring, so that the
	// wallet only reveals it if the change output survives.
	var (
		changeRing   = w.keyRing.Clone()
		changeInfo   keyring.AddressInfo
		changeReveal keyring.ChangeSet
		changeScript = b.drainTo
	)
	if changeScript == nil {
		var err error
		changeInfo, changeReveal, err = changeRing.NextUnusedAddress(
			keyring.Internal,
		)
		if err != nil {
			return nil, err
		}
		changeScript, err = txscript.PayToAddrScript(changeInfo.Address)
		if err != nil {
			return nil, err
		}
	}

	changeSource := &txauthor.ChangeSource{
		NewScript: func() ([]byte, error) {
			return changeScript, nil
		},
		ScriptSize: len(changeScript),
	}

	authored, err := txauthor.NewUnsignedTransaction(
		b.recipients, btcutil.Amount(b.feeRate), mustUse, candidates,
		strategy, changeSource,
	)
	if err != nil {
		return nil, err
	}

	// A drain output below the dust limit leaves nothing to drain.
	if b.drainTo != nil && authored.ChangeIndex < 0 {
		return nil, b.drainShortfall(authored)
	}

	tx := authored.Tx
	tx.LockTime = b.lockTime
	for _, txIn := range tx.TxIn {
		switch {
		case b.rbf:
			txIn.Sequence = wire.MaxTxInSequenceNum - 2
		case b.lockTime != 0:
			txIn.Sequence = wire.MaxTxInSequenceNum - 1
		}
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, err
	}

	for i, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		utxo := s.unspent[op]
		err := addInputInfo(
			&packet.Inputs[i], w.graph.GetTx(op.Hash), &utxo,
			s.keyRing,
		)
		if err != nil {
			return nil, err
		}
	}

	for i, txOut := range tx.TxOut {
		k, index, ok := changeRing.IndexOfScript(txOut.PkScript)
		if !ok {
			continue
		}
		out, err := createOutputInfo(txOut, k, index, changeRing)
		if err != nil {
			return nil, err
		}
		packet.Outputs[i] = *out
	}

	if authored.ChangeIndex >= 0 && b.drainTo == nil {
		if err := w.keyRing.ApplyChangeSet(changeReveal); err != nil {
			return nil, err
		}
		w.keyRing.MarkUsed(changeInfo.Keychain, changeInfo.Index)

		cs := NewChangeSet()
		cs.Indexer = changeReveal
		w.stageChanges(cs)
		w.publish()
	}

	log.Debugf("Built transaction %v spending %d %s with fee %v",
		tx.TxHash(), len(tx.TxIn), pickNoun(len(tx.TxIn), "input",
			"inputs"), authored.Fee)

	return packet, nil
}

// eligible reports whether coin selection may pick the output on its own.
func (b *TxBuilder) eligible(utxo *Utxo, s *snapshot) bool {
	if !utxo.IsMature(s.tip.Height(), b.w.params.CoinbaseMaturity) {
		return false
	}

	switch b.changePolicy {
	case OnlyChange:
		if utxo.Keychain != keyring.Internal {
			return false
		}
	case NoChange:
		if utxo.Keychain == keyring.Internal {
			return false
		}
	}

	if utxo.Position.Confirmed {
		return true
	}
	if b.excludeUnconfirmed {
		return false
	}

	return isTrusted(utxo)
}

// drainShortfall returns the error for a drain whose output would be dust.
func (b *TxBuilder) drainShortfall(authored *txauthor.AuthoredTx) error {
	var nested, p2wpkh, p2tr, p2pkh int
	for _, script := range authored.PrevScripts {
		switch {
		case txscript.IsPayToScriptHash(script):
			nested++
		case txscript.IsPayToWitnessPubKeyHash(script):
			p2wpkh++
		case txscript.IsPayToTaproot(script):
			p2tr++
		default:
			p2pkh++
		}
	}

	vsize := txsizes.EstimateVirtualSize(
		p2pkh, p2tr, p2wpkh, nested, b.recipients, len(b.drainTo),
	)
	fee := txrules.FeeForSerializeSize(btcutil.Amount(b.feeRate), vsize)
	dust := dustLimit(b.drainTo)

	return &txauthor.InsufficientFundsError{
		Needed:    txauthor.SumOutputValues(b.recipients) + fee + dust,
		Available: authored.TotalInput,
	}
}

// dustLimit returns the smallest value an output paying to the script can
// carry without being dust under the default relay fee.
func dustLimit(script []byte) btcutil.Amount {
	limit := sort.Search(int(btcutil.MaxSatoshi), func(value int) bool {
		return !txrules.IsDustOutput(
			wire.NewTxOut(int64(value), script),
			txrules.DefaultRelayFeePerKb,
		)
	})

	return btcutil.Amount(limit)
}
