// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txgraph

import (
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChainPosition is where a canonical transaction sits relative to the best
// chain: confirmed at an anchor, or unconfirmed.
type ChainPosition struct {
	// Confirmed is true when the transaction is in the best chain.
	Confirmed bool

	// Anchor is the block confirming the transaction. Only set for
	// confirmed transactions.
	Anchor Anchor

	// Transitive is set when the transaction has no anchor of its own in
	// the best chain and is confirmed because the named descendant is.
	Transitive fn.Option[chainhash.Hash]

	// LastSeen is when an unconfirmed transaction was last seen.
	LastSeen fn.Option[uint64]
}

// NewConfirmed returns a confirmed position.
func NewConfirmed(anchor Anchor,
	transitive fn.Option[chainhash.Hash]) ChainPosition {

	return ChainPosition{
		Confirmed:  true,
		Anchor:     anchor,
		Transitive: transitive,
	}
}

// NewUnconfirmed returns an unconfirmed position.
func NewUnconfirmed(lastSeen fn.Option[uint64]) ChainPosition {
	return ChainPosition{LastSeen: lastSeen}
}

// ConfirmationHeight returns the height of the confirming block, if any.
func (p ChainPosition) ConfirmationHeight() fn.Option[uint32] {
	if !p.Confirmed {
		return fn.None[uint32]()
	}

	return fn.Some(p.Anchor.Block.Height)
}

// Less orders confirmed positions before unconfirmed ones, confirmed by
// anchor and unconfirmed by last seen, with no sighting first.
func (p ChainPosition) Less(other ChainPosition) bool {
	switch {
	case p.Confirmed != other.Confirmed:
		return p.Confirmed

	case p.Confirmed:
		return anchorLess(p.Anchor, other.Anchor)
	}

	a, b := p.LastSeen, other.LastSeen
	if a.IsNone() || b.IsNone() {
		return a.IsNone() && b.IsSome()
	}

	return a.UnsafeFromSome() < b.UnsafeFromSome()
}

// CanonicalTx is a transaction of the canonical history.
type CanonicalTx struct {
	Txid     chainhash.Hash
	Tx       *wire.MsgTx
	Position ChainPosition
}

// FullTxOut is a canonical output owned by a keychain.
type FullTxOut struct {
	OutPoint   wire.OutPoint
	TxOut      *wire.TxOut
	Position   ChainPosition
	SpentBy    fn.Option[chainhash.Hash]
	IsCoinbase bool
	Keychain   keyring.KeychainKind
	Index      uint32
}

// IsMature reports whether the output can be spent at the given tip. Only
// coinbase outputs mature; they need coinbaseMaturity confirmations.
func (o *FullTxOut) IsMature(tipHeight uint32, coinbaseMaturity uint16) bool {
	if !o.IsCoinbase {
		return true
	}
	if !o.Position.Confirmed {
		return false
	}

	height := o.Position.Anchor.Block.Height
	if height > tipHeight {
		return false
	}

	return tipHeight-height+1 >= uint32(coinbaseMaturity)
}

// OutputIndexer resolves scripts to the keychain index that derived them.
type OutputIndexer interface {
	IndexOfScript(script []byte) (keyring.KeychainKind, uint32, bool)
}

// Balance splits the value of the unspent outputs by spendability.
type Balance struct {
	// Immature is the value of coinbase outputs that have not reached
	// maturity.
	Immature btcutil.Amount

	// TrustedPending is unconfirmed value the wallet sent to itself.
	TrustedPending btcutil.Amount

	// UntrustedPending is unconfirmed value received from others.
	UntrustedPending btcutil.Amount

	// Confirmed is spendable confirmed value.
	Confirmed btcutil.Amount
}

// TrustedSpendable returns the value that can be spent without relying on a
// third party.
func (b Balance) TrustedSpendable() btcutil.Amount {
	return b.Confirmed + b.TrustedPending
}

// Total returns the sum of all categories.
func (b Balance) Total() btcutil.Amount {
	return b.Immature + b.TrustedPending + b.UntrustedPending +
		b.Confirmed
}

// CanonicalView is the conflict free history of a graph at a chain tip. It
// is immutable.
type CanonicalView struct {
	tip   localchain.BlockID
	txs   map[chainhash.Hash]*CanonicalTx
	order []*CanonicalTx

	// spends maps outpoints to the canonical transaction spending them.
	spends map[wire.OutPoint]chainhash.Hash
}

// Canonicalize resolves the graph into its canonical history against the
// chain ending at tip.
//
// Transactions anchored in the chain are confirmed at their lowest such
// anchor, and their in-graph ancestors are confirmed with them. Every other
// transaction is considered unconfirmed in order of most recent sighting,
// txid breaking ties, and is accepted only if neither it nor an unconfirmed
// ancestor double spends an output already spent by an accepted one. The
// rejected transactions and their descendants are left out.
func (g *TxGraph) Canonicalize(oracle localchain.ChainOracle,
	tip localchain.BlockID) *CanonicalView {

	view := &CanonicalView{
		tip:    tip,
		txs:    make(map[chainhash.Hash]*CanonicalTx),
		spends: make(map[wire.OutPoint]chainhash.Hash),
	}

	accept := func(txid chainhash.Hash, pos ChainPosition) {
		tx := g.txs[txid]
		view.txs[txid] = &CanonicalTx{
			Txid:     txid,
			Tx:       tx,
			Position: pos,
		}
		for _, txIn := range tx.TxIn {
			if !isCoinbaseInput(txIn.PreviousOutPoint) {
				view.spends[txIn.PreviousOutPoint] = txid
			}
		}
	}

	// Directly anchored transactions.
	var anchored []*CanonicalTx
	for txid := range g.txs {
		for _, anchor := range g.Anchors(txid) {
			inChain := oracle.IsBlockInChain(anchor.Block, tip)
			if !inChain.UnwrapOr(false) {
				continue
			}
			pos := NewConfirmed(anchor, fn.None[chainhash.Hash]())
			accept(txid, pos)
			anchored = append(anchored, view.txs[txid])
			break
		}
	}
	sort.Slice(anchored, func(i, j int) bool {
		return canonicalLess(anchored[i], anchored[j])
	})

	// Ancestors of confirmed transactions are confirmed no later than
	// their lowest confirmed descendant.
	for _, ctx := range anchored {
		stack := g.parents(ctx.Tx)
		for len(stack) > 0 {
			parent := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if _, ok := view.txs[parent]; ok {
				continue
			}

			accept(parent, NewConfirmed(
				ctx.Position.Anchor, fn.Some(ctx.Txid),
			))
			stack = append(stack, g.parents(g.txs[parent])...)
		}
	}

	// Unconfirmed candidates, most recently seen first.
	var candidates []chainhash.Hash
	for txid := range g.txs {
		if _, ok := view.txs[txid]; !ok {
			candidates = append(candidates, txid)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a := g.LastSeen(candidates[i])
		b := g.LastSeen(candidates[j])
		if a != b {
			return NewUnconfirmed(b).Less(NewUnconfirmed(a))
		}
		return hashLess(candidates[i], candidates[j])
	})

	rejected := make(map[chainhash.Hash]struct{})
	for _, txid := range candidates {
		if _, ok := view.txs[txid]; ok {
			continue
		}

		group, ok := g.unconfirmedGroup(txid, view, rejected)
		if !ok {
			rejected[txid] = struct{}{}
			log.Debugf("Transaction %v conflicts with the canonical "+
				"history", txid)
			continue
		}
		for _, member := range group {
			accept(member, NewUnconfirmed(g.LastSeen(member)))
		}
	}

	view.order = make([]*CanonicalTx, 0, len(view.txs))
	for _, ctx := range view.txs {
		view.order = append(view.order, ctx)
	}
	sort.Slice(view.order, func(i, j int) bool {
		return canonicalLess(view.order[i], view.order[j])
	})

	return view
}

// unconfirmedGroup collects txid and its in-graph ancestors that are not yet
// canonical. It reports false if any of them was rejected before or spends
// an output that is already spent, whether by the canonical history or
// within the group.
func (g *TxGraph) unconfirmedGroup(txid chainhash.Hash, view *CanonicalView,
	rejected map[chainhash.Hash]struct{}) ([]chainhash.Hash, bool) {

	var group []chainhash.Hash
	visited := make(map[chainhash.Hash]struct{})
	claims := make(map[wire.OutPoint]chainhash.Hash)

	stack := []chainhash.Hash{txid}
	for len(stack) > 0 {
		member := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, ok := visited[member]; ok {
			continue
		}
		visited[member] = struct{}{}

		if _, ok := view.txs[member]; ok {
			continue
		}
		if _, ok := rejected[member]; ok {
			return nil, false
		}

		tx := g.txs[member]
		for _, txIn := range tx.TxIn {
			op := txIn.PreviousOutPoint
			if isCoinbaseInput(op) {
				continue
			}
			if spender, ok := view.spends[op]; ok && spender != member {
				return nil, false
			}
			if spender, ok := claims[op]; ok && spender != member {
				return nil, false
			}
			claims[op] = member
		}

		group = append(group, member)
		stack = append(stack, g.parents(tx)...)
	}

	return group, true
}

func canonicalLess(a, b *CanonicalTx) bool {
	if a.Position != b.Position {
		if a.Position.Less(b.Position) {
			return true
		}
		if b.Position.Less(a.Position) {
			return false
		}
	}

	return hashLess(a.Txid, b.Txid)
}

// Tip returns the chain tip the view was resolved against.
func (v *CanonicalView) Tip() localchain.BlockID {
	return v.tip
}

// Txs returns the canonical transactions ordered by chain position, then
// txid.
func (v *CanonicalView) Txs() []*CanonicalTx {
	return append([]*CanonicalTx(nil), v.order...)
}

// Tx returns the canonical transaction with the txid, or nil if it is not
// part of the canonical history.
func (v *CanonicalView) Tx(txid chainhash.Hash) *CanonicalTx {
	return v.txs[txid]
}

// SpentBy returns the canonical transaction spending the outpoint.
func (v *CanonicalView) SpentBy(op wire.OutPoint) fn.Option[chainhash.Hash] {
	txid, ok := v.spends[op]
	if !ok {
		return fn.None[chainhash.Hash]()
	}

	return fn.Some(txid)
}

// FilterOutputs returns every canonical output the indexer recognizes.
func (v *CanonicalView) FilterOutputs(index OutputIndexer) []FullTxOut {
	var outs []FullTxOut
	for _, ctx := range v.order {
		coinbase := blockchain.IsCoinBaseTx(ctx.Tx)
		for i, txOut := range ctx.Tx.TxOut {
			keychain, idx, ok := index.IndexOfScript(txOut.PkScript)
			if !ok {
				continue
			}

			op := wire.OutPoint{Hash: ctx.Txid, Index: uint32(i)}
			outs = append(outs, FullTxOut{
				OutPoint:   op,
				TxOut:      txOut,
				Position:   ctx.Position,
				SpentBy:    v.SpentBy(op),
				IsCoinbase: coinbase,
				Keychain:   keychain,
				Index:      idx,
			})
		}
	}

	return outs
}

// FilterUnspents returns the canonical outputs the indexer recognizes that
// no canonical transaction spends.
func (v *CanonicalView) FilterUnspents(index OutputIndexer) []FullTxOut {
	var unspents []FullTxOut
	for _, out := range v.FilterOutputs(index) {
		if out.SpentBy.IsNone() {
			unspents = append(unspents, out)
		}
	}

	return unspents
}

// Balance sums the unspent outputs the indexer recognizes. Unconfirmed
// outputs count as trusted when trusted returns true for them.
func (v *CanonicalView) Balance(index OutputIndexer,
	trusted func(*FullTxOut) bool, tipHeight uint32,
	coinbaseMaturity uint16) Balance {

	var balance Balance
	for _, out := range v.FilterUnspents(index) {
		value := btcutil.Amount(out.TxOut.Value)

		switch {
		case !out.IsMature(tipHeight, coinbaseMaturity):
			balance.Immature += value

		case out.Position.Confirmed:
			balance.Confirmed += value

		case trusted(&out):
			balance.TrustedPending += value

		default:
			balance.UntrustedPending += value
		}
	}

	return balance
}
