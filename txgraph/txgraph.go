// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package txgraph stores the transactions relevant to a wallet together with
// their anchors and mempool sightings, and derives the canonical history,
// unspent outputs and balances against a chain oracle.
package txgraph

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrMissingTxOut is returned when the fee of a transaction cannot be
	// calculated because a previous output is unknown.
	ErrMissingTxOut = errors.New("previous output not found")

	// ErrNegativeFee is returned when the outputs of a transaction are
	// worth more than its inputs.
	ErrNegativeFee = errors.New("transaction outputs exceed its inputs")
)

// TxGraph is an append-only store of transactions, floating outputs,
// anchors and last-seen timestamps. It is not safe for concurrent use.
type TxGraph struct {
	txs      map[chainhash.Hash]*wire.MsgTx
	txOuts   map[wire.OutPoint]*wire.TxOut
	anchors  map[chainhash.Hash]map[Anchor]struct{}
	lastSeen map[chainhash.Hash]uint64

	// spends maps every outpoint to the graph transactions spending it.
	spends map[wire.OutPoint]map[chainhash.Hash]struct{}
}

// New returns an empty graph.
func New() *TxGraph {
	return &TxGraph{
		txs:      make(map[chainhash.Hash]*wire.MsgTx),
		txOuts:   make(map[wire.OutPoint]*wire.TxOut),
		anchors:  make(map[chainhash.Hash]map[Anchor]struct{}),
		lastSeen: make(map[chainhash.Hash]uint64),
		spends:   make(map[wire.OutPoint]map[chainhash.Hash]struct{}),
	}
}

// FromChangeSet recreates a graph from a change set.
func FromChangeSet(cs ChangeSet) *TxGraph {
	g := New()
	g.ApplyChangeSet(cs)

	return g
}

// isCoinbaseInput reports whether the outpoint is the null previous output
// of a coinbase input.
func isCoinbaseInput(op wire.OutPoint) bool {
	return op.Index == wire.MaxPrevOutIndex && op.Hash == chainhash.Hash{}
}

// InsertTx adds a full transaction. A transaction already in the graph is
// only replaced by a body with a larger witness hash.
func (g *TxGraph) InsertTx(tx *wire.MsgTx) ChangeSet {
	cs := NewChangeSet()

	txid := tx.TxHash()
	if cur, ok := g.txs[txid]; ok {
		if preferTx(cur, tx) == cur {
			return cs
		}
	}

	g.txs[txid] = tx
	for _, txIn := range tx.TxIn {
		op := txIn.PreviousOutPoint
		if isCoinbaseInput(op) {
			continue
		}
		if g.spends[op] == nil {
			g.spends[op] = make(map[chainhash.Hash]struct{})
		}
		g.spends[op][txid] = struct{}{}
	}
	cs.Txs[txid] = tx

	return cs
}

// InsertTxOut adds an output whose full transaction may be unknown, so the
// fee of a spending transaction can be calculated.
func (g *TxGraph) InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) ChangeSet {
	cs := NewChangeSet()
	if cur, ok := g.txOuts[op]; ok {
		if compareTxOut(cur, txOut) >= 0 {
			return cs
		}
	}

	g.txOuts[op] = txOut
	cs.TxOuts[op] = txOut

	return cs
}

// InsertAnchor records that the transaction was confirmed in a block.
func (g *TxGraph) InsertAnchor(txid chainhash.Hash, anchor Anchor) ChangeSet {
	cs := NewChangeSet()
	if _, ok := g.anchors[txid][anchor]; ok {
		return cs
	}

	if g.anchors[txid] == nil {
		g.anchors[txid] = make(map[Anchor]struct{})
	}
	g.anchors[txid][anchor] = struct{}{}
	cs.Anchors[TxAnchor{Txid: txid, Anchor: anchor}] = struct{}{}

	return cs
}

// InsertSeenAt records that the transaction was seen unconfirmed at the
// given unix time. Only a later time than the recorded one is kept.
func (g *TxGraph) InsertSeenAt(txid chainhash.Hash, seenAt uint64) ChangeSet {
	cs := NewChangeSet()
	if cur, ok := g.lastSeen[txid]; ok && cur >= seenAt {
		return cs
	}

	g.lastSeen[txid] = seenAt
	cs.LastSeen[txid] = seenAt

	return cs
}

// ApplyUpdate inserts everything in the update and returns what changed.
func (g *TxGraph) ApplyUpdate(update *TxUpdate) ChangeSet {
	cs := NewChangeSet()
	for _, tx := range update.Txs {
		cs = cs.Merge(g.InsertTx(tx))
	}
	for op, txOut := range update.TxOuts {
		cs = cs.Merge(g.InsertTxOut(op, txOut))
	}
	for _, anchor := range update.Anchors {
		cs = cs.Merge(g.InsertAnchor(anchor.Txid, anchor.Anchor))
	}
	for txid, seenAt := range update.SeenAts {
		cs = cs.Merge(g.InsertSeenAt(txid, seenAt))
	}

	return cs
}

// ApplyChangeSet inserts everything recorded in the change set.
func (g *TxGraph) ApplyChangeSet(cs ChangeSet) {
	for _, tx := range cs.Txs {
		g.InsertTx(tx)
	}
	for op, txOut := range cs.TxOuts {
		g.InsertTxOut(op, txOut)
	}
	for anchor := range cs.Anchors {
		g.InsertAnchor(anchor.Txid, anchor.Anchor)
	}
	for txid, seenAt := range cs.LastSeen {
		g.InsertSeenAt(txid, seenAt)
	}
}

// InitialChangeSet returns a change set that recreates the graph.
func (g *TxGraph) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for txid, tx := range g.txs {
		cs.Txs[txid] = tx
	}
	for op, txOut := range g.txOuts {
		cs.TxOuts[op] = txOut
	}
	for txid, anchors := range g.anchors {
		for anchor := range anchors {
			cs.Anchors[TxAnchor{Txid: txid, Anchor: anchor}] =
				struct{}{}
		}
	}
	for txid, seenAt := range g.lastSeen {
		cs.LastSeen[txid] = seenAt
	}

	return cs
}

// GetTx returns the full transaction with the txid, or nil.
func (g *TxGraph) GetTx(txid chainhash.Hash) *wire.MsgTx {
	return g.txs[txid]
}

// GetTxOut returns the output at the outpoint, looking at full transactions
// first and floating outputs second.
func (g *TxGraph) GetTxOut(op wire.OutPoint) *wire.TxOut {
	if tx, ok := g.txs[op.Hash]; ok {
		if int(op.Index) < len(tx.TxOut) {
			return tx.TxOut[op.Index]
		}
		return nil
	}

	return g.txOuts[op]
}

// Txs returns every full transaction ordered by txid.
func (g *TxGraph) Txs() []*wire.MsgTx {
	txids := make([]chainhash.Hash, 0, len(g.txs))
	for txid := range g.txs {
		txids = append(txids, txid)
	}
	sortHashes(txids)

	txs := make([]*wire.MsgTx, len(txids))
	for i, txid := range txids {
		txs[i] = g.txs[txid]
	}

	return txs
}

// Anchors returns the anchors of the transaction ordered by height.
func (g *TxGraph) Anchors(txid chainhash.Hash) []Anchor {
	anchors := make([]Anchor, 0, len(g.anchors[txid]))
	for anchor := range g.anchors[txid] {
		anchors = append(anchors, anchor)
	}
	sort.Slice(anchors, func(i, j int) bool {
		return anchorLess(anchors[i], anchors[j])
	})

	return anchors
}

// LastSeen returns when the transaction was last seen unconfirmed.
func (g *TxGraph) LastSeen(txid chainhash.Hash) fn.Option[uint64] {
	seenAt, ok := g.lastSeen[txid]
	if !ok {
		return fn.None[uint64]()
	}

	return fn.Some(seenAt)
}

// CalculateFee returns the fee paid by the transaction. Every previous
// output must be known to the graph. The fee of a coinbase is zero.
func (g *TxGraph) CalculateFee(tx *wire.MsgTx) (btcutil.Amount, error) {
	if blockchain.IsCoinBaseTx(tx) {
		return 0, nil
	}

	var inputs, outputs btcutil.Amount
	for _, txIn := range tx.TxIn {
		prev := g.GetTxOut(txIn.PreviousOutPoint)
		if prev == nil {
			return 0, fmt.Errorf("%w: %v", ErrMissingTxOut,
				txIn.PreviousOutPoint)
		}
		inputs += btcutil.Amount(prev.Value)
	}
	for _, txOut := range tx.TxOut {
		outputs += btcutil.Amount(txOut.Value)
	}

	if outputs > inputs {
		return 0, fmt.Errorf("%w: tx %v spends %v and pays %v",
			ErrNegativeFee, tx.TxHash(), inputs, outputs)
	}

	return inputs - outputs, nil
}

// DirectConflicts returns the graph transactions, other than tx itself,
// that spend any of the outpoints tx spends.
func (g *TxGraph) DirectConflicts(tx *wire.MsgTx) []chainhash.Hash {
	txid := tx.TxHash()

	seen := make(map[chainhash.Hash]struct{})
	var conflicts []chainhash.Hash
	for _, txIn := range tx.TxIn {
		for spender := range g.spends[txIn.PreviousOutPoint] {
			if spender == txid {
				continue
			}
			if _, ok := seen[spender]; ok {
				continue
			}
			seen[spender] = struct{}{}
			conflicts = append(conflicts, spender)
		}
	}
	sortHashes(conflicts)

	return conflicts
}

// parents returns the txids of in-graph transactions whose outputs tx
// spends.
func (g *TxGraph) parents(tx *wire.MsgTx) []chainhash.Hash {
	var parents []chainhash.Hash
	for _, txIn := range tx.TxIn {
		hash := txIn.PreviousOutPoint.Hash
		if _, ok := g.txs[hash]; ok {
			parents = append(parents, hash)
		}
	}

	return parents
}

func hashLess(a, b chainhash.Hash) bool {
	return bytes.Compare(a[:], b[:]) < 0
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return hashLess(hashes[i], hashes[j])
	})
}

func anchorLess(a, b Anchor) bool {
	switch {
	case a.Block.Height != b.Block.Height:
		return a.Block.Height < b.Block.Height
	case a.Block.Hash != b.Block.Hash:
		return hashLess(a.Block.Hash, b.Block.Hash)
	}

	return a.ConfirmationTime < b.ConfirmationTime
}
