// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package txgraph

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/localchain"
)

// Anchor ties a transaction to the block that confirmed it.
type Anchor struct {
	Block localchain.BlockID

	// ConfirmationTime is the block time in seconds since the epoch.
	ConfirmationTime uint64
}

// TxAnchor is an anchor of a specific transaction.
type TxAnchor struct {
	Txid   chainhash.Hash
	Anchor Anchor
}

// TxUpdate is a batch of data learned from a chain source.
type TxUpdate struct {
	Txs     []*wire.MsgTx
	TxOuts  map[wire.OutPoint]*wire.TxOut
	Anchors []TxAnchor

	// SeenAts records when unconfirmed transactions were last seen in
	// the mempool.
	SeenAts map[chainhash.Hash]uint64
}

// IsEmpty returns true if the update carries no data.
func (u *TxUpdate) IsEmpty() bool {
	return len(u.Txs) == 0 && len(u.TxOuts) == 0 &&
		len(u.Anchors) == 0 && len(u.SeenAts) == 0
}

// ChangeSet records additions to a TxGraph.
type ChangeSet struct {
	Txs      map[chainhash.Hash]*wire.MsgTx
	TxOuts   map[wire.OutPoint]*wire.TxOut
	Anchors  map[TxAnchor]struct{}
	LastSeen map[chainhash.Hash]uint64
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Txs:      make(map[chainhash.Hash]*wire.MsgTx),
		TxOuts:   make(map[wire.OutPoint]*wire.TxOut),
		Anchors:  make(map[TxAnchor]struct{}),
		LastSeen: make(map[chainhash.Hash]uint64),
	}
}

// preferTx returns which of two bodies of the same transaction to keep: the
// one with the larger witness hash.
func preferTx(a, b *wire.MsgTx) *wire.MsgTx {
	wa, wb := a.WitnessHash(), b.WitnessHash()
	if bytes.Compare(wa[:], wb[:]) >= 0 {
		return a
	}

	return b
}

// preferTxOut returns which of two outputs recorded for the same outpoint to
// keep: the larger one in serialized form.
func preferTxOut(a, b *wire.TxOut) *wire.TxOut {
	if compareTxOut(a, b) >= 0 {
		return a
	}

	return b
}

func compareTxOut(a, b *wire.TxOut) int {
	switch {
	case a.Value > b.Value:
		return 1
	case a.Value < b.Value:
		return -1
	}

	return bytes.Compare(a.PkScript, b.PkScript)
}

// Merge returns the union of both change sets. Neither input is modified.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := NewChangeSet()
	for _, cs := range []ChangeSet{c, other} {
		for txid, tx := range cs.Txs {
			if cur, ok := merged.Txs[txid]; ok {
				tx = preferTx(cur, tx)
			}
			merged.Txs[txid] = tx
		}
		for op, txOut := range cs.TxOuts {
			if cur, ok := merged.TxOuts[op]; ok {
				txOut = preferTxOut(cur, txOut)
			}
			merged.TxOuts[op] = txOut
		}
		for anchor := range cs.Anchors {
			merged.Anchors[anchor] = struct{}{}
		}
		for txid, seen := range cs.LastSeen {
			if cur, ok := merged.LastSeen[txid]; !ok || seen > cur {
				merged.LastSeen[txid] = seen
			}
		}
	}

	return merged
}

// IsEmpty returns true if the change set records nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Txs) == 0 && len(c.TxOuts) == 0 &&
		len(c.Anchors) == 0 && len(c.LastSeen) == 0
}
