// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletstore

import (
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// ChangeSet is the persisted unit of wallet state. Every wallet mutation
// produces one, and merging all of them reproduces the wallet.
type ChangeSet struct {
	// Network is the name of the network the wallet was created for.
	Network fn.Option[string]

	// Descriptors holds the public descriptors, with checksum, per
	// keychain.
	Descriptors map[keyring.KeychainKind]string

	Chain   localchain.ChangeSet
	Graph   txgraph.ChangeSet
	Indexer keyring.ChangeSet
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{
		Descriptors: make(map[keyring.KeychainKind]string),
		Chain:       localchain.NewChangeSet(),
		Graph:       txgraph.NewChangeSet(),
		Indexer:     keyring.NewChangeSet(),
	}
}

// Merge returns the combination of both change sets. It is commutative,
// associative and idempotent. Neither input is modified.
//
// Network and descriptors are write-once. Should two change sets disagree,
// the smaller string is kept so that the result does not depend on order;
// loading the wallet then reports the mismatch.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := ChangeSet{
		Network:     mergeString(c.Network, other.Network),
		Descriptors: make(map[keyring.KeychainKind]string),
		Chain:       c.Chain.Merge(other.Chain),
		Graph:       c.Graph.Merge(other.Graph),
		Indexer:     c.Indexer.Merge(other.Indexer),
	}

	for _, cs := range []ChangeSet{c, other} {
		for k, desc := range cs.Descriptors {
			cur, ok := merged.Descriptors[k]
			if !ok || desc < cur {
				merged.Descriptors[k] = desc
			}
		}
	}

	return merged
}

// IsEmpty returns true if the change set records nothing.
func (c ChangeSet) IsEmpty() bool {
	return c.Network.IsNone() && len(c.Descriptors) == 0 &&
		c.Chain.IsEmpty() && c.Graph.IsEmpty() && c.Indexer.IsEmpty()
}

func mergeString(a, b fn.Option[string]) fn.Option[string] {
	switch {
	case a.IsNone():
		return b
	case b.IsNone():
		return a
	}

	if b.UnsafeFromSome() < a.UnsafeFromSome() {
		return b
	}

	return a
}
