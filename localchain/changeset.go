// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localchain

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockUpdate is the recorded state of a single height: either a block hash
// or None when the block at that height was invalidated. Revision orders
// updates to the same height so that merging is independent of order.
type BlockUpdate struct {
	Hash     fn.Option[chainhash.Hash]
	Revision uint64
}

// newer returns whichever update takes precedence: the higher revision,
// then a hash over no hash, then the larger hash.
func newer(a, b BlockUpdate) BlockUpdate {
	switch {
	case a.Revision != b.Revision:
		if a.Revision > b.Revision {
			return a
		}
		return b

	case a.Hash.IsSome() != b.Hash.IsSome():
		if a.Hash.IsSome() {
			return a
		}
		return b

	case a.Hash.IsNone():
		return a
	}

	ha, hb := a.Hash.UnsafeFromSome(), b.Hash.UnsafeFromSome()
	if bytes.Compare(ha[:], hb[:]) >= 0 {
		return a
	}

	return b
}

// ChangeSet records changes to the local chain by height.
type ChangeSet struct {
	Blocks map[uint32]BlockUpdate
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{Blocks: make(map[uint32]BlockUpdate)}
}

// Merge returns the union of both change sets. For a height present in both,
// the newer update wins. Neither input is modified.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := NewChangeSet()
	for _, cs := range []ChangeSet{c, other} {
		for height, update := range cs.Blocks {
			if cur, ok := merged.Blocks[height]; ok {
				update = newer(cur, update)
			}
			merged.Blocks[height] = update
		}
	}

	return merged
}

// IsEmpty returns true if the change set records nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.Blocks) == 0
}

// Revision returns the highest revision in the change set.
func (c ChangeSet) Revision() uint64 {
	var rev uint64
	for _, update := range c.Blocks {
		if update.Revision > rev {
			rev = update.Revision
		}
	}

	return rev
}
