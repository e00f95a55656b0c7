// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package localchain

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// BlockID identifies a block by its height and hash.
type BlockID struct {
	Height uint32
	Hash   chainhash.Hash
}

// String returns the block identifier as "height:hash".
func (b BlockID) String() string {
	return fmt.Sprintf("%d:%v", b.Height, b.Hash)
}

// Checkpoint is an immutable node of a singly linked list of blocks ordered
// by strictly decreasing height towards the list's base. Heights need not be
// contiguous.
type Checkpoint struct {
	block BlockID
	prev  *Checkpoint
}

// NewCheckpoint creates a checkpoint list holding a single block.
func NewCheckpoint(block BlockID) *Checkpoint {
	return &Checkpoint{block: block}
}

// FromBlockIDs builds a checkpoint list from blocks given in strictly
// increasing height order and returns its tip.
func FromBlockIDs(blocks []BlockID) (*Checkpoint, error) {
	if len(blocks) == 0 {
		return nil, fmt.Errorf("no blocks to build checkpoints from")
	}

	return NewCheckpoint(blocks[0]).Extend(blocks[1:])
}

// Push returns a new tip on top of c. The block must be higher than c.
func (c *Checkpoint) Push(block BlockID) (*Checkpoint, error) {
	if block.Height <= c.block.Height {
		return nil, fmt.Errorf("cannot push block at height %d on "+
			"top of height %d", block.Height, c.block.Height)
	}

	return &Checkpoint{block: block, prev: c}, nil
}

// Extend pushes every block in order and returns the new tip.
func (c *Checkpoint) Extend(blocks []BlockID) (*Checkpoint, error) {
	tip := c
	for _, block := range blocks {
		var err error
		tip, err = tip.Push(block)
		if err != nil {
			return nil, err
		}
	}

	return tip, nil
}

// BlockID returns the block of the checkpoint.
func (c *Checkpoint) BlockID() BlockID {
	return c.block
}

// Height returns the height of the checkpoint.
func (c *Checkpoint) Height() uint32 {
	return c.block.Height
}

// Hash returns the block hash of the checkpoint.
func (c *Checkpoint) Hash() chainhash.Hash {
	return c.block.Hash
}

// Prev returns the checkpoint below, or nil at the base.
func (c *Checkpoint) Prev() *Checkpoint {
	return c.prev
}

// Get returns the checkpoint at the given height, or nil if the list has no
// block there.
func (c *Checkpoint) Get(height uint32) *Checkpoint {
	for cp := c; cp != nil; cp = cp.prev {
		if cp.block.Height == height {
			return cp
		}
		if cp.block.Height < height {
			return nil
		}
	}

	return nil
}

// Iter returns every checkpoint from the tip down to the base.
func (c *Checkpoint) Iter() []*Checkpoint {
	var cps []*Checkpoint
	for cp := c; cp != nil; cp = cp.prev {
		cps = append(cps, cp)
	}

	return cps
}

// BlockIDs returns the blocks of the list in increasing height order.
func (c *Checkpoint) BlockIDs() []BlockID {
	cps := c.Iter()
	blocks := make([]BlockID, len(cps))
	for i, cp := range cps {
		blocks[len(cps)-1-i] = cp.block
	}

	return blocks
}
