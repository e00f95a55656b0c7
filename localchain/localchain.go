// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package localchain keeps the wallet's view of the best chain as a sparse
// list of checkpoints and merges chain updates into it, handling reorgs.
package localchain

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/lightningnetwork/lnd/fn/v2"
)

var (
	// ErrCannotConnect is wrapped by every *StaleTipError.
	ErrCannotConnect = errors.New("update cannot connect to local chain")

	// ErrMissingGenesis is returned when a chain would be left without a
	// block at height 0.
	ErrMissingGenesis = errors.New("local chain requires a genesis block")
)

// StaleTipError is returned when an update does not share a block with the
// local chain, or contradicts it below their point of agreement. The caller
// must sync again from the current local tip.
type StaleTipError struct {
	// LocalTip is the tip of the local chain when the update was
	// rejected.
	LocalTip BlockID

	// UpdateTip is the tip of the rejected update.
	UpdateTip BlockID

	// Reason describes why the update could not connect.
	Reason string
}

// Error implements the error interface.
func (e *StaleTipError) Error() string {
	return fmt.Sprintf("stale tip: update %v cannot connect to local "+
		"tip %v: %s", e.UpdateTip, e.LocalTip, e.Reason)
}

// Unwrap returns ErrCannotConnect.
func (e *StaleTipError) Unwrap() error {
	return ErrCannotConnect
}

// ChainOracle answers whether a block is part of the chain ending at a
// given tip.
type ChainOracle interface {
	// IsBlockInChain returns Some(true) if block is an ancestor of (or
	// equal to) chainTip, Some(false) if it is not, and None if the
	// oracle cannot tell.
	IsBlockInChain(block, chainTip BlockID) fn.Option[bool]

	// ChainTip returns the tip of the best chain.
	ChainTip() BlockID
}

// LocalChain is the locally known best chain. It is not safe for concurrent
// use.
type LocalChain struct {
	// entries holds the latest update for every height ever seen,
	// including invalidated ones.
	entries map[uint32]BlockUpdate

	// index holds the hashes of the live blocks.
	index map[uint32]chainhash.Hash

	tip *Checkpoint

	// revision is the highest revision applied so far.
	revision uint64
}

// A compile-time assertion to ensure LocalChain implements ChainOracle.
var _ ChainOracle = (*LocalChain)(nil)

// NewFromGenesis creates a chain holding only the genesis block.
func NewFromGenesis(genesis chainhash.Hash) (*LocalChain, ChangeSet) {
	cs := NewChangeSet()
	cs.Blocks[0] = BlockUpdate{Hash: fn.Some(genesis), Revision: 1}

	c := &LocalChain{
		entries: make(map[uint32]BlockUpdate),
		index:   make(map[uint32]chainhash.Hash),
	}

	// A single genesis block always materializes.
	_ = c.ApplyChangeSet(cs)

	return c, cs
}

// FromChangeSet recreates a chain from a change set, which must include a
// genesis block.
func FromChangeSet(cs ChangeSet) (*LocalChain, error) {
	c := &LocalChain{
		entries: make(map[uint32]BlockUpdate),
		index:   make(map[uint32]chainhash.Hash),
	}
	if err := c.ApplyChangeSet(cs); err != nil {
		return nil, err
	}

	return c, nil
}

// Tip returns the highest checkpoint.
func (c *LocalChain) Tip() *Checkpoint {
	return c.tip
}

// ChainTip returns the block of the highest checkpoint.
func (c *LocalChain) ChainTip() BlockID {
	return c.tip.BlockID()
}

// GenesisHash returns the hash of the block at height 0.
func (c *LocalChain) GenesisHash() chainhash.Hash {
	return c.index[0]
}

// Get returns the checkpoint at the height, or nil if there is none.
func (c *LocalChain) Get(height uint32) *Checkpoint {
	if _, ok := c.index[height]; !ok {
		return nil
	}

	return c.tip.Get(height)
}

// IsBlockInChain implements ChainOracle. The answer is None when the
// chain tip is unknown, or when the local chain has no block at the height
// of the queried block.
func (c *LocalChain) IsBlockInChain(block,
	chainTip BlockID) fn.Option[bool] {

	if hash, ok := c.index[chainTip.Height]; !ok || hash != chainTip.Hash {
		return fn.None[bool]()
	}
	if block.Height > chainTip.Height {
		return fn.Some(false)
	}

	hash, ok := c.index[block.Height]
	if !ok {
		return fn.None[bool]()
	}

	return fn.Some(hash == block.Hash)
}

// ChangeSetForUpdate computes the change set that merging the update would
// produce, without modifying the chain.
//
// The point of agreement is the highest update block that the local chain
// holds with the same hash. Without one, or if the update contradicts the
// local chain below it, a *StaleTipError is returned. If the update holds a
// different hash than the local chain at any height above the point of
// agreement, every local block above that point is invalidated.
func (c *LocalChain) ChangeSetForUpdate(update *Checkpoint) (ChangeSet,
	error) {

	cs := NewChangeSet()
	if update == nil {
		return cs, nil
	}

	blocks := update.BlockIDs()
	staleErr := func(reason string) error {
		return &StaleTipError{
			LocalTip:  c.ChainTip(),
			UpdateTip: update.BlockID(),
			Reason:    reason,
		}
	}

	agreement := -1
	for i := len(blocks) - 1; i >= 0; i-- {
		hash, ok := c.index[blocks[i].Height]
		if ok && hash == blocks[i].Hash {
			agreement = i
			break
		}
	}
	if agreement < 0 {
		return cs, staleErr("no point of agreement")
	}

	for _, block := range blocks[:agreement] {
		hash, ok := c.index[block.Height]
		if ok && hash != block.Hash {
			return cs, staleErr(fmt.Sprintf("conflicting block "+
				"at height %d below point of agreement",
				block.Height))
		}
	}

	agreementHeight := blocks[agreement].Height
	reorg := false
	for _, block := range blocks[agreement+1:] {
		if hash, ok := c.index[block.Height]; ok && hash != block.Hash {
			reorg = true
			break
		}
	}

	rev := c.revision + 1
	if reorg {
		for height := range c.index {
			if height > agreementHeight {
				cs.Blocks[height] = BlockUpdate{
					Hash:     fn.None[chainhash.Hash](),
					Revision: rev,
				}
			}
		}
	}

	for _, block := range blocks {
		hash, ok := c.index[block.Height]
		if ok && hash == block.Hash {
			continue
		}
		cs.Blocks[block.Height] = BlockUpdate{
			Hash:     fn.Some(block.Hash),
			Revision: rev,
		}
	}

	return cs, nil
}

// ApplyUpdate merges an update into the chain and returns the change set
// describing what changed.
func (c *LocalChain) ApplyUpdate(update *Checkpoint) (ChangeSet, error) {
	cs, err := c.ChangeSetForUpdate(update)
	if err != nil {
		return cs, err
	}

	if err := c.ApplyChangeSet(cs); err != nil {
		return NewChangeSet(), err
	}

	if reorged := countInvalidated(cs); reorged > 0 {
		log.Infof("Reorganized local chain: %d blocks invalidated, "+
			"new tip %v", reorged, c.ChainTip())
	} else if !cs.IsEmpty() {
		log.Debugf("Local chain tip now %v", c.ChainTip())
	}

	return cs, nil
}

func countInvalidated(cs ChangeSet) int {
	n := 0
	for _, update := range cs.Blocks {
		if update.Hash.IsNone() {
			n++
		}
	}

	return n
}

// ApplyChangeSet merges a change set into the chain. Updates older than the
// ones already applied at a height are ignored, so applying change sets in
// any order gives the same chain. The chain is left untouched if the result
// would lack a genesis block.
func (c *LocalChain) ApplyChangeSet(cs ChangeSet) error {
	if cs.IsEmpty() {
		if c.tip == nil {
			return ErrMissingGenesis
		}
		return nil
	}

	entries := make(map[uint32]BlockUpdate, len(c.entries))
	for height, update := range c.entries {
		entries[height] = update
	}
	for height, update := range cs.Blocks {
		if cur, ok := entries[height]; ok {
			update = newer(cur, update)
		}
		entries[height] = update
	}

	genesis, ok := entries[0]
	if !ok || genesis.Hash.IsNone() {
		return ErrMissingGenesis
	}

	index := make(map[uint32]chainhash.Hash, len(entries))
	heights := make([]uint32, 0, len(entries))
	for height, update := range entries {
		update.Hash.WhenSome(func(hash chainhash.Hash) {
			index[height] = hash
			heights = append(heights, height)
		})
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	tip := NewCheckpoint(BlockID{Height: 0, Hash: index[0]})
	for _, height := range heights[1:] {
		// Heights are unique and sorted, so Push cannot fail.
		tip, _ = tip.Push(BlockID{Height: height, Hash: index[height]})
	}

	c.entries = entries
	c.index = index
	c.tip = tip
	if rev := cs.Revision(); rev > c.revision {
		c.revision = rev
	}

	return nil
}

// InitialChangeSet returns a change set that recreates the chain, including
// the invalidation records.
func (c *LocalChain) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for height, update := range c.entries {
		cs.Blocks[height] = update
	}

	return cs
}

// DisconnectFrom invalidates the given block and every block above it. It
// is a no-op if the block is not part of the chain.
func (c *LocalChain) DisconnectFrom(block BlockID) (ChangeSet, error) {
	cs := NewChangeSet()
	if hash, ok := c.index[block.Height]; !ok || hash != block.Hash {
		return cs, nil
	}
	if block.Height == 0 {
		return cs, ErrMissingGenesis
	}

	rev := c.revision + 1
	for height := range c.index {
		if height >= block.Height {
			cs.Blocks[height] = BlockUpdate{
				Hash:     fn.None[chainhash.Hash](),
				Revision: rev,
			}
		}
	}

	if err := c.ApplyChangeSet(cs); err != nil {
		return NewChangeSet(), err
	}

	return cs, nil
}
