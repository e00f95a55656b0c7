// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
)

// ErrNoAgreement is returned when not even the genesis block of the local
// chain matches the remote chain.
var ErrNoAgreement = errors.New("local chain shares no block with remote " +
	"chain")

// chainUpdate builds the checkpoints that connect the blocks of latest and
// of the update's anchors to localTip.
//
// The local checkpoints are walked from the tip down, fetching the remote
// hash at each height, until one matches. The resulting update holds that
// block of agreement, every remote block that replaces a local one above
// it, the latest remote blocks and the anchor blocks.
func (c *Client) chainUpdate(ctx context.Context,
	localTip *localchain.Checkpoint, latest map[uint32]chainhash.Hash,
	update txgraph.TxUpdate) (*localchain.Checkpoint, error) {

	if localTip == nil {
		return nil, nil
	}

	var remoteTip uint32
	for height := range latest {
		if height > remoteTip {
			remoteTip = height
		}
	}

	blocks := make(map[uint32]chainhash.Hash, len(latest))
	for height, hash := range latest {
		blocks[height] = hash
	}

	var agreement *localchain.Checkpoint
	for _, cp := range localTip.Iter() {
		if cp.Height() > remoteTip {
			continue
		}

		hash, ok := blocks[cp.Height()]
		if !ok {
			var err error
			hash, err = c.backend.BlockHash(ctx, cp.Height())
			if err != nil {
				return nil, fmt.Errorf("unable to fetch block "+
					"hash at height %d: %w", cp.Height(),
					err)
			}
			blocks[cp.Height()] = hash
		}

		if hash == cp.Hash() {
			agreement = cp
			break
		}
	}
	if agreement == nil {
		return nil, ErrNoAgreement
	}

	for _, anchor := range update.Anchors {
		block := anchor.Anchor.Block
		if block.Height > remoteTip {
			continue
		}
		if _, ok := blocks[block.Height]; !ok {
			blocks[block.Height] = block.Hash
		}
	}

	heights := make([]uint32, 0, len(blocks))
	for height := range blocks {
		heights = append(heights, height)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	ids := make([]localchain.BlockID, 0, len(heights))
	for _, height := range heights {
		ids = append(ids, localchain.BlockID{
			Height: height,
			Hash:   blocks[height],
		})
	}

	log.Debugf("Chain update from %v agrees with local chain at %v",
		ids[len(ids)-1], agreement.BlockID())

	return localchain.FromBlockIDs(ids)
}
