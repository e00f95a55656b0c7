// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"
	"errors"
	"math"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
)

// ErrNotFound is returned by a Backend for an unknown transaction.
var ErrNotFound = errors.New("not found")

// TxStatus is the confirmation status of a transaction as reported by a
// backend.
type TxStatus struct {
	Confirmed   bool
	BlockHeight uint32
	BlockHash   chainhash.Hash

	// BlockTime is the block timestamp in seconds since the epoch.
	BlockTime uint64
}

// Anchor returns the anchor of a confirmed status.
func (s TxStatus) Anchor() (txgraph.Anchor, bool) {
	if !s.Confirmed {
		return txgraph.Anchor{}, false
	}

	return txgraph.Anchor{
		Block: localchain.BlockID{
			Height: s.BlockHeight,
			Hash:   s.BlockHash,
		},
		ConfirmationTime: s.BlockTime,
	}, true
}

// TxInfo is a transaction with its status and, where the backend knows
// them, the outputs its inputs spend.
type TxInfo struct {
	Tx     *wire.MsgTx
	Status TxStatus

	// Prevouts is parallel to Tx.TxIn. Entries are nil when unknown, and
	// the slice may be empty.
	Prevouts []*wire.TxOut
}

// OutSpend reports whether and by which transaction an output is spent.
type OutSpend struct {
	Spent  bool
	Txid   chainhash.Hash
	Vin    uint32
	Status TxStatus
}

// Backend is a source of chain data for a single wallet. Calls may be issued
// concurrently.
type Backend interface {
	// TipHeight returns the height of the best block.
	TipHeight(ctx context.Context) (uint32, error)

	// BlockHash returns the hash of the best chain block at the height.
	BlockHash(ctx context.Context, height uint32) (chainhash.Hash, error)

	// ScriptHistory returns every transaction paying to or spending from
	// the script, confirmed and unconfirmed.
	ScriptHistory(ctx context.Context, script []byte) ([]TxInfo, error)

	// TxStatus returns the confirmation status of the transaction.
	TxStatus(ctx context.Context, txid chainhash.Hash) (TxStatus, error)

	// Tx returns the transaction with its status. ErrNotFound is returned
	// if the backend does not know it.
	Tx(ctx context.Context, txid chainhash.Hash) (*TxInfo, error)

	// OutPointSpend returns the spending status of the output.
	OutPointSpend(ctx context.Context, op wire.OutPoint) (OutSpend, error)

	// Broadcast submits the transaction to the network.
	Broadcast(ctx context.Context, tx *wire.MsgTx) error

	// FeeEstimates returns fee rate estimates keyed by confirmation
	// target in blocks.
	FeeEstimates(ctx context.Context) (map[uint16]SatPerVByte, error)
}

// SatPerVByte is a fee rate in satoshis per virtual byte.
type SatPerVByte float64

// FeePerKb returns the fee rate in satoshis per kilo virtual byte, rounded
// up.
func (f SatPerVByte) FeePerKb() btcutil.Amount {
	return btcutil.Amount(math.Ceil(float64(f) * 1000))
}

// ScriptIter returns the script derived at the index, or false past the last
// index of a keychain.
type ScriptIter func(index uint32) ([]byte, bool)

// FullScanRequest asks for the complete history of a set of keychains.
type FullScanRequest struct {
	// ChainTip is the local chain tip the chain update must connect to.
	ChainTip *localchain.Checkpoint

	// Keychains yields the scripts of every keychain to scan.
	Keychains map[keyring.KeychainKind]ScriptIter

	// StartTime is recorded as the last-seen time of unconfirmed
	// transactions found by the scan.
	StartTime uint64
}

// SyncRequest asks for the current status of known scripts, transactions
// and outputs.
type SyncRequest struct {
	ChainTip  *localchain.Checkpoint
	Scripts   []keyring.IndexedScript
	Txids     []chainhash.Hash
	OutPoints []wire.OutPoint
	StartTime uint64
}

// Update is the result of a scan or sync, ready to be applied to a wallet.
type Update struct {
	// LastActiveIndices is the highest index with history per keychain.
	// Keychains without any history are absent.
	LastActiveIndices map[keyring.KeychainKind]uint32

	TxUpdate txgraph.TxUpdate

	// Chain connects the blocks anchoring TxUpdate to the request's
	// chain tip. It is nil if the request carried no chain tip.
	Chain *localchain.Checkpoint
}
