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
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/txgraph"
	"golang.org/x/sync/errgroup"
)

const (
	// latestBlocks is the number of blocks below the remote tip fetched
	// for every chain update.
	latestBlocks = 10

	// DefaultStopGap is the number of consecutive unused scripts after
	// which a full scan stops.
	DefaultStopGap = 20

	// DefaultParallelism is the default number of concurrent backend
	// requests.
	DefaultParallelism = 5
)

// Client fetches wallet updates from a Backend.
type Client struct {
	backend Backend
}

// NewClient returns a client reading from the backend.
func NewClient(backend Backend) *Client {
	return &Client{backend: backend}
}

// Backend returns the backend of the client.
func (c *Client) Backend() Backend {
	return c.backend
}

// txCollector gathers backend results into a graph update.
type txCollector struct {
	update    txgraph.TxUpdate
	seen      map[chainhash.Hash]struct{}
	startTime uint64
}

func newTxCollector(startTime uint64) *txCollector {
	return &txCollector{
		update: txgraph.TxUpdate{
			TxOuts:  make(map[wire.OutPoint]*wire.TxOut),
			SeenAts: make(map[chainhash.Hash]uint64),
		},
		seen:      make(map[chainhash.Hash]struct{}),
		startTime: startTime,
	}
}

func (t *txCollector) add(info *TxInfo) {
	txid := info.Tx.TxHash()
	if _, ok := t.seen[txid]; ok {
		return
	}
	t.seen[txid] = struct{}{}

	t.update.Txs = append(t.update.Txs, info.Tx)
	if anchor, ok := info.Status.Anchor(); ok {
		t.update.Anchors = append(t.update.Anchors, txgraph.TxAnchor{
			Txid:   txid,
			Anchor: anchor,
		})
	} else if t.startTime != 0 {
		t.update.SeenAts[txid] = t.startTime
	}

	for i, prevout := range info.Prevouts {
		if prevout == nil || i >= len(info.Tx.TxIn) {
			continue
		}
		t.update.TxOuts[info.Tx.TxIn[i].PreviousOutPoint] = prevout
	}
}

// FullScan queries the history of every keychain script until stopGap
// consecutive scripts without history are found. Scripts are queried in
// batches of at most parallelism requests, and a batch never extends past
// the stop gap, so no script beyond the last active index plus stopGap is
// ever requested. A stopGap of zero is treated as one.
func (c *Client) FullScan(ctx context.Context, req *FullScanRequest,
	stopGap, parallelism int) (*Update, error) {

	if stopGap < 1 {
		stopGap = 1
	}
	if parallelism < 1 {
		parallelism = 1
	}

	latest, err := c.fetchLatestBlocks(ctx, parallelism)
	if err != nil {
		return nil, err
	}

	collector := newTxCollector(req.StartTime)
	lastActive := make(map[keyring.KeychainKind]uint32)

	keychains := make([]keyring.KeychainKind, 0, len(req.Keychains))
	for keychain := range req.Keychains {
		keychains = append(keychains, keychain)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	for _, keychain := range keychains {
		last, found, err := c.scanKeychain(
			ctx, req.Keychains[keychain], stopGap, parallelism,
			collector,
		)
		if err != nil {
			return nil, fmt.Errorf("unable to scan %v keychain: %w",
				keychain, err)
		}
		if found {
			lastActive[keychain] = last
			log.Debugf("Full scan found %v keychain active up to "+
				"index %d", keychain, last)
		}
	}

	cp, err := c.chainUpdate(ctx, req.ChainTip, latest, collector.update)
	if err != nil {
		return nil, err
	}

	return &Update{
		LastActiveIndices: lastActive,
		TxUpdate:          collector.update,
		Chain:             cp,
	}, nil
}

// scanKeychain walks the scripts of a keychain and returns the last index
// with history.
func (c *Client) scanKeychain(ctx context.Context, scripts ScriptIter,
	stopGap, parallelism int, collector *txCollector) (uint32, bool,
	error) {

	var (
		lastActive uint32
		found      bool
		gap        int
		next       uint32
		exhausted  bool
	)
	for gap < stopGap && !exhausted {
		batch := parallelism
		if remaining := stopGap - gap; remaining < batch {
			batch = remaining
		}

		var batchScripts [][]byte
		for len(batchScripts) < batch {
			script, ok := scripts(next + uint32(len(batchScripts)))
			if !ok {
				exhausted = true
				break
			}
			batchScripts = append(batchScripts, script)
		}
		if len(batchScripts) == 0 {
			break
		}

		histories := make([][]TxInfo, len(batchScripts))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelism)
		for i, script := range batchScripts {
			g.Go(func() error {
				history, err := c.backend.ScriptHistory(
					gctx, script,
				)
				if err != nil {
					return err
				}
				histories[i] = history
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return 0, false, err
		}

		for i, history := range histories {
			if len(history) == 0 {
				gap++
				continue
			}

			gap = 0
			lastActive = next + uint32(i)
			found = true
			for j := range history {
				collector.add(&history[j])
			}
		}
		next += uint32(len(batchScripts))
	}

	return lastActive, found, nil
}

// Sync fetches the current status of the requested scripts, transactions
// and outputs.
func (c *Client) Sync(ctx context.Context, req *SyncRequest,
	parallelism int) (*Update, error) {

	if parallelism < 1 {
		parallelism = 1
	}

	latest, err := c.fetchLatestBlocks(ctx, parallelism)
	if err != nil {
		return nil, err
	}

	var (
		histories = make([][]TxInfo, len(req.Scripts))
		txs       = make([]*TxInfo, len(req.Txids))
		spends    = make([]*TxInfo, len(req.OutPoints))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, script := range req.Scripts {
		g.Go(func() error {
			history, err := c.backend.ScriptHistory(
				gctx, script.Script,
			)
			if err != nil {
				return fmt.Errorf("unable to fetch history of "+
					"%v/%d: %w", script.Keychain,
					script.Index, err)
			}
			histories[i] = history
			return nil
		})
	}
	for i, txid := range req.Txids {
		g.Go(func() error {
			info, err := c.fetchTx(gctx, txid)
			if err != nil {
				return err
			}
			txs[i] = info
			return nil
		})
	}
	for i, op := range req.OutPoints {
		g.Go(func() error {
			spend, err := c.backend.OutPointSpend(gctx, op)
			if err != nil {
				return fmt.Errorf("unable to fetch spend of "+
					"%v: %w", op, err)
			}
			if !spend.Spent {
				return nil
			}
			info, err := c.fetchTx(gctx, spend.Txid)
			if err != nil {
				return err
			}
			spends[i] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	collector := newTxCollector(req.StartTime)
	for _, history := range histories {
		for j := range history {
			collector.add(&history[j])
		}
	}
	for _, info := range append(txs, spends...) {
		if info != nil {
			collector.add(info)
		}
	}

	cp, err := c.chainUpdate(ctx, req.ChainTip, latest, collector.update)
	if err != nil {
		return nil, err
	}

	return &Update{
		LastActiveIndices: make(map[keyring.KeychainKind]uint32),
		TxUpdate:          collector.update,
		Chain:             cp,
	}, nil
}

// fetchTx returns the transaction, or nil if the backend does not know it.
func (c *Client) fetchTx(ctx context.Context,
	txid chainhash.Hash) (*TxInfo, error) {

	info, err := c.backend.Tx(ctx, txid)
	switch {
	case err == nil:
		return info, nil

	case errors.Is(err, ErrNotFound):
		log.Debugf("Transaction %v unknown to backend", txid)
		return nil, nil

	default:
		return nil, fmt.Errorf("unable to fetch tx %v: %w", txid, err)
	}
}

// Broadcast submits the transaction through the backend.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	if err := c.backend.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("unable to broadcast %v: %w", tx.TxHash(),
			err)
	}

	log.Infof("Broadcast transaction %v", tx.TxHash())

	return nil
}

// FeeEstimates returns the backend's fee estimates keyed by confirmation
// target.
func (c *Client) FeeEstimates(
	ctx context.Context) (map[uint16]SatPerVByte, error) {

	estimates, err := c.backend.FeeEstimates(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch fee estimates: %w", err)
	}

	return estimates, nil
}

// fetchLatestBlocks returns the hashes of the remote tip and the blocks
// right below it, keyed by height.
func (c *Client) fetchLatestBlocks(ctx context.Context,
	parallelism int) (map[uint32]chainhash.Hash, error) {

	tip, err := c.backend.TipHeight(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch tip height: %w", err)
	}

	low := uint32(0)
	if tip >= latestBlocks {
		low = tip - latestBlocks + 1
	}

	hashes := make([]chainhash.Hash, tip-low+1)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for height := low; height <= tip; height++ {
		g.Go(func() error {
			hash, err := c.backend.BlockHash(gctx, height)
			if err != nil {
				return fmt.Errorf("unable to fetch block hash "+
					"at height %d: %w", height, err)
			}
			hashes[height-low] = hash
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	latest := make(map[uint32]chainhash.Hash, len(hashes))
	for i, hash := range hashes {
		latest[low+uint32(i)] = hash
	}

	return latest, nil
}
