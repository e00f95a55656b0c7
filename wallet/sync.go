// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// StartFullScan returns a request for the complete history of every
// keychain, used to restore a wallet. The scripts are derived from the
// descriptors on demand, so the scan is not bounded by the revealed
// indices.
func (w *Wallet) StartFullScan() *chain.FullScanRequest {
	s := w.snap.Load()

	keychains := make(map[keyring.KeychainKind]chain.ScriptIter)
	for _, k := range s.keyRing.Keychains() {
		keychains[k] = s.keyRing.UnboundedScripts(k)
	}

	return &chain.FullScanRequest{
		ChainTip:  s.tip,
		Keychains: keychains,
		StartTime: uint64(time.Now().Unix()),
	}
}

// StartSyncWithRevealedSpks returns a request for the status of every
// revealed script, every unconfirmed transaction and every unspent output
// of the wallet.
func (w *Wallet) StartSyncWithRevealedSpks() *chain.SyncRequest {
	s := w.snap.Load()

	var txids []chainhash.Hash
	for _, tx := range s.view.Txs() {
		if !tx.Position.Confirmed {
			txids = append(txids, tx.Txid)
		}
	}

	outpoints := make([]wire.OutPoint, 0, len(s.unspent))
	for _, out := range s.outputs {
		if out.SpentBy.IsNone() {
			outpoints = append(outpoints, out.OutPoint)
		}
	}

	return &chain.SyncRequest{
		ChainTip:  s.tip,
		Scripts:   s.keyRing.RevealedScripts(),
		Txids:     txids,
		OutPoints: outpoints,
		StartTime: uint64(time.Now().Unix()),
	}
}

// ApplyUpdate applies the result of a scan or sync. Unconfirmed
// transactions the update has no sighting for are recorded as seen now.
func (w *Wallet) ApplyUpdate(update *chain.Update) error {
	return w.ApplyUpdateAt(update, fn.Some(uint64(time.Now().Unix())))
}

// ApplyUpdateAt applies the result of a scan or sync. Unconfirmed
// transactions without a sighting in the update are recorded as seen at
// seenAt, if given.
//
// The update is validated before anything is changed. A chain update that
// does not connect to the local chain leaves the wallet untouched, as does
// an active index that is hardened or lies past the lookahead window
// without an output in the update paying to it.
func (w *Wallet) ApplyUpdateAt(update *chain.Update,
	seenAt fn.Option[uint64]) error {

	w.mu.Lock()
	defer w.mu.Unlock()

	keychains := make([]keyring.KeychainKind, 0,
		len(update.LastActiveIndices))
	for k, index := range update.LastActiveIndices {
		if index >= hdkeychain.HardenedKeyStart {
			return fmt.Errorf("last active index %d of %v keychain "+
				"is hardened", index, k)
		}
		err := w.checkActiveIndex(k, index, update.TxUpdate.Txs)
		if err != nil {
			return err
		}
		keychains = append(keychains, k)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	chainCS, err := w.chain.ChangeSetForUpdate(update.Chain)
	if err != nil {
		return err
	}

	cs := NewChangeSet()
	for _, k := range keychains {
		_, revealed, err := w.keyRing.RevealAddressesTo(
			k, update.LastActiveIndices[k],
		)
		if err != nil {
			w.stageChanges(cs)
			w.publish()
			return err
		}
		cs.Indexer = cs.Indexer.Merge(revealed)
	}

	if err := w.chain.ApplyChangeSet(chainCS); err != nil {
		w.stageChanges(cs)
		w.publish()
		return err
	}
	cs.Chain = chainCS

	txUpdate := update.TxUpdate
	seenAt.WhenSome(func(now uint64) {
		txUpdate.SeenAts = withSeenAt(&txUpdate, now)
	})
	cs.Graph = w.graph.ApplyUpdate(&txUpdate)

	for _, tx := range txUpdate.Txs {
		indexed, err := w.keyRing.ScanTxOut(tx)
		if err != nil {
			w.stageChanges(cs)
			w.publish()
			return err
		}
		cs.Indexer = cs.Indexer.Merge(indexed)
	}

	w.stageChanges(cs)
	w.publish()

	log.Infof("Applied update with %d %s, wallet tip %v",
		len(txUpdate.Txs), pickNoun(len(txUpdate.Txs), "transaction",
			"transactions"), w.chain.ChainTip())

	return nil
}

// checkActiveIndex rejects an active index past the lookahead window of the
// keychain unless one of the transactions pays to its script. Revealing up to
// the index derives every script below it.
func (w *Wallet) checkActiveIndex(k keyring.KeychainKind, index uint32,
	txs []*wire.MsgTx) error {

	desc := w.keyRing.Descriptor(k)
	if !desc.IsRanged() {
		return nil
	}

	var next uint64
	w.keyRing.LastRevealedIndex(k).WhenSome(func(last uint32) {
		next = uint64(last) + 1
	})
	if uint64(index) < next+uint64(w.keyRing.Lookahead()) {
		return nil
	}

	script, err := desc.PkScript(index)
	if err != nil {
		return fmt.Errorf("unable to derive index %d of %v keychain: %w",
			index, k, err)
	}
	for _, tx := range txs {
		for _, txOut := range tx.TxOut {
			if bytes.Equal(txOut.PkScript, script) {
				return nil
			}
		}
	}

	return fmt.Errorf("last active index %d of %v keychain is past the "+
		"lookahead window and no output in the update pays to it",
		index, k)
}

// withSeenAt returns the sightings of the update extended by seenAt for
// every transaction that has neither an anchor nor a sighting. The update's
// own map is not modified.
func withSeenAt(update *txgraph.TxUpdate,
	seenAt uint64) map[chainhash.Hash]uint64 {

	anchored := make(map[chainhash.Hash]struct{}, len(update.Anchors))
	for _, a := range update.Anchors {
		anchored[a.Txid] = struct{}{}
	}

	seenAts := make(map[chainhash.Hash]uint64, len(update.SeenAts))
	for txid, t := range update.SeenAts {
		seenAts[txid] = t
	}
	for _, tx := range update.Txs {
		txid := tx.TxHash()
		if _, ok := anchored[txid]; ok {
			continue
		}
		if _, ok := seenAts[txid]; !ok {
			seenAts[txid] = seenAt
		}
	}

	return seenAts
}
