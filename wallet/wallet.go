// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet implements a descriptor based Bitcoin wallet. The wallet
// derives its addresses from two output descriptors, reconciles its view of
// the chain with updates from a chain source, and builds and signs
// transactions as PSBT packets.
//
// Every mutation is recorded in a staged ChangeSet that callers persist, for
// example through a Loader. Read accessors never block: they are served from
// an immutable snapshot that is replaced after every mutation.
package wallet

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// Utxo is an output owned by the wallet together with its position in the
// canonical history.
type Utxo = txgraph.FullTxOut

// config holds the optional parameters of Create and Load.
type config struct {
	lookahead   uint32
	genesisHash fn.Option[chainhash.Hash]
}

// Option configures Create and Load.
type Option func(*config)

// WithLookahead sets how many scripts past the last revealed index are
// watched for incoming payments.
func WithLookahead(lookahead uint32) Option {
	return func(c *config) {
		c.lookahead = lookahead
	}
}

// WithGenesisHash overrides the genesis block of the network parameters.
func WithGenesisHash(hash chainhash.Hash) Option {
	return func(c *config) {
		c.genesisHash = fn.Some(hash)
	}
}

func newConfig(params *chaincfg.Params, opts []Option) *config {
	cfg := &config{
		lookahead:   keyring.DefaultLookahead,
		genesisHash: fn.Some(*params.GenesisHash),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return cfg
}

// snapshot is the read-only state readers are served from.
type snapshot struct {
	keyRing *keyring.KeyRing
	tip     *localchain.Checkpoint
	view    *txgraph.CanonicalView
	outputs []Utxo
	unspent map[wire.OutPoint]Utxo
	balance txgraph.Balance
}

// Wallet is a descriptor wallet. It is safe for concurrent use.
type Wallet struct {
	params *chaincfg.Params

	// mu serializes mutations of the fields below.
	mu      sync.Mutex
	keyRing *keyring.KeyRing
	chain   *localchain.LocalChain
	graph   *txgraph.TxGraph
	stage   ChangeSet

	snap atomic.Pointer[snapshot]
}

// parseDescriptors parses the external and the optional internal
// descriptor.
func parseDescriptors(external, internal string,
	params *chaincfg.Params) (*descriptor.Descriptor,
	*descriptor.Descriptor, error) {

	ext, err := descriptor.Parse(external, params)
	if err != nil {
		return nil, nil, fmt.Errorf("external descriptor: %w", err)
	}

	var intDesc *descriptor.Descriptor
	if internal != "" {
		intDesc, err = descriptor.Parse(internal, params)
		if err != nil {
			return nil, nil, fmt.Errorf("internal descriptor: %w",
				err)
		}
	}

	return ext, intDesc, nil
}

// publicDescriptors returns the public form of the descriptors by keychain.
func publicDescriptors(ext, intDesc *descriptor.Descriptor) (
	map[keyring.KeychainKind]string, error) {

	descs := map[keyring.KeychainKind]*descriptor.Descriptor{
		keyring.External: ext,
	}
	if intDesc != nil {
		descs[keyring.Internal] = intDesc
	}

	public := make(map[keyring.KeychainKind]string, len(descs))
	for k, desc := range descs {
		pub, err := desc.Public()
		if err != nil {
			return nil, fmt.Errorf("%v descriptor: %w", k, err)
		}
		public[k] = pub.String()
	}

	return public, nil
}

// Create creates a new wallet from an external and an optional internal
// descriptor. An empty internal descriptor makes the external keychain
// receive change as well.
//
// The staged change set of the new wallet records the network, the public
// descriptors and the genesis block.
func Create(params *chaincfg.Params, external, internal string,
	opts ...Option) (*Wallet, error) {

	cfg := newConfig(params, opts)

	ext, intDesc, err := parseDescriptors(external, internal, params)
	if err != nil {
		return nil, err
	}
	public, err := publicDescriptors(ext, intDesc)
	if err != nil {
		return nil, err
	}

	keyRing, err := keyring.New(ext, intDesc, cfg.lookahead)
	if err != nil {
		return nil, err
	}

	chain, chainCS := localchain.NewFromGenesis(
		cfg.genesisHash.UnwrapOr(*params.GenesisHash),
	)

	stage := NewChangeSet()
	stage.Network = fn.Some(params.Name)
	stage.Descriptors = public
	stage.Chain = chainCS
	stage.Indexer = keyRing.InitialChangeSet()

	w := &Wallet{
		params:  params,
		keyRing: keyRing,
		chain:   chain,
		graph:   txgraph.New(),
		stage:   stage,
	}
	w.publish()

	log.Infof("Created %v wallet with %d %s", params.Name,
		len(public), pickNoun(len(public), "keychain", "keychains"))

	return w, nil
}

// Load recreates a wallet from its aggregated change set.
//
// The descriptors may be omitted, in which case the persisted public
// descriptors are used and the wallet is watch-only. Descriptors that are
// given must match the persisted ones, as must the network and the genesis
// block, or an Error matching ErrLoadMismatch is returned.
func Load(cs ChangeSet, params *chaincfg.Params, external, internal string,
	opts ...Option) (*Wallet, error) {

	cfg := newConfig(params, opts)

	network, err := cs.Network.UnwrapOrErr(walletError(
		ErrMissingData, "change set has no network", nil,
	))
	if err != nil {
		return nil, err
	}
	if network != params.Name {
		return nil, walletError(ErrNetworkMismatch, fmt.Sprintf(
			"wallet is for %v, not %v", network, params.Name,
		), nil)
	}

	storedExt, ok := cs.Descriptors[keyring.External]
	if !ok {
		return nil, walletError(ErrMissingData, "change set has no "+
			"external descriptor", nil)
	}
	storedInt := cs.Descriptors[keyring.Internal]

	if external == "" {
		external, internal = storedExt, storedInt
	}

	ext, intDesc, err := parseDescriptors(external, internal, params)
	if err != nil {
		return nil, err
	}
	public, err := publicDescriptors(ext, intDesc)
	if err != nil {
		return nil, err
	}
	if public[keyring.External] != storedExt ||
		public[keyring.Internal] != storedInt {

		return nil, walletError(ErrDescriptorMismatch, "descriptors "+
			"differ from the persisted ones", nil)
	}

	keyRing, err := keyring.New(ext, intDesc, cfg.lookahead)
	if err != nil {
		return nil, err
	}
	if err := keyRing.ApplyChangeSet(cs.Indexer); err != nil {
		return nil, walletError(ErrInvalidData, "unable to reveal "+
			"persisted indices", err)
	}

	chain, err := localchain.FromChangeSet(cs.Chain)
	if err != nil {
		return nil, walletError(ErrMissingData, "unable to load "+
			"chain", err)
	}
	genesis := cfg.genesisHash.UnwrapOr(*params.GenesisHash)
	if chain.GenesisHash() != genesis {
		return nil, walletError(ErrGenesisMismatch, fmt.Sprintf(
			"wallet chain starts at %v, not %v",
			chain.GenesisHash(), genesis,
		), nil)
	}

	graph := txgraph.FromChangeSet(cs.Graph)

	// Used indices are not persisted. Scanning the transactions again
	// recovers them.
	stage := NewChangeSet()
	for _, tx := range graph.Txs() {
		revealed, err := keyRing.ScanTxOut(tx)
		if err != nil {
			return nil, walletError(ErrInvalidData, "unable to "+
				"index transactions", err)
		}
		stage.Indexer = stage.Indexer.Merge(revealed)
	}

	w := &Wallet{
		params:  params,
		keyRing: keyRing,
		chain:   chain,
		graph:   graph,
		stage:   stage,
	}
	w.publish()

	log.Infof("Loaded %v wallet at tip %v with %d transactions",
		params.Name, chain.ChainTip(), len(graph.Txs()))

	return w, nil
}

// publish replaces the snapshot with one reflecting the current state. The
// caller must hold mu.
func (w *Wallet) publish() {
	keyRing := w.keyRing.Clone()
	tip := w.chain.Tip()
	view := w.graph.Canonicalize(w.chain, tip.BlockID())

	outputs := view.FilterOutputs(keyRing)
	unspent := make(map[wire.OutPoint]Utxo)
	for _, out := range outputs {
		if out.SpentBy.IsNone() {
			unspent[out.OutPoint] = out
		}
	}

	balance := view.Balance(keyRing, isTrusted, tip.Height(),
		w.params.CoinbaseMaturity)

	w.snap.Store(&snapshot{
		keyRing: keyRing,
		tip:     tip,
		view:    view,
		outputs: outputs,
		unspent: unspent,
		balance: balance,
	})
}

// isTrusted reports whether an unconfirmed output can be relied on: change
// sent by the wallet to itself.
func isTrusted(out *txgraph.FullTxOut) bool {
	return out.Keychain == keyring.Internal
}

// stageChanges merges cs into the stage. The caller must hold mu.
func (w *Wallet) stageChanges(cs ChangeSet) {
	if cs.IsEmpty() {
		return
	}
	w.stage = w.stage.Merge(cs)
}

// Network returns the parameters of the wallet's network.
func (w *Wallet) Network() *chaincfg.Params {
	return w.params
}

// Balance returns the balance of the unspent outputs.
func (w *Wallet) Balance() txgraph.Balance {
	return w.snap.Load().balance
}

// ListUnspent returns the unspent outputs, in canonical order.
func (w *Wallet) ListUnspent() []Utxo {
	s := w.snap.Load()

	utxos := make([]Utxo, 0, len(s.unspent))
	for _, out := range s.outputs {
		if out.SpentBy.IsNone() {
			utxos = append(utxos, out)
		}
	}

	return utxos
}

// ListOutput returns every output the wallet ever received, spent or not.
func (w *Wallet) ListOutput() []Utxo {
	s := w.snap.Load()

	outputs := make([]Utxo, len(s.outputs))
	copy(outputs, s.outputs)

	return outputs
}

// GetUtxo returns the unspent output at the outpoint.
func (w *Wallet) GetUtxo(op wire.OutPoint) (Utxo, bool) {
	out, ok := w.snap.Load().unspent[op]
	return out, ok
}

// Transactions returns the canonical transactions, confirmed ones first.
func (w *Wallet) Transactions() []*txgraph.CanonicalTx {
	return w.snap.Load().view.Txs()
}

// GetTx returns the canonical transaction with the given txid, or nil.
func (w *Wallet) GetTx(txid chainhash.Hash) *txgraph.CanonicalTx {
	return w.snap.Load().view.Tx(txid)
}

// LatestCheckpoint returns the tip of the local chain.
func (w *Wallet) LatestCheckpoint() *localchain.Checkpoint {
	return w.snap.Load().tip
}

// Checkpoints returns the checkpoints of the local chain, highest first.
func (w *Wallet) Checkpoints() []*localchain.Checkpoint {
	return w.snap.Load().tip.Iter()
}

// PublicDescriptor returns the public descriptor serving the keychain.
func (w *Wallet) PublicDescriptor(k keyring.KeychainKind) (string, error) {
	pub, err := w.snap.Load().keyRing.Descriptor(k).Public()
	if err != nil {
		return "", err
	}

	return pub.String(), nil
}

// DerivationIndex returns the last revealed index of the keychain.
func (w *Wallet) DerivationIndex(k keyring.KeychainKind) fn.Option[uint32] {
	return w.snap.Load().keyRing.LastRevealedIndex(k)
}

// IsMine reports whether the script was derived by one of the keychains,
// including the lookahead window.
func (w *Wallet) IsMine(script []byte) bool {
	return w.snap.Load().keyRing.IsMine(script)
}

// DerivationOfSpk returns the keychain and index the script was derived at.
func (w *Wallet) DerivationOfSpk(script []byte) (keyring.KeychainKind,
	uint32, bool) {

	return w.snap.Load().keyRing.IndexOfScript(script)
}

// PeekAddress derives the address at the index without revealing it.
func (w *Wallet) PeekAddress(k keyring.KeychainKind,
	index uint32) (keyring.AddressInfo, error) {

	return w.snap.Load().keyRing.PeekAddress(k, index)
}

// ListUnusedAddresses returns the revealed addresses that have not
// received a payment.
func (w *Wallet) ListUnusedAddresses(
	k keyring.KeychainKind) ([]keyring.AddressInfo, error) {

	return w.snap.Load().keyRing.ListUnusedAddresses(k)
}

// RevealNextAddress reveals and returns the next address of the keychain.
func (w *Wallet) RevealNextAddress(
	k keyring.KeychainKind) (keyring.AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	info, cs, err := w.keyRing.RevealNextAddress(k)
	if err != nil {
		return keyring.AddressInfo{}, err
	}
	w.stageIndexer(cs)

	return info, nil
}

// RevealAddressesTo reveals every address up to and including the index
// and returns the newly revealed ones.
func (w *Wallet) RevealAddressesTo(k keyring.KeychainKind,
	index uint32) ([]keyring.AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	infos, cs, err := w.keyRing.RevealAddressesTo(k, index)
	if err != nil {
		return nil, err
	}
	w.stageIndexer(cs)

	return infos, nil
}

// NextUnusedAddress returns the lowest revealed address without payments,
// revealing a new one if there is none.
func (w *Wallet) NextUnusedAddress(
	k keyring.KeychainKind) (keyring.AddressInfo, error) {

	w.mu.Lock()
	defer w.mu.Unlock()

	info, cs, err := w.keyRing.NextUnusedAddress(k)
	if err != nil {
		return keyring.AddressInfo{}, err
	}
	w.stageIndexer(cs)

	return info, nil
}

// stageIndexer stages a key ring change set and publishes the result. The
// caller must hold mu.
func (w *Wallet) stageIndexer(indexer keyring.ChangeSet) {
	cs := NewChangeSet()
	cs.Indexer = indexer
	w.stageChanges(cs)
	w.publish()
}

// MarkUsed marks the index used, so that NextUnusedAddress skips it. It
// returns false if the index already was marked.
func (w *Wallet) MarkUsed(k keyring.KeychainKind, index uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.keyRing.MarkUsed(k, index) {
		return false
	}
	w.publish()

	return true
}

// UnmarkUsed clears the used mark of an index. It refuses, returning false,
// if an output of the wallet's history pays to the index.
func (w *Wallet) UnmarkUsed(k keyring.KeychainKind, index uint32) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	owner := k
	if w.keyRing.Descriptor(k) == w.keyRing.Descriptor(keyring.External) {
		owner = keyring.External
	}
	for _, out := range w.snap.Load().outputs {
		if out.Keychain == owner && out.Index == index {
			return false
		}
	}

	if !w.keyRing.UnmarkUsed(k, index) {
		return false
	}
	w.publish()

	return true
}

// InsertTx adds a transaction to the wallet's history, such as one the
// wallet broadcast itself. It is unconfirmed until a sync finds it in a
// block. It returns false if the transaction was known already.
func (w *Wallet) InsertTx(tx *wire.MsgTx) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	indexer, err := w.keyRing.ScanTxOut(tx)
	if err != nil {
		return false, err
	}

	cs := NewChangeSet()
	cs.Graph = w.graph.InsertTx(tx)
	cs.Indexer = indexer
	w.stageChanges(cs)
	w.publish()

	return !cs.Graph.IsEmpty(), nil
}

// InsertSeenAt records that a transaction was seen unconfirmed at the given
// unix time.
func (w *Wallet) InsertSeenAt(txid chainhash.Hash, seenAt uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cs := NewChangeSet()
	cs.Graph = w.graph.InsertSeenAt(txid, seenAt)
	w.stageChanges(cs)
	w.publish()
}

// InsertTxOut adds an output of a transaction the wallet does not have,
// which lets it calculate fees of transactions spending foreign outputs.
func (w *Wallet) InsertTxOut(op wire.OutPoint, txOut *wire.TxOut) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cs := NewChangeSet()
	cs.Graph = w.graph.InsertTxOut(op, txOut)
	w.stageChanges(cs)
	w.publish()
}

// CalculateFee returns the fee of the transaction. Every previous output
// must be known to the wallet.
func (w *Wallet) CalculateFee(tx *wire.MsgTx) (btcutil.Amount, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.graph.CalculateFee(tx)
}

// CalculateFeeRate returns the fee rate of the transaction in satoshis per
// kilo virtual byte.
func (w *Wallet) CalculateFeeRate(tx *wire.MsgTx) (btcutil.Amount, error) {
	fee, err := w.CalculateFee(tx)
	if err != nil {
		return 0, err
	}

	weight := blockchain.GetTransactionWeight(btcutil.NewTx(tx))
	vsize := (weight + blockchain.WitnessScaleFactor - 1) /
		blockchain.WitnessScaleFactor

	return fee * 1000 / btcutil.Amount(vsize), nil
}

// Staged returns the changes not yet taken by TakeStaged.
func (w *Wallet) Staged() ChangeSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.stage.Merge(NewChangeSet())
}

// TakeStaged drains the staged changes. It returns nil if there are none.
func (w *Wallet) TakeStaged() *ChangeSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stage.IsEmpty() {
		return nil
	}

	cs := w.stage
	w.stage = NewChangeSet()

	return &cs
}

// restage puts changes back after persisting them failed.
func (w *Wallet) restage(cs ChangeSet) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.stageChanges(cs)
}

// InitialChangeSet returns a change set that recreates the wallet as it is.
func (w *Wallet) InitialChangeSet() ChangeSet {
	w.mu.Lock()
	defer w.mu.Unlock()

	cs := NewChangeSet()
	cs.Network = fn.Some(w.params.Name)
	for _, k := range w.keyRing.Keychains() {
		pub, err := w.keyRing.Descriptor(k).Public()
		if err != nil {
			// Public forms were derived when the wallet was
			// created or loaded.
			continue
		}
		cs.Descriptors[k] = pub.String()
	}
	cs.Chain = w.chain.InitialChangeSet()
	cs.Graph = w.graph.InitialChangeSet()
	cs.Indexer = w.keyRing.InitialChangeSet()

	return cs
}
