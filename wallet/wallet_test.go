// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/btcsuite/descwallet/wallet/walletstore"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/stretchr/testify/require"
)

const (
	testTprv = "tprv8ZgxMBicQKsPf6vydw7ixvsLKY79hmeXujBkGCNCApyft92yVY" +
		"ng2y28JpFZcneBYTTHycWSRpokhHE25GfHPBxnW5GpSm2dMWzEi9xxEyU"

	testExternal = "wpkh(" + testTprv + "/84'/1'/0'/0/*)#uel0vg9p"
	testInternal = "wpkh(" + testTprv + "/84'/1'/0'/1/*)#dd6w3a4e"

	testPublicExternal = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6b" +
		"FqJ4fNiins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EB" +
		"QqZMm6SVkxztKFtaaE7HuLdkuL7KNq/0/*)#wle7e0wp"
	testPublicInternal = "wpkh([27f9035f/84'/1'/0']tpubDCkv2fHDfPg5hB6b" +
		"FqJ4fNiins2Z8r5vKtD4xq5irCG2HsUXkgHYsj3gfGTdvAv41hoJeXjfxu7EB" +
		"QqZMm6SVkxztKFtaaE7HuLdkuL7KNq/1/*)#ltuly67e"

	testAddr0 = "tb1qjtgffm20l9vu6a7gacxvpu2ej4kdcsgc26xfdz"
	testAddr1 = "tb1qyzpfqzjjqanw2lrgvqqkn5wwaysqmsrhn0z2q4"

	testChangeAddr0 = "tb1qemw0rrqelqtjhgxqksydt5qqvenzuzq6t04dph"
)

var (
	testParams = &chaincfg.TestNet3Params

	testBlock1 = localchain.BlockID{
		Height: 1,
		Hash:   chainhash.Hash{0x01, 0xaa},
	}
)

func newTestWallet(t *testing.T) *Wallet {
	w, err := Create(testParams, testExternal, testInternal)
	require.NoError(t, err)

	return w
}

// addrScript returns the output script of an encoded address.
func addrScript(t *testing.T, addr string) []byte {
	a, err := btcutil.DecodeAddress(addr, testParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(a)
	require.NoError(t, err)

	return script
}

// foreignScript is a P2WPKH script no test wallet owns.
func foreignScript(t *testing.T) []byte {
	addr, err := btcutil.NewAddressWitnessPubKeyHash(
		make([]byte, 20), testParams,
	)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// fundingTx returns a transaction paying value to script from a foreign
// outpoint derived from seed.
func fundingTx(script []byte, value int64, seed byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: chainhash.Hash{0xff, seed}}, nil, nil,
	))
	tx.AddTxOut(wire.NewTxOut(value, script))

	return tx
}

// confirmedUpdate returns an update confirming the transactions in block 1.
func confirmedUpdate(t *testing.T, txs ...*wire.MsgTx) *chain.Update {
	cp, err := localchain.FromBlockIDs([]localchain.BlockID{
		{Height: 0, Hash: *testParams.GenesisHash},
		testBlock1,
	})
	require.NoError(t, err)

	update := &chain.Update{
		LastActiveIndices: make(map[keyring.KeychainKind]uint32),
		TxUpdate: txgraph.TxUpdate{
			Txs: txs,
		},
		Chain: cp,
	}
	for _, tx := range txs {
		update.TxUpdate.Anchors = append(update.TxUpdate.Anchors,
			txgraph.TxAnchor{
				Txid: tx.TxHash(),
				Anchor: txgraph.Anchor{
					Block:            testBlock1,
					ConfirmationTime: 1700000000,
				},
			},
		)
	}

	return update
}

// fundWallet confirms a payment of value to the next external address.
func fundWallet(t *testing.T, w *Wallet, value int64,
	seed byte) *wire.MsgTx {

	info, err := w.NextUnusedAddress(keyring.External)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(info.Address)
	require.NoError(t, err)

	tx := fundingTx(script, value, seed)
	require.NoError(t, w.ApplyUpdate(confirmedUpdate(t, tx)))

	return tx
}

// TestCreate checks that a new wallet stages everything needed to load it.
func TestCreate(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	require.Equal(t, testParams, w.Network())
	require.Equal(t, txgraph.Balance{}, w.Balance())
	require.Empty(t, w.ListUnspent())
	require.EqualValues(t, 0, w.LatestCheckpoint().Height())

	pub, err := w.PublicDescriptor(keyring.External)
	require.NoError(t, err)
	require.Equal(t, testPublicExternal, pub)
	pub, err = w.PublicDescriptor(keyring.Internal)
	require.NoError(t, err)
	require.Equal(t, testPublicInternal, pub)

	staged := w.Staged()
	require.Equal(t, testParams.Name, staged.Network.UnwrapOr(""))
	require.Equal(t, map[keyring.KeychainKind]string{
		keyring.External: testPublicExternal,
		keyring.Internal: testPublicInternal,
	}, staged.Descriptors)

	cs := w.TakeStaged()
	require.NotNil(t, cs)
	require.Equal(t, staged, *cs)
	require.Nil(t, w.TakeStaged())

	// A bad descriptor is reported as such.
	_, err = Create(testParams, "wpkh(nope)", "")
	require.Error(t, err)
}

// TestAddresses checks address reveal and used bookkeeping.
func TestAddresses(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	w.TakeStaged()

	peek, err := w.PeekAddress(keyring.External, 1)
	require.NoError(t, err)
	require.Equal(t, testAddr1, peek.Address.EncodeAddress())
	require.True(t, w.DerivationIndex(keyring.External).IsNone())

	info, err := w.RevealNextAddress(keyring.External)
	require.NoError(t, err)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())

	staged := w.TakeStaged()
	require.NotNil(t, staged)
	require.Equal(t, map[keyring.KeychainKind]uint32{
		keyring.External: 0,
	}, staged.Indexer.LastRevealed)

	// The revealed address is unused, so it is handed out again.
	info, err = w.NextUnusedAddress(keyring.External)
	require.NoError(t, err)
	require.EqualValues(t, 0, info.Index)
	require.Nil(t, w.TakeStaged())

	require.True(t, w.MarkUsed(keyring.External, 0))
	require.False(t, w.MarkUsed(keyring.External, 0))

	info, err = w.NextUnusedAddress(keyring.External)
	require.NoError(t, err)
	require.Equal(t, testAddr1, info.Address.EncodeAddress())

	unused, err := w.ListUnusedAddresses(keyring.External)
	require.NoError(t, err)
	require.Len(t, unused, 1)
	require.EqualValues(t, 1, unused[0].Index)

	require.True(t, w.UnmarkUsed(keyring.External, 0))
	require.False(t, w.UnmarkUsed(keyring.External, 0))

	infos, err := w.RevealAddressesTo(keyring.Internal, 2)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	require.Equal(t, testChangeAddr0, infos[0].Address.EncodeAddress())
	require.Equal(t, uint32(2),
		w.DerivationIndex(keyring.Internal).UnwrapOr(0))

	k, index, ok := w.DerivationOfSpk(addrScript(t, testChangeAddr0))
	require.True(t, ok)
	require.Equal(t, keyring.Internal, k)
	require.EqualValues(t, 0, index)
	require.False(t, w.IsMine(foreignScript(t)))
}

// TestApplyUpdateConfirmed checks that a confirmed payment shows up in every
// read accessor.
func TestApplyUpdateConfirmed(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	w.TakeStaged()

	tx := fundWallet(t, w, 100000, 1)
	txid := tx.TxHash()
	op := wire.OutPoint{Hash: txid}

	require.Equal(t, txgraph.Balance{Confirmed: 100000}, w.Balance())
	require.Equal(t, testBlock1, w.LatestCheckpoint().BlockID())
	require.Len(t, w.Checkpoints(), 2)

	utxos := w.ListUnspent()
	require.Len(t, utxos, 1)
	require.Equal(t, op, utxos[0].OutPoint)
	require.Equal(t, keyring.External, utxos[0].Keychain)
	require.True(t, utxos[0].Position.Confirmed)

	utxo, ok := w.GetUtxo(op)
	require.True(t, ok)
	require.Equal(t, utxos[0], utxo)

	ctx := w.GetTx(txid)
	require.NotNil(t, ctx)
	require.Equal(t, fn.Some(uint32(1)), ctx.Position.ConfirmationHeight())
	require.Len(t, w.Transactions(), 1)

	// The index has an output now, so it stays used.
	require.False(t, w.UnmarkUsed(keyring.External, 0))

	staged := w.TakeStaged()
	require.NotNil(t, staged)
	require.Contains(t, staged.Graph.Txs, txid)
	require.Len(t, staged.Graph.Anchors, 1)
	require.Len(t, staged.Chain.Blocks, 1)

	// Applying the same update again changes nothing.
	require.NoError(t, w.ApplyUpdate(confirmedUpdate(t, tx)))
	require.Nil(t, w.TakeStaged())
}

// TestApplyUpdateUnconfirmed checks that unconfirmed payments are pending and
// get a last seen time.
func TestApplyUpdateUnconfirmed(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	info, err := w.RevealNextAddress(keyring.External)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(info.Address)
	require.NoError(t, err)

	tx := fundingTx(script, 50000, 2)
	err = w.ApplyUpdateAt(&chain.Update{
		TxUpdate: txgraph.TxUpdate{Txs: []*wire.MsgTx{tx}},
	}, fn.Some(uint64(1000)))
	require.NoError(t, err)

	require.Equal(t, txgraph.Balance{UntrustedPending: 50000}, w.Balance())

	ctx := w.GetTx(tx.TxHash())
	require.NotNil(t, ctx)
	require.False(t, ctx.Position.Confirmed)
	require.Equal(t, fn.Some(uint64(1000)), ctx.Position.LastSeen)

	req := w.StartSyncWithRevealedSpks()
	require.Equal(t, []chainhash.Hash{tx.TxHash()}, req.Txids)
	require.Equal(t, []wire.OutPoint{{Hash: tx.TxHash()}}, req.OutPoints)
	require.Len(t, req.Scripts, 1)
	require.Equal(t, script, req.Scripts[0].Script)
}

// TestApplyUpdateTrustedChange checks that unconfirmed change counts as
// trusted.
func TestApplyUpdateTrustedChange(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	info, err := w.RevealNextAddress(keyring.Internal)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(info.Address)
	require.NoError(t, err)

	err = w.ApplyUpdateAt(&chain.Update{
		TxUpdate: txgraph.TxUpdate{
			Txs: []*wire.MsgTx{fundingTx(script, 40000, 3)},
		},
	}, fn.Some(uint64(1000)))
	require.NoError(t, err)

	require.Equal(t, txgraph.Balance{TrustedPending: 40000}, w.Balance())
	require.EqualValues(t, 40000, w.Balance().TrustedSpendable())
}

// TestApplyUpdateAtomic checks that rejected updates leave no trace.
func TestApplyUpdateAtomic(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	w.TakeStaged()

	info, err := w.PeekAddress(keyring.External, 0)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(info.Address)
	require.NoError(t, err)
	tx := fundingTx(script, 10000, 4)

	// A chain that shares no block with the wallet's.
	stale, err := localchain.FromBlockIDs([]localchain.BlockID{
		{Height: 0, Hash: chainhash.Hash{0xde, 0xad}},
		testBlock1,
	})
	require.NoError(t, err)

	update := confirmedUpdate(t, tx)
	update.Chain = stale
	update.LastActiveIndices[keyring.External] = 5

	err = w.ApplyUpdate(update)
	var staleErr *localchain.StaleTipError
	require.ErrorAs(t, err, &staleErr)

	// A hardened index is rejected as well.
	update = confirmedUpdate(t, tx)
	update.LastActiveIndices[keyring.External] = hdkeychain.HardenedKeyStart
	require.Error(t, w.ApplyUpdate(update))

	require.Nil(t, w.TakeStaged())
	require.Empty(t, w.Transactions())
	require.True(t, w.DerivationIndex(keyring.External).IsNone())
	require.EqualValues(t, 0, w.LatestCheckpoint().Height())
}

// TestApplyUpdateLastActive checks that a full scan result reveals up to the
// last active index.
func TestApplyUpdateLastActive(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)

	req := w.StartFullScan()
	require.Len(t, req.Keychains, 2)
	script, ok := req.Keychains[keyring.External](0)
	require.True(t, ok)
	require.Equal(t, addrScript(t, testAddr0), script)

	update := confirmedUpdate(t)
	update.LastActiveIndices[keyring.External] = 7
	update.LastActiveIndices[keyring.Internal] = 2
	require.NoError(t, w.ApplyUpdate(update))

	require.Equal(t, fn.Some(uint32(7)),
		w.DerivationIndex(keyring.External))
	require.Equal(t, fn.Some(uint32(2)),
		w.DerivationIndex(keyring.Internal))
	require.Equal(t, testBlock1, w.LatestCheckpoint().BlockID())
}

// TestApplyUpdateActiveIndexBound checks that an active index past the
// lookahead window is only accepted with an output paying to it.
func TestApplyUpdateActiveIndexBound(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	w.TakeStaged()

	// Nothing pays to the last non-hardened index.
	update := confirmedUpdate(t)
	update.LastActiveIndices[keyring.External] =
		hdkeychain.HardenedKeyStart - 1
	require.Error(t, w.ApplyUpdate(update))

	require.Nil(t, w.TakeStaged())
	require.True(t, w.DerivationIndex(keyring.External).IsNone())
	require.EqualValues(t, 0, w.LatestCheckpoint().Height())

	// An index found by a full scan past the window comes with the
	// transaction paying to it.
	far := uint32(keyring.DefaultLookahead + 10)
	script, err := w.keyRing.Descriptor(keyring.External).PkScript(far)
	require.NoError(t, err)
	tx := fundingTx(script, 10000, 9)

	update = confirmedUpdate(t, tx)
	update.LastActiveIndices[keyring.External] = far
	require.NoError(t, w.ApplyUpdate(update))

	require.Equal(t, fn.Some(far), w.DerivationIndex(keyring.External))
	require.Equal(t, testBlock1, w.LatestCheckpoint().BlockID())
	require.EqualValues(t, 10000, w.Balance().Confirmed)
}

// TestLoad checks that a wallet loaded from its change sets matches the
// original, and that mismatching parameters are refused.
func TestLoad(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	fundWallet(t, w, 100000, 5)
	fundWallet(t, w, 20000, 6)
	_, err := w.RevealAddressesTo(keyring.Internal, 3)
	require.NoError(t, err)

	// Go through the persisted encoding.
	blob, err := walletstore.Encode(*w.TakeStaged())
	require.NoError(t, err)
	cs, err := walletstore.Decode(blob)
	require.NoError(t, err)

	loaded, err := Load(cs, testParams, testExternal, testInternal)
	require.NoError(t, err)

	require.Equal(t, w.Balance(), loaded.Balance())
	require.Equal(t, w.ListUnspent(), loaded.ListUnspent())
	require.Equal(t, w.LatestCheckpoint().BlockIDs(),
		loaded.LatestCheckpoint().BlockIDs())
	for _, k := range keyring.KeychainKinds {
		require.Equal(t, w.DerivationIndex(k), loaded.DerivationIndex(k))
	}

	// Used indices are recovered from the transactions.
	info, err := loaded.NextUnusedAddress(keyring.External)
	require.NoError(t, err)
	require.EqualValues(t, 2, info.Index)

	// Without descriptors the persisted public ones are used.
	watchOnly, err := Load(cs, testParams, "", "")
	require.NoError(t, err)
	require.Equal(t, w.Balance(), watchOnly.Balance())

	_, err = Load(cs, &chaincfg.MainNetParams, "", "")
	require.ErrorIs(t, err, ErrLoadMismatch)

	_, err = Load(cs, testParams, testInternal, testExternal)
	require.ErrorIs(t, err, ErrLoadMismatch)

	_, err = Load(cs, testParams, testExternal, testInternal,
		WithGenesisHash(chainhash.Hash{0x01}))
	require.ErrorIs(t, err, ErrLoadMismatch)

	var walletErr Error
	require.True(t, errors.As(err, &walletErr))
	require.Equal(t, ErrGenesisMismatch, walletErr.Code)

	_, err = Load(NewChangeSet(), testParams, "", "")
	require.False(t, errors.Is(err, ErrLoadMismatch))
	require.True(t, errors.As(err, &walletErr))
	require.Equal(t, ErrMissingData, walletErr.Code)
}

// TestInitialChangeSet checks that the initial change set recreates the
// wallet.
func TestInitialChangeSet(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	fundWallet(t, w, 70000, 7)

	loaded, err := Load(
		w.InitialChangeSet(), testParams, testExternal, testInternal,
	)
	require.NoError(t, err)
	require.Equal(t, w.Balance(), loaded.Balance())
	require.Equal(t, w.ListOutput(), loaded.ListOutput())
}

// TestCalculateFee checks fee and fee rate of a wallet transaction.
func TestCalculateFee(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	funding := fundWallet(t, w, 100000, 8)

	spend := wire.NewMsgTx(2)
	spend.AddTxIn(wire.NewTxIn(
		&wire.OutPoint{Hash: funding.TxHash()}, nil,
		wire.TxWitness{make([]byte, 72), make([]byte, 33)},
	))
	spend.AddTxOut(wire.NewTxOut(99000, foreignScript(t)))

	fee, err := w.CalculateFee(spend)
	require.NoError(t, err)
	require.EqualValues(t, 1000, fee)

	rate, err := w.CalculateFeeRate(spend)
	require.NoError(t, err)
	require.Greater(t, rate, btcutil.Amount(1000))

	// A transaction spending an unknown output has no known fee.
	unknown := fundingTx(foreignScript(t), 1, 9)
	_, err = w.CalculateFee(unknown)
	require.Error(t, err)

	// Unless the output is inserted.
	w.InsertTxOut(unknown.TxIn[0].PreviousOutPoint, wire.NewTxOut(
		500, foreignScript(t),
	))
	fee, err = w.CalculateFee(unknown)
	require.NoError(t, err)
	require.EqualValues(t, 499, fee)
}

// TestInsertTx checks that inserted transactions are indexed and become
// canonical as unconfirmed transactions.
func TestInsertTx(t *testing.T) {
	t.Parallel()

	w := newTestWallet(t)
	tx := fundingTx(addrScript(t, testAddr0), 30000, 10)

	inserted, err := w.InsertTx(tx)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, fn.Some(uint32(0)),
		w.DerivationIndex(keyring.External))
	require.Len(t, w.ListUnspent(), 1)
	require.Equal(t, txgraph.Balance{UntrustedPending: 30000}, w.Balance())
	require.True(t, w.GetTx(tx.TxHash()).Position.LastSeen.IsNone())

	inserted, err = w.InsertTx(tx)
	require.NoError(t, err)
	require.False(t, inserted)

	w.InsertSeenAt(tx.TxHash(), 42)
	require.Equal(t, fn.Some(uint64(42)),
		w.GetTx(tx.TxHash()).Position.LastSeen)
}
