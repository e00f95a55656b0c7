// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletstore

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/davecgh/go-spew/spew"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testTx(n byte) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(&wire.TxIn{
		PreviousOutPoint: wire.OutPoint{
			Hash:  chainhash.Hash{0xaa, n},
			Index: uint32(n),
		},
		Witness:  wire.TxWitness{{0x30, n}, {0x02, n}},
		Sequence: wire.MaxTxInSequenceNum,
	})
	tx.AddTxOut(wire.NewTxOut(int64(n)*1000+1, []byte{0x00, 0x14, n}))

	return tx
}

func testChangeSet() ChangeSet {
	tx1, tx2 := testTx(1), testTx(2)

	cs := NewChangeSet()
	cs.Network = fn.Some("testnet3")
	cs.Descriptors[keyring.External] = "wpkh(tpub/0/*)#abcdefgh"
	cs.Descriptors[keyring.Internal] = "wpkh(tpub/1/*)#hgfedcba"

	cs.Chain.Blocks[0] = localchain.BlockUpdate{
		Hash:     fn.Some(chainhash.Hash{0x01}),
		Revision: 1,
	}
	cs.Chain.Blocks[7] = localchain.BlockUpdate{
		Hash:     fn.None[chainhash.Hash](),
		Revision: 3,
	}

	cs.Graph.Txs[tx1.TxHash()] = tx1
	cs.Graph.Txs[tx2.TxHash()] = tx2
	cs.Graph.TxOuts[wire.OutPoint{Hash: chainhash.Hash{0xbb}, Index: 4}] =
		wire.NewTxOut(5000, []byte{0x51})
	cs.Graph.Anchors[txgraph.TxAnchor{
		Txid: tx1.TxHash(),
		Anchor: txgraph.Anchor{
			Block: localchain.BlockID{
				Height: 6,
				Hash:   chainhash.Hash{0x06},
			},
			ConfirmationTime: 1700000000,
		},
	}] = struct{}{}
	cs.Graph.LastSeen[tx2.TxHash()] = 1700000100

	cs.Indexer.LastRevealed[keyring.External] = 12
	cs.Indexer.LastRevealed[keyring.Internal] = 3

	return cs
}

func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	cs := testChangeSet()
	blob, err := Encode(cs)
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err, spew.Sdump(cs))

	require.Equal(t, cs.Network, decoded.Network)
	require.Equal(t, cs.Descriptors, decoded.Descriptors)
	require.Equal(t, cs.Chain, decoded.Chain)
	require.Equal(t, cs.Graph.Anchors, decoded.Graph.Anchors)
	require.Equal(t, cs.Graph.LastSeen, decoded.Graph.LastSeen)
	require.Equal(t, cs.Graph.TxOuts, decoded.Graph.TxOuts)
	require.Equal(t, cs.Indexer, decoded.Indexer)

	require.Len(t, decoded.Graph.Txs, len(cs.Graph.Txs))
	for txid, tx := range cs.Graph.Txs {
		got, ok := decoded.Graph.Txs[txid]
		require.True(t, ok)
		require.Equal(t, tx.WitnessHash(), got.WitnessHash())
	}

	// Encoding the decoded change set reproduces the bytes.
	again, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, blob, again)
}

func TestEncodeEmpty(t *testing.T) {
	t.Parallel()

	blob, err := Encode(ChangeSet{})
	require.NoError(t, err)

	decoded, err := Decode(blob)
	require.NoError(t, err)
	require.True(t, decoded.IsEmpty())
	require.True(t, decoded.Network.IsNone())
}

func TestDecodeUnknownVersion(t *testing.T) {
	t.Parallel()

	version := uint8(2)
	blob, err := encodeStream(
		tlv.MakePrimitiveRecord(typeVersion, &version),
	)
	require.NoError(t, err)

	_, err = Decode(blob)
	require.ErrorIs(t, err, ErrUnknownVersion)

	network := []byte("mainnet")
	blob, err = encodeStream(
		tlv.MakePrimitiveRecord(typeNetwork, &network),
	)
	require.NoError(t, err)

	_, err = Decode(blob)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDecodeTruncatedEntry(t *testing.T) {
	t.Parallel()

	version := codecVersion
	list := []byte{0x05, 0x00}
	blob, err := encodeStream(
		tlv.MakePrimitiveRecord(typeVersion, &version),
		tlv.MakePrimitiveRecord(typeLastRevealed, &list),
	)
	require.NoError(t, err)

	_, err = Decode(blob)
	require.Error(t, err)
}

// TestMergeDescriptorConflict checks that conflicting write-once fields
// resolve the same way regardless of merge order.
func TestMergeDescriptorConflict(t *testing.T) {
	t.Parallel()

	a, b := NewChangeSet(), NewChangeSet()
	a.Network = fn.Some("signet")
	b.Network = fn.Some("regtest")
	a.Descriptors[keyring.External] = "tr(b)"
	b.Descriptors[keyring.External] = "tr(a)"

	ab, ba := a.Merge(b), b.Merge(a)
	require.Equal(t, ab, ba)
	require.Equal(t, fn.Some("regtest"), ab.Network)
	require.Equal(t, "tr(a)", ab.Descriptors[keyring.External])

	require.Equal(t, a, a.Merge(NewChangeSet()))
}

// TestEncodeDeterministic checks that merge order does not change the
// encoding and that the encoding survives a round trip.
func TestEncodeDeterministic(t *testing.T) {
	t.Parallel()

	gen := rapid.Custom(func(t *rapid.T) ChangeSet {
		cs := NewChangeSet()
		if rapid.Bool().Draw(t, "network") {
			cs.Network = fn.Some(rapid.SampledFrom(
				[]string{"mainnet", "signet"},
			).Draw(t, "name"))
		}
		for _, n := range rapid.SliceOfN(
			rapid.ByteRange(0, 4), 0, 3,
		).Draw(t, "txs") {
			tx := testTx(n)
			cs.Graph.Txs[tx.TxHash()] = tx
			cs.Graph.LastSeen[tx.TxHash()] = rapid.Uint64Range(
				0, 9,
			).Draw(t, "seen")
		}
		for _, h := range rapid.SliceOfN(
			rapid.Uint32Range(0, 4), 0, 3,
		).Draw(t, "heights") {
			cs.Chain.Blocks[h] = localchain.BlockUpdate{
				Hash:     fn.Some(chainhash.Hash{byte(h)}),
				Revision: rapid.Uint64Range(0, 2).Draw(t, "rev"),
			}
		}
		if rapid.Bool().Draw(t, "revealed") {
			cs.Indexer.LastRevealed[keyring.Internal] =
				rapid.Uint32Range(0, 30).Draw(t, "index")
		}

		return cs
	})

	rapid.Check(t, func(t *rapid.T) {
		a, b := gen.Draw(t, "a"), gen.Draw(t, "b")

		ab, err := Encode(a.Merge(b))
		require.NoError(t, err)
		ba, err := Encode(b.Merge(a))
		require.NoError(t, err)
		require.Equal(t, ab, ba)

		decoded, err := Decode(ab)
		require.NoError(t, err)
		again, err := Encode(decoded)
		require.NoError(t, err)
		require.Equal(t, ab, again)
	})
}
