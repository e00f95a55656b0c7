// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package walletstore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/localchain"
	"github.com/btcsuite/descwallet/txgraph"
	"github.com/lightningnetwork/lnd/fn/v2"
	"github.com/lightningnetwork/lnd/tlv"
)

// codecVersion is the version of the change set encoding written by Encode.
const codecVersion uint8 = 1

// ErrUnknownVersion is returned when decoding a change set that was written
// with an encoding this package does not know.
var ErrUnknownVersion = errors.New("unknown change set encoding version")

const (
	typeVersion      tlv.Type = 0
	typeNetwork      tlv.Type = 1
	typeDescriptors  tlv.Type = 2
	typeChain        tlv.Type = 3
	typeTxs          tlv.Type = 4
	typeTxOuts       tlv.Type = 5
	typeAnchors      tlv.Type = 6
	typeLastSeen     tlv.Type = 7
	typeLastRevealed tlv.Type = 8
)

// Record types inside the entries of the list records above. Each list
// record is a sequence of varint length prefixed TLV streams.
const (
	typeEntryKey    tlv.Type = 0
	typeEntryValue  tlv.Type = 1
	typeEntryExtra  tlv.Type = 2
	typeEntryExtra2 tlv.Type = 3
)

// Encode serializes the change set as a TLV stream. Map entries are written
// in sorted key order, so equal change sets encode to equal bytes.
func Encode(cs ChangeSet) ([]byte, error) {
	version := codecVersion
	records := []tlv.Record{
		tlv.MakePrimitiveRecord(typeVersion, &version),
	}

	var network []byte
	cs.Network.WhenSome(func(n string) {
		network = []byte(n)
	})
	if cs.Network.IsSome() {
		records = append(records, tlv.MakePrimitiveRecord(
			typeNetwork, &network,
		))
	}

	lists := []struct {
		typ    tlv.Type
		encode func(ChangeSet) ([][]byte, error)
	}{
		{typeDescriptors, encodeDescriptors},
		{typeChain, encodeChain},
		{typeTxs, encodeTxs},
		{typeTxOuts, encodeTxOuts},
		{typeAnchors, encodeAnchors},
		{typeLastSeen, encodeLastSeen},
		{typeLastRevealed, encodeLastRevealed},
	}
	for _, list := range lists {
		entries, err := list.encode(cs)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			continue
		}

		blob, err := joinEntries(entries)
		if err != nil {
			return nil, err
		}
		records = append(records, tlv.MakePrimitiveRecord(
			list.typ, &blob,
		))
	}

	return encodeStream(records...)
}

// Decode parses a change set written by Encode.
func Decode(b []byte) (ChangeSet, error) {
	var (
		version uint8
		network []byte

		descriptors, chain, txs, txOuts []byte
		anchors, lastSeen, lastRevealed []byte
	)

	parsed, err := decodeStream(
		b,
		tlv.MakePrimitiveRecord(typeVersion, &version),
		tlv.MakePrimitiveRecord(typeNetwork, &network),
		tlv.MakePrimitiveRecord(typeDescriptors, &descriptors),
		tlv.MakePrimitiveRecord(typeChain, &chain),
		tlv.MakePrimitiveRecord(typeTxs, &txs),
		tlv.MakePrimitiveRecord(typeTxOuts, &txOuts),
		tlv.MakePrimitiveRecord(typeAnchors, &anchors),
		tlv.MakePrimitiveRecord(typeLastSeen, &lastSeen),
		tlv.MakePrimitiveRecord(typeLastRevealed, &lastRevealed),
	)
	if err != nil {
		return ChangeSet{}, err
	}

	if _, ok := parsed[typeVersion]; !ok || version != codecVersion {
		return ChangeSet{}, fmt.Errorf("%w: %d", ErrUnknownVersion,
			version)
	}

	cs := NewChangeSet()
	if _, ok := parsed[typeNetwork]; ok {
		cs.Network = fn.Some(string(network))
	}

	lists := []struct {
		blob   []byte
		decode func(*ChangeSet, []byte) error
	}{
		{descriptors, decodeDescriptor},
		{chain, decodeChainEntry},
		{txs, decodeTx},
		{txOuts, decodeTxOut},
		{anchors, decodeAnchor},
		{lastSeen, decodeLastSeen},
		{lastRevealed, decodeLastRevealed},
	}
	for _, list := range lists {
		err := splitEntries(list.blob, func(entry []byte) error {
			return list.decode(&cs, entry)
		})
		if err != nil {
			return ChangeSet{}, err
		}
	}

	return cs, nil
}

func encodeDescriptors(cs ChangeSet) ([][]byte, error) {
	keychains := make([]keyring.KeychainKind, 0, len(cs.Descriptors))
	for k := range cs.Descriptors {
		keychains = append(keychains, k)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	entries := make([][]byte, 0, len(keychains))
	for _, k := range keychains {
		keychain := uint8(k)
		desc := []byte(cs.Descriptors[k])
		entry, err := encodeStream(
			tlv.MakePrimitiveRecord(typeEntryKey, &keychain),
			tlv.MakePrimitiveRecord(typeEntryValue, &desc),
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeDescriptor(cs *ChangeSet, entry []byte) error {
	var (
		keychain uint8
		desc     []byte
	)
	_, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &keychain),
		tlv.MakePrimitiveRecord(typeEntryValue, &desc),
	)
	if err != nil {
		return fmt.Errorf("unable to decode descriptor: %w", err)
	}
	cs.Descriptors[keyring.KeychainKind(keychain)] = string(desc)

	return nil
}

func encodeChain(cs ChangeSet) ([][]byte, error) {
	heights := make([]uint32, 0, len(cs.Chain.Blocks))
	for h := range cs.Chain.Blocks {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool {
		return heights[i] < heights[j]
	})

	entries := make([][]byte, 0, len(heights))
	for _, height := range heights {
		height := height
		update := cs.Chain.Blocks[height]
		revision := update.Revision

		records := []tlv.Record{
			tlv.MakePrimitiveRecord(typeEntryKey, &height),
			tlv.MakePrimitiveRecord(typeEntryValue, &revision),
		}

		var hash [32]byte
		update.Hash.WhenSome(func(h chainhash.Hash) {
			hash = h
			records = append(records, tlv.MakePrimitiveRecord(
				typeEntryExtra, &hash,
			))
		})

		entry, err := encodeStream(records...)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeChainEntry(cs *ChangeSet, entry []byte) error {
	var (
		height   uint32
		revision uint64
		hash     [32]byte
	)
	parsed, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &height),
		tlv.MakePrimitiveRecord(typeEntryValue, &revision),
		tlv.MakePrimitiveRecord(typeEntryExtra, &hash),
	)
	if err != nil {
		return fmt.Errorf("unable to decode block: %w", err)
	}

	update := localchain.BlockUpdate{
		Hash:     fn.None[chainhash.Hash](),
		Revision: revision,
	}
	if _, ok := parsed[typeEntryExtra]; ok {
		update.Hash = fn.Some(chainhash.Hash(hash))
	}
	cs.Chain.Blocks[height] = update

	return nil
}

func encodeTxs(cs ChangeSet) ([][]byte, error) {
	txids := make([]chainhash.Hash, 0, len(cs.Graph.Txs))
	for txid := range cs.Graph.Txs {
		txids = append(txids, txid)
	}
	sortHashes(txids)

	entries := make([][]byte, 0, len(txids))
	for _, txid := range txids {
		var buf bytes.Buffer
		if err := cs.Graph.Txs[txid].Serialize(&buf); err != nil {
			return nil, fmt.Errorf("unable to serialize %v: %w",
				txid, err)
		}
		entries = append(entries, buf.Bytes())
	}

	return entries, nil
}

func decodeTx(cs *ChangeSet, entry []byte) error {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(entry)); err != nil {
		return fmt.Errorf("unable to decode tx: %w", err)
	}
	cs.Graph.Txs[tx.TxHash()] = tx

	return nil
}

func encodeTxOuts(cs ChangeSet) ([][]byte, error) {
	ops := make([]wire.OutPoint, 0, len(cs.Graph.TxOuts))
	for op := range cs.Graph.TxOuts {
		ops = append(ops, op)
	}
	sort.Slice(ops, func(i, j int) bool {
		if c := bytes.Compare(ops[i].Hash[:], ops[j].Hash[:]); c != 0 {
			return c < 0
		}
		return ops[i].Index < ops[j].Index
	})

	entries := make([][]byte, 0, len(ops))
	for _, op := range ops {
		txOut := cs.Graph.TxOuts[op]

		var (
			hash     [32]byte = op.Hash
			index             = op.Index
			value             = uint64(txOut.Value)
			pkScript          = txOut.PkScript
		)
		entry, err := encodeStream(
			tlv.MakePrimitiveRecord(typeEntryKey, &hash),
			tlv.MakePrimitiveRecord(typeEntryValue, &index),
			tlv.MakePrimitiveRecord(typeEntryExtra, &value),
			tlv.MakePrimitiveRecord(typeEntryExtra2, &pkScript),
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeTxOut(cs *ChangeSet, entry []byte) error {
	var (
		hash     [32]byte
		index    uint32
		value    uint64
		pkScript []byte
	)
	_, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &hash),
		tlv.MakePrimitiveRecord(typeEntryValue, &index),
		tlv.MakePrimitiveRecord(typeEntryExtra, &value),
		tlv.MakePrimitiveRecord(typeEntryExtra2, &pkScript),
	)
	if err != nil {
		return fmt.Errorf("unable to decode txout: %w", err)
	}

	op := wire.OutPoint{Hash: hash, Index: index}
	cs.Graph.TxOuts[op] = wire.NewTxOut(int64(value), pkScript)

	return nil
}

func encodeAnchors(cs ChangeSet) ([][]byte, error) {
	anchors := make([]txgraph.TxAnchor, 0, len(cs.Graph.Anchors))
	for a := range cs.Graph.Anchors {
		anchors = append(anchors, a)
	}
	sort.Slice(anchors, func(i, j int) bool {
		a, b := anchors[i], anchors[j]
		if a.Txid != b.Txid {
			return bytes.Compare(a.Txid[:], b.Txid[:]) < 0
		}
		if a.Anchor.Block.Height != b.Anchor.Block.Height {
			return a.Anchor.Block.Height < b.Anchor.Block.Height
		}
		if a.Anchor.Block.Hash != b.Anchor.Block.Hash {
			return bytes.Compare(
				a.Anchor.Block.Hash[:], b.Anchor.Block.Hash[:],
			) < 0
		}
		return a.Anchor.ConfirmationTime < b.Anchor.ConfirmationTime
	})

	entries := make([][]byte, 0, len(anchors))
	for _, a := range anchors {
		var (
			txid      [32]byte = a.Txid
			height             = a.Anchor.Block.Height
			blockHash [32]byte = a.Anchor.Block.Hash
			confTime           = a.Anchor.ConfirmationTime
		)
		entry, err := encodeStream(
			tlv.MakePrimitiveRecord(typeEntryKey, &txid),
			tlv.MakePrimitiveRecord(typeEntryValue, &height),
			tlv.MakePrimitiveRecord(typeEntryExtra, &blockHash),
			tlv.MakePrimitiveRecord(typeEntryExtra2, &confTime),
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeAnchor(cs *ChangeSet, entry []byte) error {
	var (
		txid, blockHash [32]byte
		height          uint32
		confTime        uint64
	)
	_, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &txid),
		tlv.MakePrimitiveRecord(typeEntryValue, &height),
		tlv.MakePrimitiveRecord(typeEntryExtra, &blockHash),
		tlv.MakePrimitiveRecord(typeEntryExtra2, &confTime),
	)
	if err != nil {
		return fmt.Errorf("unable to decode anchor: %w", err)
	}

	cs.Graph.Anchors[txgraph.TxAnchor{
		Txid: txid,
		Anchor: txgraph.Anchor{
			Block: localchain.BlockID{
				Height: height,
				Hash:   blockHash,
			},
			ConfirmationTime: confTime,
		},
	}] = struct{}{}

	return nil
}

func encodeLastSeen(cs ChangeSet) ([][]byte, error) {
	txids := make([]chainhash.Hash, 0, len(cs.Graph.LastSeen))
	for txid := range cs.Graph.LastSeen {
		txids = append(txids, txid)
	}
	sortHashes(txids)

	entries := make([][]byte, 0, len(txids))
	for _, txid := range txids {
		var (
			hash [32]byte = txid
			seen          = cs.Graph.LastSeen[txid]
		)
		entry, err := encodeStream(
			tlv.MakePrimitiveRecord(typeEntryKey, &hash),
			tlv.MakePrimitiveRecord(typeEntryValue, &seen),
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeLastSeen(cs *ChangeSet, entry []byte) error {
	var (
		hash [32]byte
		seen uint64
	)
	_, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &hash),
		tlv.MakePrimitiveRecord(typeEntryValue, &seen),
	)
	if err != nil {
		return fmt.Errorf("unable to decode last seen: %w", err)
	}
	cs.Graph.LastSeen[hash] = seen

	return nil
}

func encodeLastRevealed(cs ChangeSet) ([][]byte, error) {
	keychains := make([]keyring.KeychainKind, 0,
		len(cs.Indexer.LastRevealed))
	for k := range cs.Indexer.LastRevealed {
		keychains = append(keychains, k)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	entries := make([][]byte, 0, len(keychains))
	for _, k := range keychains {
		var (
			keychain = uint8(k)
			index    = cs.Indexer.LastRevealed[k]
		)
		entry, err := encodeStream(
			tlv.MakePrimitiveRecord(typeEntryKey, &keychain),
			tlv.MakePrimitiveRecord(typeEntryValue, &index),
		)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func decodeLastRevealed(cs *ChangeSet, entry []byte) error {
	var (
		keychain uint8
		index    uint32
	)
	_, err := decodeStream(
		entry,
		tlv.MakePrimitiveRecord(typeEntryKey, &keychain),
		tlv.MakePrimitiveRecord(typeEntryValue, &index),
	)
	if err != nil {
		return fmt.Errorf("unable to decode revealed index: %w", err)
	}
	cs.Indexer.LastRevealed[keyring.KeychainKind(keychain)] = index

	return nil
}

// encodeStream encodes the records, which must be sorted by type.
func encodeStream(records ...tlv.Record) ([]byte, error) {
	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := tlvStream.Encode(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// decodeStream decodes b into the records and returns the parsed types.
func decodeStream(b []byte, records ...tlv.Record) (tlv.TypeMap, error) {
	tlvStream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}

	return tlvStream.DecodeWithParsedTypes(bytes.NewReader(b))
}

// joinEntries concatenates the entries, each prefixed by its length as a
// varint.
func joinEntries(entries [][]byte) ([]byte, error) {
	var (
		w   bytes.Buffer
		buf [8]byte
	)
	for _, entry := range entries {
		err := tlv.WriteVarInt(&w, uint64(len(entry)), &buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(entry); err != nil {
			return nil, err
		}
	}

	return w.Bytes(), nil
}

// splitEntries calls f for every entry of a blob written by joinEntries.
func splitEntries(blob []byte, f func(entry []byte) error) error {
	var (
		r   = bytes.NewReader(blob)
		buf [8]byte
	)
	for {
		size, err := tlv.ReadVarInt(r, &buf)
		if err == io.EOF {
			return nil
		} else if err != nil {
			return err
		}

		if size > uint64(r.Len()) {
			return fmt.Errorf("entry of %d bytes exceeds the "+
				"remaining %d bytes", size, r.Len())
		}

		entry := make([]byte, size)
		if _, err := io.ReadFull(r, entry); err != nil {
			return err
		}
		if err := f(entry); err != nil {
			return err
		}
	}
}

func sortHashes(hashes []chainhash.Hash) {
	sort.Slice(hashes, func(i, j int) bool {
		return bytes.Compare(hashes[i][:], hashes[j][:]) < 0
	})
}
