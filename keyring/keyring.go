// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package keyring tracks the external and internal keychains of a
// descriptor wallet: which derivation indices were revealed, which were seen
// on chain, and which output scripts belong to the wallet.
package keyring

import (
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// DefaultLookahead is the number of scripts derived past the last revealed
// index so that payments to not yet revealed addresses are recognized.
const DefaultLookahead = 25

var (
	// ErrDescriptorConflict is returned when the external and internal
	// keychains would derive the same scripts.
	ErrDescriptorConflict = errors.New("external and internal " +
		"descriptors must differ")

	// ErrNetworkMismatch is returned when the two descriptors are for
	// different networks.
	ErrNetworkMismatch = errors.New("descriptors are for different " +
		"networks")
)

// KeychainKind identifies one of the two derivation lineages of a wallet.
type KeychainKind uint8

const (
	// External is the keychain used for receiving addresses.
	External KeychainKind = 0

	// Internal is the keychain used for change addresses.
	Internal KeychainKind = 1
)

// KeychainKinds lists both keychains in their canonical order.
var KeychainKinds = []KeychainKind{External, Internal}

// String returns a human readable name for the keychain.
func (k KeychainKind) String() string {
	switch k {
	case External:
		return "external"
	case Internal:
		return "internal"
	default:
		return fmt.Sprintf("keychain(%d)", uint8(k))
	}
}

// AddressInfo is an address derived for a keychain index.
type AddressInfo struct {
	Keychain   KeychainKind
	Index      uint32
	Address    btcutil.Address
	ScriptType descriptor.ScriptType
}

// IndexedScript is an output script together with where it was derived.
type IndexedScript struct {
	Keychain KeychainKind
	Index    uint32
	Script   []byte
}

// keychainIndex is the value of the script index.
type keychainIndex struct {
	keychain KeychainKind
	index    uint32
}

// KeyRing derives addresses for the two keychains of a wallet and keeps
// track of revealed and used indices. It is not safe for concurrent use.
type KeyRing struct {
	descriptors map[KeychainKind]*descriptor.Descriptor
	lookahead   uint32

	lastRevealed map[KeychainKind]uint32
	used         map[KeychainKind]map[uint32]struct{}

	// scripts holds the derived scripts per keychain, in index order, for
	// every revealed index plus the lookahead window.
	scripts map[KeychainKind][][]byte

	// scriptIndex maps a script to the keychain index it was derived at.
	scriptIndex map[string]keychainIndex
}

// New creates a key ring for the given descriptors. The internal descriptor
// may be nil, in which case the internal keychain is served by the external
// descriptor.
func New(external, internal *descriptor.Descriptor,
	lookahead uint32) (*KeyRing, error) {

	if external == nil {
		return nil, errors.New("external descriptor is required")
	}

	k := &KeyRing{
		descriptors: map[KeychainKind]*descriptor.Descriptor{
			External: external,
		},
		lookahead:    lookahead,
		lastRevealed: make(map[KeychainKind]uint32),
		used:         make(map[KeychainKind]map[uint32]struct{}),
		scripts:      make(map[KeychainKind][][]byte),
		scriptIndex:  make(map[string]keychainIndex),
	}

	if internal != nil {
		if external.String() == internal.String() {
			return nil, ErrDescriptorConflict
		}
		if external.Params().Net != internal.Params().Net {
			return nil, ErrNetworkMismatch
		}
		k.descriptors[Internal] = internal
	}

	for _, keychain := range k.Keychains() {
		k.used[keychain] = make(map[uint32]struct{})
		if err := k.fillLookahead(keychain); err != nil {
			return nil, err
		}
	}

	return k, nil
}

// Keychains returns the keychains that have their own descriptor.
func (k *KeyRing) Keychains() []KeychainKind {
	if _, ok := k.descriptors[Internal]; ok {
		return KeychainKinds
	}

	return []KeychainKind{External}
}

// resolve maps a keychain to the one that actually owns a descriptor.
func (k *KeyRing) resolve(keychain KeychainKind) KeychainKind {
	if _, ok := k.descriptors[keychain]; ok {
		return keychain
	}

	return External
}

// Descriptor returns the descriptor that serves the keychain.
func (k *KeyRing) Descriptor(keychain KeychainKind) *descriptor.Descriptor {
	return k.descriptors[k.resolve(keychain)]
}

// Lookahead returns the size of the lookahead window.
func (k *KeyRing) Lookahead() uint32 {
	return k.lookahead
}

// fillLookahead derives scripts up to the lookahead target of the keychain.
func (k *KeyRing) fillLookahead(keychain KeychainKind) error {
	desc := k.descriptors[keychain]

	target := uint64(k.lookahead)
	if last, ok := k.lastRevealed[keychain]; ok {
		target += uint64(last) + 1
	}
	if target == 0 {
		target = 1
	}
	if !desc.IsRanged() {
		target = 1
	}

	for i := uint64(len(k.scripts[keychain])); i < target; i++ {
		script, err := desc.PkScript(uint32(i))
		if errors.Is(err, descriptor.ErrIndexOutOfRange) {
			break
		}
		if err != nil {
			return err
		}

		// Equivalent descriptors written differently derive the
		// same scripts.
		if idx, ok := k.scriptIndex[string(script)]; ok &&
			idx.keychain != keychain {

			return ErrDescriptorConflict
		}

		k.scripts[keychain] = append(k.scripts[keychain], script)
		k.scriptIndex[string(script)] = keychainIndex{
			keychain: keychain,
			index:    uint32(i),
		}
	}

	return nil
}

// addressInfo derives the address at the given index.
func (k *KeyRing) addressInfo(keychain KeychainKind,
	index uint32) (AddressInfo, error) {

	owner := k.resolve(keychain)
	desc := k.descriptors[owner]
	addr, err := desc.Address(index)
	if err != nil {
		return AddressInfo{}, err
	}

	return AddressInfo{
		Keychain:   owner,
		Index:      index,
		Address:    addr,
		ScriptType: desc.ScriptType(),
	}, nil
}

// PeekAddress derives the address at the given index without revealing it.
func (k *KeyRing) PeekAddress(keychain KeychainKind,
	index uint32) (AddressInfo, error) {

	return k.addressInfo(keychain, index)
}

// LastRevealedIndex returns the highest revealed index of the keychain.
func (k *KeyRing) LastRevealedIndex(keychain KeychainKind) fn.Option[uint32] {
	idx, ok := k.lastRevealed[k.resolve(keychain)]
	if !ok {
		return fn.None[uint32]()
	}

	return fn.Some(idx)
}

// LastUsedIndex returns the highest index of the keychain seen in an output.
func (k *KeyRing) LastUsedIndex(keychain KeychainKind) fn.Option[uint32] {
	var (
		last  uint32
		found bool
	)
	for idx := range k.used[k.resolve(keychain)] {
		if !found || idx > last {
			last, found = idx, true
		}
	}
	if !found {
		return fn.None[uint32]()
	}

	return fn.Some(last)
}

// RevealNextAddress reveals the index after the last revealed one. For a
// non-ranged descriptor index 0 is returned on every call.
func (k *KeyRing) RevealNextAddress(keychain KeychainKind) (AddressInfo,
	ChangeSet, error) {

	owner := k.resolve(keychain)
	next := uint32(0)
	if last, ok := k.lastRevealed[owner]; ok {
		next = last + 1
		if !k.descriptors[owner].IsRanged() {
			next = last
		}
	}

	cs, err := k.revealTo(owner, next)
	if err != nil {
		return AddressInfo{}, ChangeSet{}, err
	}

	info, err := k.addressInfo(keychain, next)
	if err != nil {
		return AddressInfo{}, ChangeSet{}, err
	}

	return info, cs, nil
}

// RevealAddressesTo reveals every index up to and including the target. It
// returns the newly revealed addresses, which is empty when the target was
// already revealed.
func (k *KeyRing) RevealAddressesTo(keychain KeychainKind,
	index uint32) ([]AddressInfo, ChangeSet, error) {

	owner := k.resolve(keychain)
	if !k.descriptors[owner].IsRanged() {
		index = 0
	}

	start := uint32(0)
	if last, ok := k.lastRevealed[owner]; ok {
		if index <= last {
			return nil, NewChangeSet(), nil
		}
		start = last + 1
	}

	cs, err := k.revealTo(owner, index)
	if err != nil {
		return nil, ChangeSet{}, err
	}

	infos := make([]AddressInfo, 0, index-start+1)
	for i := start; i <= index; i++ {
		info, err := k.addressInfo(keychain, i)
		if err != nil {
			return nil, ChangeSet{}, err
		}
		infos = append(infos, info)
	}

	return infos, cs, nil
}

// revealTo moves the last revealed index of the keychain up to index. It
// never moves it down.
func (k *KeyRing) revealTo(keychain KeychainKind,
	index uint32) (ChangeSet, error) {

	cs := NewChangeSet()
	if last, ok := k.lastRevealed[keychain]; ok && index <= last {
		return cs, nil
	}

	// Derive first so a failure leaves the state untouched.
	if _, err := k.descriptors[keychain].PkScript(index); err != nil {
		return cs, err
	}

	k.lastRevealed[keychain] = index
	if err := k.fillLookahead(keychain); err != nil {
		return cs, err
	}
	cs.LastRevealed[keychain] = index

	log.Debugf("Revealed %v index %d", keychain, index)

	return cs, nil
}

// NextUnusedAddress returns the lowest revealed address that has not been
// used yet, revealing a new one if every revealed address is used.
func (k *KeyRing) NextUnusedAddress(keychain KeychainKind) (AddressInfo,
	ChangeSet, error) {

	unused := k.unusedIndices(keychain)
	if len(unused) > 0 {
		info, err := k.addressInfo(keychain, unused[0])
		return info, NewChangeSet(), err
	}

	return k.RevealNextAddress(keychain)
}

// ListUnusedAddresses returns every revealed address that is not used.
func (k *KeyRing) ListUnusedAddresses(
	keychain KeychainKind) ([]AddressInfo, error) {

	indices := k.unusedIndices(keychain)
	infos := make([]AddressInfo, 0, len(indices))
	for _, idx := range indices {
		info, err := k.addressInfo(keychain, idx)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}

	return infos, nil
}

func (k *KeyRing) unusedIndices(keychain KeychainKind) []uint32 {
	owner := k.resolve(keychain)
	last, ok := k.lastRevealed[owner]
	if !ok {
		return nil
	}

	var indices []uint32
	for i := uint64(0); i <= uint64(last); i++ {
		if _, used := k.used[owner][uint32(i)]; !used {
			indices = append(indices, uint32(i))
		}
	}

	return indices
}

// IsUsed reports whether the index was marked as used.
func (k *KeyRing) IsUsed(keychain KeychainKind, index uint32) bool {
	_, ok := k.used[k.resolve(keychain)][index]
	return ok
}

// MarkUsed marks an index as used. It returns false if it already was.
func (k *KeyRing) MarkUsed(keychain KeychainKind, index uint32) bool {
	owner := k.resolve(keychain)
	if _, ok := k.used[owner][index]; ok {
		return false
	}
	k.used[owner][index] = struct{}{}

	return true
}

// UnmarkUsed clears the used mark of an index. It returns false if the index
// was not marked.
func (k *KeyRing) UnmarkUsed(keychain KeychainKind, index uint32) bool {
	owner := k.resolve(keychain)
	if _, ok := k.used[owner][index]; !ok {
		return false
	}
	delete(k.used[owner], index)

	return true
}

// IndexOfScript returns the keychain and index the script was derived at.
// Scripts within the lookahead window are found as well.
func (k *KeyRing) IndexOfScript(script []byte) (KeychainKind, uint32, bool) {
	idx, ok := k.scriptIndex[string(script)]
	return idx.keychain, idx.index, ok
}

// IsMine reports whether the script belongs to one of the keychains.
func (k *KeyRing) IsMine(script []byte) bool {
	_, ok := k.scriptIndex[string(script)]
	return ok
}

// RevealedScripts returns every revealed script of every keychain ordered by
// keychain and index.
func (k *KeyRing) RevealedScripts() []IndexedScript {
	var scripts []IndexedScript
	for _, keychain := range k.Keychains() {
		last, ok := k.lastRevealed[keychain]
		if !ok {
			continue
		}
		for i := uint64(0); i <= uint64(last); i++ {
			scripts = append(scripts, IndexedScript{
				Keychain: keychain,
				Index:    uint32(i),
				Script:   k.scripts[keychain][i],
			})
		}
	}

	return scripts
}

// UnboundedScripts returns an iterator over every script the keychain's
// descriptor can derive, regardless of what is revealed. It reports false
// past the last derivable index. The iterator only reads the descriptor, so
// it stays valid while the key ring changes.
func (k *KeyRing) UnboundedScripts(
	keychain KeychainKind) func(index uint32) ([]byte, bool) {

	desc := k.Descriptor(keychain)
	return func(index uint32) ([]byte, bool) {
		if !desc.IsRanged() && index > 0 {
			return nil, false
		}
		script, err := desc.PkScript(index)
		if err != nil {
			return nil, false
		}
		return script, true
	}
}

// ScanTxOut indexes the outputs of a transaction: every output paying to a
// known script marks its index used, and indices inside the lookahead window
// get revealed.
func (k *KeyRing) ScanTxOut(tx *wire.MsgTx) (ChangeSet, error) {
	cs := NewChangeSet()

	// Collect the highest hit per keychain first, since revealing extends
	// the lookahead window and thereby the index itself.
	highest := make(map[KeychainKind]uint32)
	for _, txOut := range tx.TxOut {
		idx, ok := k.scriptIndex[string(txOut.PkScript)]
		if !ok {
			continue
		}
		k.used[idx.keychain][idx.index] = struct{}{}

		if cur, ok := highest[idx.keychain]; !ok || idx.index > cur {
			highest[idx.keychain] = idx.index
		}
	}

	for _, keychain := range sortedKeychains(highest) {
		revealed, err := k.revealTo(keychain, highest[keychain])
		if err != nil {
			return ChangeSet{}, err
		}
		cs = cs.Merge(revealed)
	}

	return cs, nil
}

// ApplyChangeSet reveals the indices recorded in the change set.
func (k *KeyRing) ApplyChangeSet(cs ChangeSet) error {
	for _, keychain := range sortedKeychains(cs.LastRevealed) {
		if _, ok := k.descriptors[keychain]; !ok {
			return fmt.Errorf("change set reveals %v keychain that "+
				"has no descriptor", keychain)
		}
		if _, err := k.revealTo(
			keychain, cs.LastRevealed[keychain],
		); err != nil {
			return err
		}
	}

	return nil
}

// InitialChangeSet returns a change set that reproduces the current revealed
// indices.
func (k *KeyRing) InitialChangeSet() ChangeSet {
	cs := NewChangeSet()
	for keychain, idx := range k.lastRevealed {
		cs.LastRevealed[keychain] = idx
	}

	return cs
}

// Clone returns a copy of the key ring that shares no mutable state with
// the original.
func (k *KeyRing) Clone() *KeyRing {
	c := &KeyRing{
		descriptors:  make(map[KeychainKind]*descriptor.Descriptor),
		lookahead:    k.lookahead,
		lastRevealed: make(map[KeychainKind]uint32),
		used:         make(map[KeychainKind]map[uint32]struct{}),
		scripts:      make(map[KeychainKind][][]byte),
		scriptIndex:  make(map[string]keychainIndex, len(k.scriptIndex)),
	}
	for keychain, desc := range k.descriptors {
		c.descriptors[keychain] = desc
	}
	for keychain, idx := range k.lastRevealed {
		c.lastRevealed[keychain] = idx
	}
	for keychain, used := range k.used {
		c.used[keychain] = make(map[uint32]struct{}, len(used))
		for idx := range used {
			c.used[keychain][idx] = struct{}{}
		}
	}

	// Derived scripts are never modified, only appended.
	for keychain, scripts := range k.scripts {
		c.scripts[keychain] = scripts[:len(scripts):len(scripts)]
	}
	for script, idx := range k.scriptIndex {
		c.scriptIndex[script] = idx
	}

	return c
}

// DerivedKey derives the key at the index of the keychain.
func (k *KeyRing) DerivedKey(keychain KeychainKind,
	index uint32) (*descriptor.DerivedKey, error) {

	return k.Descriptor(keychain).Derive(index)
}

// PrivKey returns the private key at the index of the keychain, or
// descriptor.ErrMissingPrivateKey if the keychain is watch-only.
func (k *KeyRing) PrivKey(keychain KeychainKind,
	index uint32) (*btcec.PrivateKey, error) {

	key, err := k.DerivedKey(keychain, index)
	if err != nil {
		return nil, err
	}

	return key.PrivKey()
}

func sortedKeychains(m map[KeychainKind]uint32) []KeychainKind {
	keychains := make([]KeychainKind, 0, len(m))
	for keychain := range m {
		keychains = append(keychains, keychain)
	}
	sort.Slice(keychains, func(i, j int) bool {
		return keychains[i] < keychains[j]
	})

	return keychains
}
