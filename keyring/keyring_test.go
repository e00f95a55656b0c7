// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/descriptor"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
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

func mustParse(t testing.TB, s string) *descriptor.Descriptor {
	desc, err := descriptor.Parse(s, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	return desc
}

func newTestKeyRing(t testing.TB) *KeyRing {
	k, err := New(
		mustParse(t, testExternal), mustParse(t, testInternal),
		DefaultLookahead,
	)
	require.NoError(t, err)

	return k
}

// TestRevealNextAddress checks that revealing advances one index at a time
// and records the new index in the returned change set.
func TestRevealNextAddress(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	require.True(t, k.LastRevealedIndex(External).IsNone())

	info, cs, err := k.RevealNextAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())
	require.EqualValues(t, 0, info.Index)
	require.Equal(t, External, info.Keychain)
	require.Equal(t, descriptor.WPKH, info.ScriptType)
	require.Equal(t, map[KeychainKind]uint32{External: 0}, cs.LastRevealed)

	info, cs, err = k.RevealNextAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr1, info.Address.EncodeAddress())
	require.Equal(t, map[KeychainKind]uint32{External: 1}, cs.LastRevealed)
	require.Equal(t, uint32(1), k.LastRevealedIndex(External).UnwrapOr(0))

	// The internal keychain is independent.
	require.True(t, k.LastRevealedIndex(Internal).IsNone())
	info, _, err = k.RevealNextAddress(Internal)
	require.NoError(t, err)
	require.Equal(t, testChangeAddr0, info.Address.EncodeAddress())

	// Peeking never reveals.
	peeked, err := k.PeekAddress(External, 9)
	require.NoError(t, err)
	require.EqualValues(t, 9, peeked.Index)
	require.Equal(t, uint32(1), k.LastRevealedIndex(External).UnwrapOr(0))
}

// TestRevealAddressesTo checks batch revealing and that revealing an already
// revealed index is a no-op.
func TestRevealAddressesTo(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)

	infos, cs, err := k.RevealAddressesTo(External, 5)
	require.NoError(t, err)
	require.Len(t, infos, 6)
	require.Equal(t, testAddr0, infos[0].Address.EncodeAddress())
	require.Equal(t, testAddr1, infos[1].Address.EncodeAddress())
	require.Equal(t, map[KeychainKind]uint32{External: 5}, cs.LastRevealed)

	infos, cs, err = k.RevealAddressesTo(External, 3)
	require.NoError(t, err)
	require.Empty(t, infos)
	require.True(t, cs.IsEmpty())

	infos, _, err = k.RevealAddressesTo(External, 7)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.EqualValues(t, 6, infos[0].Index)

	require.Len(t, k.RevealedScripts(), 8)
}

// TestNextUnusedAddress checks that the lowest unused revealed address is
// returned until it gets used.
func TestNextUnusedAddress(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)

	info, cs, err := k.NextUnusedAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())
	require.False(t, cs.IsEmpty())

	info, cs, err = k.NextUnusedAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())
	require.True(t, cs.IsEmpty())

	require.True(t, k.MarkUsed(External, 0))
	require.False(t, k.MarkUsed(External, 0))

	info, _, err = k.NextUnusedAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr1, info.Address.EncodeAddress())

	unused, err := k.ListUnusedAddresses(External)
	require.NoError(t, err)
	require.Len(t, unused, 1)
	require.EqualValues(t, 1, unused[0].Index)

	require.True(t, k.UnmarkUsed(External, 0))
	require.False(t, k.UnmarkUsed(External, 0))

	unused, err = k.ListUnusedAddresses(External)
	require.NoError(t, err)
	require.Len(t, unused, 2)
}

// TestScanTxOut checks that outputs to lookahead scripts are recognized,
// marked used and revealed.
func TestScanTxOut(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	desc := mustParse(t, testExternal)

	script10, err := desc.PkScript(10)
	require.NoError(t, err)
	script40, err := desc.PkScript(40)
	require.NoError(t, err)

	require.True(t, k.IsMine(script10))
	require.False(t, k.IsMine(script40))

	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(1000, script10))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	cs, err := k.ScanTxOut(tx)
	require.NoError(t, err)
	require.Equal(t, map[KeychainKind]uint32{External: 10}, cs.LastRevealed)
	require.True(t, k.IsUsed(External, 10))
	require.Equal(t, uint32(10), k.LastUsedIndex(External).UnwrapOr(0))

	// The lookahead window moved along with the revealed index, up to
	// index 35.
	_, _, ok := k.IndexOfScript(script40)
	require.False(t, ok)

	script35, err := desc.PkScript(35)
	require.NoError(t, err)
	keychain, index, ok := k.IndexOfScript(script35)
	require.True(t, ok)
	require.Equal(t, External, keychain)
	require.EqualValues(t, 35, index)

	// Scanning again changes nothing.
	cs, err = k.ScanTxOut(tx)
	require.NoError(t, err)
	require.True(t, cs.IsEmpty())
}

// TestDescriptorConflict checks that two descriptors deriving the same
// scripts are rejected.
func TestDescriptorConflict(t *testing.T) {
	t.Parallel()

	_, err := New(
		mustParse(t, testExternal), mustParse(t, testExternal),
		DefaultLookahead,
	)
	require.ErrorIs(t, err, ErrDescriptorConflict)

	_, err = New(
		mustParse(t, testExternal), mustParse(t, testPublicExternal),
		DefaultLookahead,
	)
	require.ErrorIs(t, err, ErrDescriptorConflict)
}

// TestSingleDescriptor checks that the internal keychain falls back to the
// external descriptor.
func TestSingleDescriptor(t *testing.T) {
	t.Parallel()

	k, err := New(mustParse(t, testExternal), nil, DefaultLookahead)
	require.NoError(t, err)
	require.Equal(t, []KeychainKind{External}, k.Keychains())

	info, cs, err := k.RevealNextAddress(Internal)
	require.NoError(t, err)
	require.Equal(t, External, info.Keychain)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())
	require.Equal(t, map[KeychainKind]uint32{External: 0}, cs.LastRevealed)
	require.Equal(t, k.LastRevealedIndex(External),
		k.LastRevealedIndex(Internal))
}

// TestNonRangedDescriptor checks that a descriptor without a wildcard only
// ever reveals index 0.
func TestNonRangedDescriptor(t *testing.T) {
	t.Parallel()

	k, err := New(
		mustParse(t, "wpkh("+testTprv+"/84'/1'/0'/0/5)"), nil,
		DefaultLookahead,
	)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		info, _, err := k.RevealNextAddress(External)
		require.NoError(t, err)
		require.EqualValues(t, 0, info.Index)
	}

	infos, _, err := k.RevealAddressesTo(External, 10)
	require.NoError(t, err)
	require.Empty(t, infos)
	require.Len(t, k.RevealedScripts(), 1)

	next := k.UnboundedScripts(External)
	_, ok := next(0)
	require.True(t, ok)
	_, ok = next(1)
	require.False(t, ok)
}

// TestUnboundedScripts checks that full scan scripts reach past the
// lookahead window without revealing anything.
func TestUnboundedScripts(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	next := k.UnboundedScripts(Internal)

	script, ok := next(1)
	require.True(t, ok)
	want, err := k.Descriptor(Internal).PkScript(1)
	require.NoError(t, err)
	require.Equal(t, want, script)
	require.True(t, k.IsMine(script))

	far := uint32(DefaultLookahead + 500)
	script, ok = next(far)
	require.True(t, ok)
	require.False(t, k.IsMine(script))
	require.Empty(t, k.RevealedScripts())

	_, ok = next(1 << 31)
	require.False(t, ok)
}

// TestPrivKey checks that watch-only key rings refuse to hand out private
// keys.
func TestPrivKey(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	priv, err := k.PrivKey(External, 0)
	require.NoError(t, err)

	key, err := k.DerivedKey(External, 0)
	require.NoError(t, err)
	require.True(t, priv.PubKey().IsEqual(key.PubKey))

	watchOnly, err := New(
		mustParse(t, testPublicExternal),
		mustParse(t, testPublicInternal), DefaultLookahead,
	)
	require.NoError(t, err)

	_, err = watchOnly.PrivKey(External, 0)
	require.ErrorIs(t, err, descriptor.ErrMissingPrivateKey)

	// Watch-only key rings derive the same addresses.
	info, _, err := watchOnly.RevealNextAddress(External)
	require.NoError(t, err)
	require.Equal(t, testAddr0, info.Address.EncodeAddress())
}

// TestApplyChangeSet checks that applying a change set restores the revealed
// indices and never lowers them.
func TestApplyChangeSet(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	_, cs, err := k.RevealAddressesTo(Internal, 4)
	require.NoError(t, err)

	restored := newTestKeyRing(t)
	require.NoError(t, restored.ApplyChangeSet(cs))
	require.Equal(t, k.LastRevealedIndex(Internal),
		restored.LastRevealedIndex(Internal))
	require.Equal(t, cs, restored.InitialChangeSet())

	lower := NewChangeSet()
	lower.LastRevealed[Internal] = 1
	require.NoError(t, restored.ApplyChangeSet(lower))
	require.Equal(t, uint32(4),
		restored.LastRevealedIndex(Internal).UnwrapOr(0))
}

// TestRevealMonotonic checks that no sequence of operations lowers a
// keychain's revealed index.
func TestRevealMonotonic(t *testing.T) {
	t.Parallel()

	ext := mustParse(t, testExternal)
	internal := mustParse(t, testInternal)

	rapid.Check(t, func(t *rapid.T) {
		k, err := New(ext, internal, 5)
		require.NoError(t, err)

		prev := map[KeychainKind]int64{External: -1, Internal: -1}
		steps := rapid.IntRange(1, 30).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			keychain := KeychainKind(
				rapid.IntRange(0, 1).Draw(t, "keychain"),
			)

			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				_, _, err = k.RevealNextAddress(keychain)
			case 1:
				target := rapid.Uint32Range(0, 20).Draw(
					t, "target",
				)
				_, _, err = k.RevealAddressesTo(keychain, target)
			case 2:
				_, _, err = k.NextUnusedAddress(keychain)
			case 3:
				k.MarkUsed(keychain, rapid.Uint32Range(
					0, 20,
				).Draw(t, "used"))
			}
			require.NoError(t, err)

			for _, kc := range KeychainKinds {
				cur := int64(-1)
				k.LastRevealedIndex(kc).WhenSome(func(i uint32) {
					cur = int64(i)
				})
				require.GreaterOrEqual(t, cur, prev[kc])
				prev[kc] = cur
			}
		}
	})
}

// TestChangeSetMerge checks that merging is commutative, associative and
// idempotent.
func TestChangeSetMerge(t *testing.T) {
	t.Parallel()

	gen := rapid.Custom(func(t *rapid.T) ChangeSet {
		cs := NewChangeSet()
		for _, k := range KeychainKinds {
			if rapid.Bool().Draw(t, "present") {
				cs.LastRevealed[k] = rapid.Uint32Range(
					0, 100,
				).Draw(t, "index")
			}
		}
		return cs
	})

	rapid.Check(t, func(t *rapid.T) {
		a, b, c := gen.Draw(t, "a"), gen.Draw(t, "b"), gen.Draw(t, "c")

		require.Equal(t, a.Merge(b), b.Merge(a))
		require.Equal(t, a.Merge(b.Merge(c)), a.Merge(b).Merge(c))
		require.Equal(t, a, a.Merge(a))
	})
}

// TestClone checks that a clone and its original evolve independently.
func TestClone(t *testing.T) {
	t.Parallel()

	k := newTestKeyRing(t)
	_, _, err := k.RevealNextAddress(External)
	require.NoError(t, err)

	c := k.Clone()
	require.Equal(t, k.RevealedScripts(), c.RevealedScripts())

	_, _, err = c.RevealAddressesTo(External, 40)
	require.NoError(t, err)
	require.True(t, c.MarkUsed(External, 0))

	require.Equal(t, uint32(0), k.LastRevealedIndex(External).UnwrapOr(99))
	require.False(t, k.IsUsed(External, 0))

	script, err := k.Descriptor(External).PkScript(60)
	require.NoError(t, err)
	require.True(t, c.IsMine(script))
	require.False(t, k.IsMine(script))
}
