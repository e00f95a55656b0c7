// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// KeyOrigin records where a key sits in a wallet's derivation tree: the
// fingerprint of the master key and the path from the master to the key.
type KeyOrigin struct {
	Fingerprint [4]byte
	Path        []uint32
}

// FingerprintUint32 returns the fingerprint in the little-endian integer
// form used by PSBT derivation records.
func (o KeyOrigin) FingerprintUint32() uint32 {
	return binary.LittleEndian.Uint32(o.Fingerprint[:])
}

// String renders the origin without its enclosing brackets.
func (o KeyOrigin) String() string {
	return hex.EncodeToString(o.Fingerprint[:]) + formatPath(o.Path)
}

// WildcardKind tells whether and how a key expression ranges over child
// indices.
type WildcardKind uint8

const (
	// NoWildcard marks a key expression that resolves to a single key.
	NoWildcard WildcardKind = iota

	// UnhardenedWildcard marks a trailing "/*".
	UnhardenedWildcard

	// HardenedWildcard marks a trailing "/*'". Only private keys can be
	// derived along it.
	HardenedWildcard
)

// KeyExpr is a parsed key expression: an extended key with an optional
// origin, a fixed derivation path and an optional wildcard step.
type KeyExpr struct {
	Origin   *KeyOrigin
	Key      *hdkeychain.ExtendedKey
	Path     []uint32
	Wildcard WildcardKind

	// base is Key derived along Path.
	base *hdkeychain.ExtendedKey
}

// String renders the key expression in descriptor syntax.
func (k *KeyExpr) String() string {
	var sb strings.Builder
	if k.Origin != nil {
		sb.WriteString("[" + k.Origin.String() + "]")
	}
	sb.WriteString(k.Key.String())
	sb.WriteString(formatPath(k.Path))

	switch k.Wildcard {
	case UnhardenedWildcard:
		sb.WriteString("/*")
	case HardenedWildcard:
		sb.WriteString("/*'")
	}

	return sb.String()
}

// IsPrivate reports whether the expression carries a private key.
func (k *KeyExpr) IsPrivate() bool {
	return k.Key.IsPrivate()
}

// rootOrigin returns the fingerprint and path that prefix every key derived
// from this expression.
func (k *KeyExpr) rootOrigin() (KeyOrigin, error) {
	if k.Origin != nil {
		path := make([]uint32, 0, len(k.Origin.Path)+len(k.Path))
		path = append(path, k.Origin.Path...)
		path = append(path, k.Path...)

		return KeyOrigin{Fingerprint: k.Origin.Fingerprint, Path: path},
			nil
	}

	fp, err := keyFingerprint(k.Key)
	if err != nil {
		return KeyOrigin{}, err
	}

	return KeyOrigin{
		Fingerprint: fp,
		Path:        append([]uint32(nil), k.Path...),
	}, nil
}

// deriveChild returns the extended key at the given wildcard index together
// with the step that was taken, if any.
func (k *KeyExpr) deriveChild(index uint32) (*hdkeychain.ExtendedKey,
	[]uint32, error) {

	if index >= hdkeychain.HardenedKeyStart {
		return nil, nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	switch k.Wildcard {
	case NoWildcard:
		if index != 0 {
			return nil, nil, fmt.Errorf("%w: %d on non-ranged key",
				ErrIndexOutOfRange, index)
		}

		return k.base, nil, nil

	case HardenedWildcard:
		index += hdkeychain.HardenedKeyStart
	}

	child, err := k.base.Derive(index)
	if err != nil {
		return nil, nil, err
	}

	return child, []uint32{index}, nil
}

// public converts a private key expression into the equivalent public one.
// The key is derived along the hardened prefix of the path, which then moves
// into the origin.
func (k *KeyExpr) public() (*KeyExpr, error) {
	if !k.IsPrivate() {
		cpy := *k
		return &cpy, nil
	}
	if k.Wildcard == HardenedWildcard {
		return nil, ErrHardenedPublicDerivation
	}

	lastHardened := -1
	for i, step := range k.Path {
		if step >= hdkeychain.HardenedKeyStart {
			lastHardened = i
		}
	}
	hardened := k.Path[:lastHardened+1]

	key := k.Key
	for _, step := range hardened {
		var err error
		key, err = key.Derive(step)
		if err != nil {
			return nil, err
		}
	}
	xpub, err := key.Neuter()
	if err != nil {
		return nil, err
	}
	base, err := k.base.Neuter()
	if err != nil {
		return nil, err
	}

	var origin *KeyOrigin
	switch {
	case k.Origin != nil:
		path := append([]uint32(nil), k.Origin.Path...)
		origin = &KeyOrigin{
			Fingerprint: k.Origin.Fingerprint,
			Path:        append(path, hardened...),
		}

	case len(hardened) > 0:
		fp, err := keyFingerprint(k.Key)
		if err != nil {
			return nil, err
		}
		origin = &KeyOrigin{
			Fingerprint: fp,
			Path:        append([]uint32(nil), hardened...),
		}
	}

	return &KeyExpr{
		Origin:   origin,
		Key:      xpub,
		Path:     append([]uint32(nil), k.Path[lastHardened+1:]...),
		Wildcard: k.Wildcard,
		base:     base,
	}, nil
}

// parseKeyExpr parses a key expression such as
// "[d34db33f/84'/0'/0']xpub.../0/*".
func parseKeyExpr(s string, params *chaincfg.Params) (*KeyExpr, error) {
	expr := &KeyExpr{}

	if strings.HasPrefix(s, "[") {
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, parseErrorf("key origin start '[' without " +
				"closing ']'")
		}

		origin, err := parseOrigin(s[1:end])
		if err != nil {
			return nil, err
		}
		expr.Origin = origin
		s = s[end+1:]
	}

	if strings.ContainsAny(s, "<>;") {
		return nil, parseErrorf("multipath key expressions are not " +
			"supported")
	}

	parts := strings.Split(s, "/")
	key, err := hdkeychain.NewKeyFromString(parts[0])
	if err != nil {
		return nil, &ParseError{Reason: "invalid extended key", Err: err}
	}
	if !key.IsForNet(params) {
		return nil, parseErrorf("extended key is not for network %v",
			params.Name)
	}
	expr.Key = key

	steps := parts[1:]
	if n := len(steps); n > 0 {
		switch steps[n-1] {
		case "*":
			expr.Wildcard = UnhardenedWildcard
			steps = steps[:n-1]

		case "*'", "*h", "*H":
			if !key.IsPrivate() {
				return nil, parseErrorf("hardened wildcard " +
					"requires a private key")
			}
			expr.Wildcard = HardenedWildcard
			steps = steps[:n-1]
		}
	}

	expr.Path, err = parsePath(steps)
	if err != nil {
		return nil, err
	}

	expr.base = key
	for _, step := range expr.Path {
		expr.base, err = expr.base.Derive(step)
		if errors.Is(err, hdkeychain.ErrDeriveHardFromPublic) {
			return nil, parseErrorf("hardened derivation step " +
				"below a public key")
		}
		if err != nil {
			return nil, &ParseError{
				Reason: "key derivation failed", Err: err,
			}
		}
	}

	return expr, nil
}

func parseOrigin(s string) (*KeyOrigin, error) {
	parts := strings.Split(s, "/")
	fp, err := hex.DecodeString(parts[0])
	if err != nil || len(fp) != 4 {
		return nil, parseErrorf("fingerprint %q is not 4 hex bytes",
			parts[0])
	}

	path, err := parsePath(parts[1:])
	if err != nil {
		return nil, err
	}

	origin := &KeyOrigin{Path: path}
	copy(origin.Fingerprint[:], fp)

	return origin, nil
}

func parsePath(steps []string) ([]uint32, error) {
	path := make([]uint32, 0, len(steps))
	for _, step := range steps {
		hardened := false
		switch {
		case strings.HasSuffix(step, "'"), strings.HasSuffix(step, "h"),
			strings.HasSuffix(step, "H"):

			hardened = true
			step = step[:len(step)-1]
		}

		// Leading signs and empty steps are rejected by ParseUint.
		idx, err := strconv.ParseUint(step, 10, 32)
		if err != nil || idx >= hdkeychain.HardenedKeyStart {
			return nil, parseErrorf("invalid derivation step %q",
				step)
		}
		if hardened {
			idx += hdkeychain.HardenedKeyStart
		}
		path = append(path, uint32(idx))
	}

	return path, nil
}

func formatPath(path []uint32) string {
	var sb strings.Builder
	for _, step := range path {
		sb.WriteByte('/')
		if step >= hdkeychain.HardenedKeyStart {
			sb.WriteString(strconv.FormatUint(
				uint64(step-hdkeychain.HardenedKeyStart), 10,
			))
			sb.WriteByte('\'')
			continue
		}
		sb.WriteString(strconv.FormatUint(uint64(step), 10))
	}

	return sb.String()
}

// keyFingerprint returns the first four bytes of the HASH160 of the key's
// compressed public key.
func keyFingerprint(key *hdkeychain.ExtendedKey) ([4]byte, error) {
	var fp [4]byte

	pub, err := key.ECPubKey()
	if err != nil {
		return fp, err
	}
	copy(fp[:], btcutil.Hash160(pub.SerializeCompressed()))

	return fp, nil
}

// DerivedKey is a single key produced from a descriptor at some index.
type DerivedKey struct {
	// PubKey is the derived public key.
	PubKey *btcec.PublicKey

	// Origin is the master fingerprint together with the full derivation
	// path of PubKey.
	Origin KeyOrigin

	// Index is the wildcard index the key was derived at.
	Index uint32

	extended *hdkeychain.ExtendedKey
}

// PrivKey returns the private key for the derived key, or
// ErrMissingPrivateKey if the descriptor only holds public keys.
func (d *DerivedKey) PrivKey() (*btcec.PrivateKey, error) {
	if !d.extended.IsPrivate() {
		return nil, ErrMissingPrivateKey
	}

	return d.extended.ECPrivKey()
}
