// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package descriptor parses single-key output script descriptors and derives
// scripts, addresses and keys from them.
//
// The supported script templates form a closed set:
//
//	pkh(KEY)        pay-to-pubkey-hash
//	sh(wpkh(KEY))   pay-to-witness-pubkey-hash nested in pay-to-script-hash
//	wpkh(KEY)       pay-to-witness-pubkey-hash
//	tr(KEY)         pay-to-taproot, key path only (BIP-86 tweak)
//
// KEY is an extended key with an optional origin, a derivation path and an
// optional trailing wildcard, e.g. "[d34db33f/84'/0'/0']xpub.../0/*".
package descriptor

import (
	"strings"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// ScriptType identifies the script template of a descriptor.
type ScriptType uint8

const (
	// PKH is a legacy pay-to-pubkey-hash output.
	PKH ScriptType = iota

	// SHWPKH is a pay-to-witness-pubkey-hash output nested in a
	// pay-to-script-hash output.
	SHWPKH

	// WPKH is a native segwit v0 pay-to-witness-pubkey-hash output.
	WPKH

	// TR is a segwit v1 pay-to-taproot output spent through the key path.
	TR
)

// String returns the descriptor function name of the script type.
func (s ScriptType) String() string {
	switch s {
	case PKH:
		return "pkh"
	case SHWPKH:
		return "sh(wpkh)"
	case WPKH:
		return "wpkh"
	case TR:
		return "tr"
	default:
		return "unknown"
	}
}

// Descriptor is a parsed output descriptor. It is immutable.
type Descriptor struct {
	scriptType ScriptType
	key        *KeyExpr
	params     *chaincfg.Params
}

// Parse parses a descriptor for the given network. A trailing checksum is
// verified when present. Every malformed input yields a *ParseError.
func Parse(s string, params *chaincfg.Params) (*Descriptor, error) {
	desc, err := splitChecksum(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}

	var (
		scriptType ScriptType
		inner      string
		ok         bool
	)
	switch {
	case strings.HasPrefix(desc, "sh("):
		inner, ok = unwrap(desc, "sh")
		if !ok {
			return nil, parseErrorf("unbalanced parentheses in sh()")
		}
		if !strings.HasPrefix(inner, "wpkh(") {
			return nil, parseErrorf("only sh(wpkh()) is supported")
		}
		inner, ok = unwrap(inner, "wpkh")
		scriptType = SHWPKH

	case strings.HasPrefix(desc, "wpkh("):
		inner, ok = unwrap(desc, "wpkh")
		scriptType = WPKH

	case strings.HasPrefix(desc, "pkh("):
		inner, ok = unwrap(desc, "pkh")
		scriptType = PKH

	case strings.HasPrefix(desc, "tr("):
		inner, ok = unwrap(desc, "tr")
		scriptType = TR

	default:
		fn := desc
		if idx := strings.IndexByte(desc, '('); idx >= 0 {
			fn = desc[:idx]
		}
		return nil, parseErrorf("unsupported descriptor function %q",
			fn)
	}
	if !ok {
		return nil, parseErrorf("unbalanced parentheses in %v()",
			scriptType)
	}

	if strings.ContainsAny(inner, "(),{}") {
		return nil, parseErrorf("unexpected expression in %v key",
			scriptType)
	}

	key, err := parseKeyExpr(inner, params)
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		scriptType: scriptType,
		key:        key,
		params:     params,
	}, nil
}

// unwrap strips "name(" and the matching ")" from s. It fails when the
// closing parenthesis is not the final character.
func unwrap(s, name string) (string, bool) {
	if !strings.HasPrefix(s, name+"(") {
		return "", false
	}

	depth := 0
	for i := len(name); i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				if i != len(s)-1 {
					return "", false
				}
				return s[len(name)+1 : i], true
			}
		}
	}

	return "", false
}

// ScriptType returns the script template of the descriptor.
func (d *Descriptor) ScriptType() ScriptType {
	return d.scriptType
}

// Key returns the parsed key expression.
func (d *Descriptor) Key() *KeyExpr {
	return d.key
}

// Params returns the network the descriptor was parsed for.
func (d *Descriptor) Params() *chaincfg.Params {
	return d.params
}

// IsRanged reports whether the descriptor has a wildcard step. A non-ranged
// descriptor only has index 0.
func (d *Descriptor) IsRanged() bool {
	return d.key.Wildcard != NoWildcard
}

// HasPrivateKey reports whether the descriptor can produce signing keys.
func (d *Descriptor) HasPrivateKey() bool {
	return d.key.IsPrivate()
}

// String renders the descriptor, including private keys when present, with
// its checksum appended.
func (d *Descriptor) String() string {
	var body string
	switch d.scriptType {
	case SHWPKH:
		body = "sh(wpkh(" + d.key.String() + "))"
	default:
		body = d.scriptType.String() + "(" + d.key.String() + ")"
	}

	// All characters we emit are part of the checksum charset.
	s, _ := AddChecksum(body)
	return s
}

// Fingerprint returns the master key fingerprint the descriptor's keys
// descend from. For keys without an origin it is the fingerprint of the
// extended key itself.
func (d *Descriptor) Fingerprint() ([4]byte, error) {
	origin, err := d.key.rootOrigin()
	if err != nil {
		return [4]byte{}, err
	}

	return origin.Fingerprint, nil
}

// Public returns the descriptor with every private key replaced by its
// public counterpart.
func (d *Descriptor) Public() (*Descriptor, error) {
	key, err := d.key.public()
	if err != nil {
		return nil, err
	}

	return &Descriptor{
		scriptType: d.scriptType,
		key:        key,
		params:     d.params,
	}, nil
}

// Derive returns the key at the given index.
func (d *Descriptor) Derive(index uint32) (*DerivedKey, error) {
	child, step, err := d.key.deriveChild(index)
	if err != nil {
		return nil, err
	}

	origin, err := d.key.rootOrigin()
	if err != nil {
		return nil, err
	}
	origin.Path = append(origin.Path, step...)

	pub, err := child.ECPubKey()
	if err != nil {
		return nil, err
	}

	return &DerivedKey{
		PubKey:   pub,
		Origin:   origin,
		Index:    index,
		extended: child,
	}, nil
}

// Address returns the address at the given index.
func (d *Descriptor) Address(index uint32) (btcutil.Address, error) {
	key, err := d.Derive(index)
	if err != nil {
		return nil, err
	}

	return d.address(key)
}

func (d *Descriptor) address(key *DerivedKey) (btcutil.Address, error) {
	pubKeyHash := btcutil.Hash160(key.PubKey.SerializeCompressed())

	switch d.scriptType {
	case PKH:
		return btcutil.NewAddressPubKeyHash(pubKeyHash, d.params)

	case SHWPKH:
		redeemScript, err := p2wpkhScript(pubKeyHash, d.params)
		if err != nil {
			return nil, err
		}
		return btcutil.NewAddressScriptHash(redeemScript, d.params)

	case WPKH:
		return btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, d.params)

	default:
		outputKey := txscript.ComputeTaprootKeyNoScript(key.PubKey)
		return btcutil.NewAddressTaproot(
			schnorr.SerializePubKey(outputKey), d.params,
		)
	}
}

// PkScript returns the output script at the given index.
func (d *Descriptor) PkScript(index uint32) ([]byte, error) {
	addr, err := d.Address(index)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}

// RedeemScript returns the redeem script needed to spend the output at the
// given index, or nil if the script type has none.
func (d *Descriptor) RedeemScript(index uint32) ([]byte, error) {
	if d.scriptType != SHWPKH {
		return nil, nil
	}

	key, err := d.Derive(index)
	if err != nil {
		return nil, err
	}

	return p2wpkhScript(
		btcutil.Hash160(key.PubKey.SerializeCompressed()), d.params,
	)
}

func p2wpkhScript(pubKeyHash []byte, params *chaincfg.Params) ([]byte,
	error) {

	addr, err := btcutil.NewAddressWitnessPubKeyHash(pubKeyHash, params)
	if err != nil {
		return nil, err
	}

	return txscript.PayToAddrScript(addr)
}
