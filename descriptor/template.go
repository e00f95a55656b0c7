// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package descriptor

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
)

// purposeForType maps a script type to its BIP-43 purpose.
var purposeForType = map[ScriptType]uint32{
	PKH:    44,
	SHWPKH: 49,
	WPKH:   84,
	TR:     86,
}

// Template builds the standard external and internal descriptor pair for
// the given script type.
//
// If key is private it must be a master key; the account path
// purpose'/coin'/0' is appended to it. If key is public it must be the
// account-level key and fingerprint must be the master key fingerprint.
func Template(scriptType ScriptType, key *hdkeychain.ExtendedKey,
	fingerprint [4]byte, params *chaincfg.Params) (*Descriptor,
	*Descriptor, error) {

	purpose, ok := purposeForType[scriptType]
	if !ok {
		return nil, nil, fmt.Errorf("unknown script type %d",
			scriptType)
	}
	if !key.IsForNet(params) {
		return nil, nil, fmt.Errorf("extended key is not for network "+
			"%v", params.Name)
	}

	account := []uint32{
		purpose + hdkeychain.HardenedKeyStart,
		params.HDCoinType + hdkeychain.HardenedKeyStart,
		hdkeychain.HardenedKeyStart,
	}

	build := func(branch uint32) (*Descriptor, error) {
		var keyStr string
		if key.IsPrivate() {
			if key.Depth() != 0 {
				return nil, fmt.Errorf("private template key " +
					"must be a master key")
			}
			keyStr = fmt.Sprintf("%s%s/%d/*", key.String(),
				formatPath(account), branch)
		} else {
			origin := KeyOrigin{
				Fingerprint: fingerprint,
				Path:        account,
			}
			keyStr = fmt.Sprintf("[%s]%s/%d/*", origin.String(),
				key.String(), branch)
		}

		var body string
		if scriptType == SHWPKH {
			body = "sh(wpkh(" + keyStr + "))"
		} else {
			body = scriptType.String() + "(" + keyStr + ")"
		}

		return Parse(body, params)
	}

	external, err := build(0)
	if err != nil {
		return nil, nil, err
	}
	internal, err := build(1)
	if err != nil {
		return nil, nil, err
	}

	return external, internal, nil
}

// BIP44 returns the pkh descriptor pair for key.
func BIP44(key *hdkeychain.ExtendedKey, fingerprint [4]byte,
	params *chaincfg.Params) (*Descriptor, *Descriptor, error) {

	return Template(PKH, key, fingerprint, params)
}

// BIP49 returns the sh(wpkh) descriptor pair for key.
func BIP49(key *hdkeychain.ExtendedKey, fingerprint [4]byte,
	params *chaincfg.Params) (*Descriptor, *Descriptor, error) {

	return Template(SHWPKH, key, fingerprint, params)
}

// BIP84 returns the wpkh descriptor pair for key.
func BIP84(key *hdkeychain.ExtendedKey, fingerprint [4]byte,
	params *chaincfg.Params) (*Descriptor, *Descriptor, error) {

	return Template(WPKH, key, fingerprint, params)
}

// BIP86 returns the tr descriptor pair for key.
func BIP86(key *hdkeychain.ExtendedKey, fingerprint [4]byte,
	params *chaincfg.Params) (*Descriptor, *Descriptor, error) {

	return Template(TR, key, fingerprint, params)
}
