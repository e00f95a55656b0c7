// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import "github.com/btcsuite/descwallet/wallet/walletstore"

// ChangeSet is the aggregate of the change sets of every wallet part. It is
// what the wallet stages and what the store persists.
type ChangeSet = walletstore.ChangeSet

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return walletstore.NewChangeSet()
}
