// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package keyring

// ChangeSet records the highest revealed derivation index per keychain.
type ChangeSet struct {
	LastRevealed map[KeychainKind]uint32
}

// NewChangeSet returns an empty ChangeSet.
func NewChangeSet() ChangeSet {
	return ChangeSet{LastRevealed: make(map[KeychainKind]uint32)}
}

// Merge returns the union of both change sets, keeping the highest index
// for every keychain. Neither input is modified.
func (c ChangeSet) Merge(other ChangeSet) ChangeSet {
	merged := NewChangeSet()
	for _, cs := range []ChangeSet{c, other} {
		for k, idx := range cs.LastRevealed {
			if cur, ok := merged.LastRevealed[k]; !ok || idx > cur {
				merged.LastRevealed[k] = idx
			}
		}
	}

	return merged
}

// IsEmpty returns true if the change set records nothing.
func (c ChangeSet) IsEmpty() bool {
	return len(c.LastRevealed) == 0
}
