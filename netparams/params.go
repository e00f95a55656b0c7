// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg"
)

// Params is used to group parameters for various networks such as the main
// network and test networks.
type Params struct {
	*chaincfg.Params

	// EsploraURL is the default Esplora API of the network. It is empty
	// for networks without a public instance.
	EsploraURL string
}

// MainNetParams contains parameters specific to the main network
// (wire.MainNet).
var MainNetParams = Params{
	Params:     &chaincfg.MainNetParams,
	EsploraURL: "https://blockstream.info/api",
}

// TestNet3Params contains parameters specific to the test network (version
// 3) (wire.TestNet3).
var TestNet3Params = Params{
	Params:     &chaincfg.TestNet3Params,
	EsploraURL: "https://blockstream.info/testnet/api",
}

// TestNet4Params contains parameters specific to the test network (version
// 4).
var TestNet4Params = Params{
	Params:     &TestNet4ChainParams,
	EsploraURL: "https://mempool.space/testnet4/api",
}

// SigNetParams contains parameters specific to the default signet.
var SigNetParams = Params{
	Params:     &chaincfg.SigNetParams,
	EsploraURL: "https://mempool.space/signet/api",
}

// RegressionNetParams contains parameters specific to the regression test
// network (wire.TestNet). There is no default Esplora instance.
var RegressionNetParams = Params{
	Params: &chaincfg.RegressionNetParams,
}

var byName = map[string]*Params{
	MainNetParams.Name:       &MainNetParams,
	TestNet3Params.Name:      &TestNet3Params,
	TestNet4Params.Name:      &TestNet4Params,
	SigNetParams.Name:        &SigNetParams,
	RegressionNetParams.Name: &RegressionNetParams,
}

// ByName returns the parameters of the network with the given name as used
// by chaincfg, e.g. "mainnet" or "testnet3".
func ByName(name string) (*Params, error) {
	params, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown network %q (known networks: "+
			"%v)", name, Names())
	}

	return params, nil
}

// Names returns the names of all known networks in sorted order.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}
