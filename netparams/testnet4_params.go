// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netparams

import (
	"encoding/hex"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// TestNet4 is the network magic of the test network (version 4, BIP94).
const TestNet4 wire.BitcoinNet = 0x1c163f28

// TestNet4ChainParams defines the chain parameters of the test network
// (version 4). Address and key encodings are shared with testnet3, so the
// wallet only needs the network identity and the genesis block to differ.
var TestNet4ChainParams = newTestNet4Params()

func newTestNet4Params() chaincfg.Params {
	params := chaincfg.TestNet3Params

	params.Name = "testnet4"
	params.Net = TestNet4
	params.DefaultPort = "48333"
	params.DNSSeeds = []chaincfg.DNSSeed{
		{Host: "seed.testnet4.bitcoin.sprovoost.nl", HasFiltering: true},
		{Host: "seed.testnet4.wiz.biz", HasFiltering: true},
	}

	genesis := testNet4Genesis()
	hash := genesis.BlockHash()
	params.GenesisBlock = genesis
	params.GenesisHash = &hash
	params.PowLimit = new(big.Int).Sub(
		new(big.Int).Lsh(big.NewInt(1), 224), big.NewInt(1),
	)

	// BIP94 activates the earlier soft forks from block 1.
	params.BIP0034Height = 1
	params.BIP0065Height = 1
	params.BIP0066Height = 1
	params.Checkpoints = nil

	return params
}

// Coinbase scripts of the testnet4 genesis block. The signature script
// embeds a date and a mainnet block hash.
const (
	testNet4SigScript = "04ffff001d01044c4c30332f4d61792f32303234203030" +
		"30303030303030303030303030303030303031656264353863323434" +
		"39373062336161396437383362623030313031316662653865613865" +
		"393865303065"

	testNet4PkScript = "2100000000000000000000000000000000000000000000" +
		"0000000000000000000000ac"
)

// testNet4Genesis builds the genesis block of the test network (version 4).
func testNet4Genesis() *wire.MsgBlock {
	sigScript, _ := hex.DecodeString(testNet4SigScript)
	pkScript, _ := hex.DecodeString(testNet4PkScript)

	coinbase := wire.NewMsgTx(1)
	coinbase.AddTxIn(wire.NewTxIn(
		wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		sigScript, nil,
	))
	coinbase.AddTxOut(wire.NewTxOut(50*1e8, pkScript))

	merkleRoot := coinbase.TxHash()
	header := wire.NewBlockHeader(
		1, &chainhash.Hash{}, &merkleRoot, 0x1d00ffff, 393743547,
	)
	header.Timestamp = time.Unix(1714777860, 0)

	block := wire.NewMsgBlock(header)
	_ = block.AddTransaction(coinbase)

	return block
}
