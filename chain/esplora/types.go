// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package esplora

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
)

// txStatus is the confirmation status of a transaction.
type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint32 `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   uint64 `json:"block_time,omitempty"`
}

func (s *txStatus) toStatus() (chain.TxStatus, error) {
	if !s.Confirmed {
		return chain.TxStatus{}, nil
	}

	hash, err := chainhash.NewHashFromStr(s.BlockHash)
	if err != nil {
		return chain.TxStatus{}, fmt.Errorf("invalid block hash: %w",
			err)
	}

	return chain.TxStatus{
		Confirmed:   true,
		BlockHeight: s.BlockHeight,
		BlockHash:   *hash,
		BlockTime:   s.BlockTime,
	}, nil
}

// txInfo is a transaction as returned by the API.
type txInfo struct {
	TxID     string   `json:"txid"`
	Version  int32    `json:"version"`
	LockTime uint32   `json:"locktime"`
	Vin      []txVin  `json:"vin"`
	Vout     []txVout `json:"vout"`
	Status   txStatus `json:"status"`
}

// txVin is a transaction input.
type txVin struct {
	TxID       string   `json:"txid"`
	Vout       uint32   `json:"vout"`
	PrevOut    *txVout  `json:"prevout,omitempty"`
	ScriptSig  string   `json:"scriptsig"`
	Witness    []string `json:"witness,omitempty"`
	Sequence   uint32   `json:"sequence"`
	IsCoinbase bool     `json:"is_coinbase"`
}

// txVout is a transaction output.
type txVout struct {
	ScriptPubKey string `json:"scriptpubkey"`
	Value        int64  `json:"value"`
}

func (v *txVout) toTxOut() (*wire.TxOut, error) {
	script, err := hex.DecodeString(v.ScriptPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid output script: %w", err)
	}

	return wire.NewTxOut(v.Value, script), nil
}

// outSpend is the spend status of an output.
type outSpend struct {
	Spent  bool     `json:"spent"`
	TxID   string   `json:"txid,omitempty"`
	Vin    uint32   `json:"vin,omitempty"`
	Status txStatus `json:"status,omitempty"`
}

// toTxInfo rebuilds the wire transaction from its JSON form and checks it
// hashes to the reported txid.
func (t *txInfo) toTxInfo() (*chain.TxInfo, error) {
	tx := wire.NewMsgTx(t.Version)
	tx.LockTime = t.LockTime

	prevouts := make([]*wire.TxOut, len(t.Vin))
	for i, vin := range t.Vin {
		var op wire.OutPoint
		if vin.IsCoinbase {
			op.Index = wire.MaxPrevOutIndex
		} else {
			hash, err := chainhash.NewHashFromStr(vin.TxID)
			if err != nil {
				return nil, fmt.Errorf("invalid input txid: %w",
					err)
			}
			op = wire.OutPoint{Hash: *hash, Index: vin.Vout}
		}

		var (
			sigScript []byte
			witness   wire.TxWitness
			err       error
		)
		if vin.ScriptSig != "" {
			sigScript, err = hex.DecodeString(vin.ScriptSig)
			if err != nil {
				return nil, fmt.Errorf("invalid input "+
					"script: %w", err)
			}
		}
		for _, item := range vin.Witness {
			data, err := hex.DecodeString(item)
			if err != nil {
				return nil, fmt.Errorf("invalid witness: %w",
					err)
			}
			witness = append(witness, data)
		}

		txIn := wire.NewTxIn(&op, sigScript, witness)
		txIn.Sequence = vin.Sequence
		tx.AddTxIn(txIn)

		if vin.PrevOut != nil {
			prevouts[i], err = vin.PrevOut.toTxOut()
			if err != nil {
				return nil, err
			}
		}
	}

	for _, vout := range t.Vout {
		txOut, err := vout.toTxOut()
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(txOut)
	}

	if txid := tx.TxHash().String(); txid != t.TxID {
		return nil, fmt.Errorf("transaction %s decodes to txid %s",
			t.TxID, txid)
	}

	status, err := t.Status.toStatus()
	if err != nil {
		return nil, err
	}

	return &chain.TxInfo{
		Tx:       tx,
		Status:   status,
		Prevouts: prevouts,
	}, nil
}
