// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chain

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/mock"
)

// mockBackend is a mock implementation of Backend.
type mockBackend struct {
	mock.Mock
}

// A compile-time assertion to ensure mockBackend implements Backend.
var _ Backend = (*mockBackend)(nil)

func (m *mockBackend) TipHeight(ctx context.Context) (uint32, error) {
	args := m.Called(ctx)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *mockBackend) BlockHash(ctx context.Context,
	height uint32) (chainhash.Hash, error) {

	args := m.Called(ctx, height)
	return args.Get(0).(chainhash.Hash), args.Error(1)
}

func (m *mockBackend) ScriptHistory(ctx context.Context,
	script []byte) ([]TxInfo, error) {

	args := m.Called(ctx, script)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]TxInfo), args.Error(1)
}

func (m *mockBackend) TxStatus(ctx context.Context,
	txid chainhash.Hash) (TxStatus, error) {

	args := m.Called(ctx, txid)
	return args.Get(0).(TxStatus), args.Error(1)
}

func (m *mockBackend) Tx(ctx context.Context,
	txid chainhash.Hash) (*TxInfo, error) {

	args := m.Called(ctx, txid)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*TxInfo), args.Error(1)
}

func (m *mockBackend) OutPointSpend(ctx context.Context,
	op wire.OutPoint) (OutSpend, error) {

	args := m.Called(ctx, op)
	return args.Get(0).(OutSpend), args.Error(1)
}

func (m *mockBackend) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

func (m *mockBackend) FeeEstimates(
	ctx context.Context) (map[uint16]SatPerVByte, error) {

	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uint16]SatPerVByte), args.Error(1)
}
