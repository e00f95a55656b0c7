// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package esplora implements a chain.Backend over the Esplora REST API.
package esplora

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/descwallet/chain"
)

const (
	// confirmedPageSize is the number of confirmed transactions the API
	// returns per page of script history.
	confirmedPageSize = 25

	// DefaultRequestTimeout is the default timeout of a single request.
	DefaultRequestTimeout = 30 * time.Second
)

// ErrUnexpectedStatus is returned for responses other than 200 and 404.
var ErrUnexpectedStatus = errors.New("unexpected response status")

// ClientConfig holds the configuration for the Esplora client.
type ClientConfig struct {
	// URL is the base URL of the Esplora API, for example
	// https://blockstream.info/testnet/api.
	URL string

	// RequestTimeout is the timeout for individual HTTP requests.
	RequestTimeout time.Duration
}

// Client is an HTTP client for the Esplora REST API.
type Client struct {
	cfg        *ClientConfig
	httpClient *http.Client
}

// A compile-time assertion to ensure Client implements chain.Backend.
var _ chain.Backend = (*Client)(nil)

// NewClient creates a new Esplora client with the given configuration.
func NewClient(cfg *ClientConfig) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	return &Client{
		cfg: &ClientConfig{
			URL:            strings.TrimRight(cfg.URL, "/"),
			RequestTimeout: timeout,
		},
		httpClient: &http.Client{Timeout: timeout},
	}
}

// doRequest performs an HTTP request and returns the response body. A 404
// response is reported as chain.ErrNotFound.
func (c *Client) doRequest(ctx context.Context, method, path string,
	body io.Reader) ([]byte, error) {

	req, err := http.NewRequestWithContext(
		ctx, method, c.cfg.URL+path, body,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "text/plain")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return respBody, nil

	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", chain.ErrNotFound, method,
			path)

	default:
		return nil, fmt.Errorf("%w %d for %s %s: %s",
			ErrUnexpectedStatus, resp.StatusCode, method, path,
			strings.TrimSpace(string(respBody)))
	}
}

// getJSON performs a GET request and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	body, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}

// TipHeight returns the current blockchain tip height.
func (c *Client) TipHeight(ctx context.Context) (uint32, error) {
	body, err := c.doRequest(ctx, http.MethodGet, "/blocks/tip/height", nil)
	if err != nil {
		return 0, err
	}

	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10,
		32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}

	return uint32(height), nil
}

// BlockHash returns the hash of the best chain block at the height.
func (c *Client) BlockHash(ctx context.Context,
	height uint32) (chainhash.Hash, error) {

	body, err := c.doRequest(
		ctx, http.MethodGet, fmt.Sprintf("/block-height/%d", height),
		nil,
	)
	if err != nil {
		return chainhash.Hash{}, err
	}

	hash, err := chainhash.NewHashFromStr(strings.TrimSpace(string(body)))
	if err != nil {
		return chainhash.Hash{}, fmt.Errorf("failed to parse block "+
			"hash: %w", err)
	}

	return *hash, nil
}

// scriptHash returns the identifier the API uses for a script: the hex
// encoded single SHA256 of the script. Unlike Electrum, the bytes are not
// reversed.
func scriptHash(script []byte) string {
	hash := sha256.Sum256(script)
	return hex.EncodeToString(hash[:])
}

// ScriptHistory returns every transaction paying to or spending from the
// script. Confirmed history is paged, so pages are requested until a short
// page is returned.
func (c *Client) ScriptHistory(ctx context.Context,
	script []byte) ([]chain.TxInfo, error) {

	base := "/scripthash/" + scriptHash(script) + "/txs"

	var (
		history []chain.TxInfo
		path    = base
	)
	for {
		var page []txInfo
		if err := c.getJSON(ctx, path, &page); err != nil {
			return nil, err
		}

		var (
			confirmed int
			lastTxid  string
		)
		for i := range page {
			info, err := page[i].toTxInfo()
			if err != nil {
				return nil, err
			}
			history = append(history, *info)

			if page[i].Status.Confirmed {
				confirmed++
				lastTxid = page[i].TxID
			}
		}

		if confirmed < confirmedPageSize {
			break
		}
		path = base + "/chain/" + lastTxid
	}

	log.Tracef("Fetched %d transactions for script hash %s",
		len(history), scriptHash(script))

	return history, nil
}

// TxStatus returns the confirmation status of the transaction.
func (c *Client) TxStatus(ctx context.Context,
	txid chainhash.Hash) (chain.TxStatus, error) {

	var status txStatus
	err := c.getJSON(ctx, "/tx/"+txid.String()+"/status", &status)
	if err != nil {
		return chain.TxStatus{}, err
	}

	return status.toStatus()
}

// Tx returns the transaction with its status and previous outputs.
func (c *Client) Tx(ctx context.Context,
	txid chainhash.Hash) (*chain.TxInfo, error) {

	var info txInfo
	if err := c.getJSON(ctx, "/tx/"+txid.String(), &info); err != nil {
		return nil, err
	}

	return info.toTxInfo()
}

// OutPointSpend returns the spending status of the output.
func (c *Client) OutPointSpend(ctx context.Context,
	op wire.OutPoint) (chain.OutSpend, error) {

	var spend outSpend
	err := c.getJSON(
		ctx, fmt.Sprintf("/tx/%v/outspend/%d", op.Hash, op.Index),
		&spend,
	)
	if err != nil {
		return chain.OutSpend{}, err
	}
	if !spend.Spent {
		return chain.OutSpend{}, nil
	}

	txid, err := chainhash.NewHashFromStr(spend.TxID)
	if err != nil {
		return chain.OutSpend{}, fmt.Errorf("invalid spending txid: %w",
			err)
	}
	status, err := spend.Status.toStatus()
	if err != nil {
		return chain.OutSpend{}, err
	}

	return chain.OutSpend{
		Spent:  true,
		Txid:   *txid,
		Vin:    spend.Vin,
		Status: status,
	}, nil
}

// Broadcast submits the transaction to the network.
func (c *Client) Broadcast(ctx context.Context, tx *wire.MsgTx) error {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return fmt.Errorf("failed to serialize tx: %w", err)
	}

	body, err := c.doRequest(
		ctx, http.MethodPost, "/tx",
		strings.NewReader(hex.EncodeToString(buf.Bytes())),
	)
	if err != nil {
		return err
	}

	if txid := strings.TrimSpace(string(body)); txid != tx.TxHash().String() {
		log.Warnf("Broadcast of %v returned txid %s", tx.TxHash(), txid)
	}

	return nil
}

// FeeEstimates returns fee rate estimates keyed by confirmation target.
func (c *Client) FeeEstimates(
	ctx context.Context) (map[uint16]chain.SatPerVByte, error) {

	var raw map[string]float64
	if err := c.getJSON(ctx, "/fee-estimates", &raw); err != nil {
		return nil, err
	}

	estimates := make(map[uint16]chain.SatPerVByte, len(raw))
	for target, rate := range raw {
		blocks, err := strconv.ParseUint(target, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid confirmation target "+
				"%q: %w", target, err)
		}
		estimates[uint16(blocks)] = chain.SatPerVByte(rate)
	}

	return estimates, nil
}
