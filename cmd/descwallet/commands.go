// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/descwallet/chain"
	"github.com/btcsuite/descwallet/chain/esplora"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/internal/prompt"
	"github.com/btcsuite/descwallet/keyring"
	"github.com/btcsuite/descwallet/wallet"
)

// command is a subcommand of descwallet. opts is handed to the flags parser
// and holds the command's own options.
type command struct {
	name  string
	short string
	long  string
	opts  interface{}
	run   func(ctx context.Context, cfg *config) error
}

type createCmd struct{}

type addressCmd struct {
	Change bool `long:"change" description:"Use the internal (change) keychain"`
	List   bool `long:"list" description:"List the revealed unused addresses instead of revealing one"`
}

type sendCmd struct {
	FeeRateOptions

	To     string              `long:"to" required:"true" description:"Address to pay to"`
	Amount *cfgutil.AmountFlag `long:"amount" required:"true" description:"Amount to pay in BTC"`
	RBF    bool                `long:"rbf" description:"Signal replaceability"`
	Yes    bool                `short:"y" long:"yes" description:"Broadcast without asking"`
	DryRun bool                `long:"dryrun" description:"Print the signed PSBT instead of broadcasting"`
}

type drainCmd struct {
	FeeRateOptions

	To     string `long:"to" required:"true" description:"Address receiving the wallet's funds"`
	Yes    bool   `short:"y" long:"yes" description:"Broadcast without asking"`
	DryRun bool   `long:"dryrun" description:"Print the signed PSBT instead of broadcasting"`
}

var (
	addressOpts = &addressCmd{}
	sendOpts    = &sendCmd{
		FeeRateOptions: newFeeRateOptions(),
		Amount:         cfgutil.NewAmountFlag(0),
	}
	drainOpts = &drainCmd{
		FeeRateOptions: newFeeRateOptions(),
	}
)

var commands = []*command{{
	name:  "create",
	short: "Create a new wallet",
	long:  "Create a new wallet from the --external and --internal descriptors.",
	opts:  &createCmd{},
	run:   runCreate,
}, {
	name:  "address",
	short: "Show a receive address",
	long:  "Show the next unused address, revealing a new one when all are used.",
	opts:  addressOpts,
	run:   runAddress,
}, {
	name:  "balance",
	short: "Show the wallet balance",
	long:  "Show the wallet balance as of the last scan or sync.",
	opts:  &struct{}{},
	run:   runBalance,
}, {
	name:  "utxos",
	short: "List unspent outputs",
	long:  "List the unspent outputs of the wallet.",
	opts:  &struct{}{},
	run:   runUtxos,
}, {
	name:  "scan",
	short: "Scan the chain for wallet transactions",
	long:  "Scan every keychain until --stopgap unused scripts are found.",
	opts:  &struct{}{},
	run:   runScan,
}, {
	name:  "sync",
	short: "Sync revealed scripts",
	long:  "Update the revealed scripts, unconfirmed transactions and unspent outputs.",
	opts:  &struct{}{},
	run:   runSync,
}, {
	name:  "send",
	short: "Send funds",
	long:  "Build, sign and broadcast a payment.",
	opts:  sendOpts,
	run:   runSend,
}, {
	name:  "drain",
	short: "Send all funds",
	long:  "Build, sign and broadcast a transaction spending every wallet output.",
	opts:  drainOpts,
	run:   runDrain,
}}

var stdinReader = bufio.NewReader(os.Stdin)

// descriptors returns the descriptors from the config. When keys are needed
// and none were configured, the user is prompted for them.
func descriptors(cfg *config, needKeys bool) (string, string, error) {
	if !needKeys || cfg.External != "" {
		return cfg.External, cfg.Internal, nil
	}

	external, err := prompt.Descriptor(
		stdinReader, "Enter the external descriptor", false,
	)
	if err != nil {
		return "", "", err
	}
	internal, err := prompt.Descriptor(
		stdinReader, "Enter the internal descriptor (empty for none)",
		true,
	)
	if err != nil {
		return "", "", err
	}

	return external, internal, nil
}

// withWallet opens the wallet of the configured network, runs f and persists
// the wallet's changes.
func withWallet(cfg *config, needKeys bool,
	f func(w *wallet.Wallet) error) (err error) {

	loader := wallet.NewLoader(
		cfg.params.Params, cfg.netDir(), wallet.DefaultDBTimeout,
	)
	exists, err := loader.WalletExists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no %v wallet in %v, use the create command",
			cfg.params.Name, cfg.netDir())
	}

	external, internal, err := descriptors(cfg, needKeys)
	if err != nil {
		return err
	}
	w, err := loader.OpenWallet(external, internal)
	if err != nil {
		return err
	}
	defer func() {
		if e := loader.UnloadWallet(); e != nil && err == nil {
			err = e
		}
	}()

	return f(w)
}

// newChainClient returns a chain client for the configured Esplora API.
func newChainClient(cfg *config) (*chain.Client, error) {
	if cfg.Esplora == "" {
		return nil, fmt.Errorf("no default Esplora API for %v, use "+
			"--esplora", cfg.params.Name)
	}

	backend := esplora.NewClient(&esplora.ClientConfig{
		URL: cfg.Esplora,
	})
	return chain.NewClient(backend), nil
}

func runCreate(ctx context.Context, cfg *config) error {
	loader := wallet.NewLoader(
		cfg.params.Params, cfg.netDir(), wallet.DefaultDBTimeout,
	)
	exists, err := loader.WalletExists()
	if err != nil {
		return err
	}
	if exists {
		return wallet.ErrExists
	}

	external, internal, err := descriptors(cfg, true)
	if err != nil {
		return err
	}
	w, err := loader.CreateWallet(external, internal)
	if err != nil {
		return err
	}

	for _, k := range []keyring.KeychainKind{keyring.External,
		keyring.Internal} {

		pub, err := w.PublicDescriptor(k)
		if err != nil {
			return err
		}
		fmt.Printf("%v descriptor: %s\n", k, pub)
	}

	log.Infof("Created wallet in %v", cfg.netDir())
	return loader.UnloadWallet()
}

func runAddress(ctx context.Context, cfg *config) error {
	k := keyring.External
	if addressOpts.Change {
		k = keyring.Internal
	}

	return withWallet(cfg, false, func(w *wallet.Wallet) error {
		if addressOpts.List {
			infos, err := w.ListUnusedAddresses(k)
			if err != nil {
				return err
			}
			for _, info := range infos {
				fmt.Printf("%d\t%v\n", info.Index, info.Address)
			}
			return nil
		}

		info, err := w.NextUnusedAddress(k)
		if err != nil {
			return err
		}
		fmt.Printf("%v (%v index %d)\n", info.Address, k, info.Index)
		return nil
	})
}

func runBalance(ctx context.Context, cfg *config) error {
	return withWallet(cfg, false, func(w *wallet.Wallet) error {
		balance := w.Balance()
		tip := w.LatestCheckpoint()

		fmt.Printf("Tip:               %d %v\n", tip.Height(), tip.Hash())
		fmt.Printf("Confirmed:         %v\n", balance.Confirmed)
		fmt.Printf("Trusted pending:   %v\n", balance.TrustedPending)
		fmt.Printf("Untrusted pending: %v\n", balance.UntrustedPending)
		fmt.Printf("Immature:          %v\n", balance.Immature)
		fmt.Printf("Total:             %v\n", balance.Total())
		return nil
	})
}

func runUtxos(ctx context.Context, cfg *config) error {
	return withWallet(cfg, false, func(w *wallet.Wallet) error {
		for _, utxo := range w.ListUnspent() {
			height := "unconfirmed"
			if utxo.Position.Confirmed {
				height = fmt.Sprintf("%d",
					utxo.Position.Anchor.Block.Height)
			}
			fmt.Printf("%v\t%v\t%v/%d\t%s\n", utxo.OutPoint,
				btcutil.Amount(utxo.TxOut.Value), utxo.Keychain,
				utxo.Index, height)
		}
		return nil
	})
}

func runScan(ctx context.Context, cfg *config) error {
	client, err := newChainClient(cfg)
	if err != nil {
		return err
	}

	return withWallet(cfg, false, func(w *wallet.Wallet) error {
		update, err := client.FullScan(
			ctx, w.StartFullScan(), cfg.StopGap, cfg.Parallelism,
		)
		if err != nil {
			return err
		}
		if err := w.ApplyUpdate(update); err != nil {
			return err
		}

		fmt.Printf("Balance: %v\n", w.Balance().Total())
		return nil
	})
}

func runSync(ctx context.Context, cfg *config) error {
	client, err := newChainClient(cfg)
	if err != nil {
		return err
	}

	return withWallet(cfg, false, func(w *wallet.Wallet) error {
		update, err := client.Sync(
			ctx, w.StartSyncWithRevealedSpks(), cfg.Parallelism,
		)
		if err != nil {
			return err
		}
		if err := w.ApplyUpdate(update); err != nil {
			return err
		}

		fmt.Printf("Balance: %v\n", w.Balance().Total())
		return nil
	})
}

// pickFeeRate returns the estimate for the highest confirmation target not
// above target, falling back to the lowest target available. The result is
// never below the minimum relay fee.
func pickFeeRate(estimates map[uint16]chain.SatPerVByte,
	target uint16) wallet.SatPerKVByte {

	targets := make([]uint16, 0, len(estimates))
	for t := range estimates {
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return wallet.MinRelayFeeRate
	}
	sort.Slice(targets, func(i, j int) bool {
		return targets[i] < targets[j]
	})

	chosen := targets[0]
	for _, t := range targets {
		if t > target {
			break
		}
		chosen = t
	}

	rate := wallet.SatPerKVByte(estimates[chosen].FeePerKb())
	if rate < wallet.MinRelayFeeRate {
		rate = wallet.MinRelayFeeRate
	}
	return rate
}

// feeRate returns the fee rate from the flags, or an estimate from the
// chain source.
func feeRate(ctx context.Context, client *chain.Client,
	f *FeeRateOptions) (wallet.SatPerKVByte, error) {

	if rate, ok := f.explicitRate(); ok {
		return rate, nil
	}

	estimates, err := client.FeeEstimates(ctx)
	if err != nil {
		return 0, err
	}
	rate := pickFeeRate(estimates, f.ConfTarget)
	log.Infof("Using estimated fee rate of %d sat/kvB for a %d block "+
		"target", rate, f.ConfTarget)

	return rate, nil
}

// addressScript decodes an address of the configured network into its
// output script.
func addressScript(cfg *config, address string) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, cfg.params.Params)
	if err != nil {
		return nil, err
	}
	if !addr.IsForNet(cfg.params.Params) {
		return nil, fmt.Errorf("address %v is not for %v", address,
			cfg.params.Name)
	}

	return txscript.PayToAddrScript(addr)
}

// signAndBroadcast signs the built transaction and, unless this is a dry
// run or the user declines, broadcasts it and records it in the wallet.
func signAndBroadcast(ctx context.Context, client *chain.Client,
	w *wallet.Wallet, build *wallet.TxBuilder, yes, dryRun bool) error {

	packet, err := build.Finish()
	if err != nil {
		return err
	}
	complete, err := w.Sign(packet, wallet.DefaultSignOptions())
	if err != nil {
		return err
	}
	if !complete {
		return errors.New("transaction could not be fully signed")
	}

	tx, err := wallet.ExtractTx(packet)
	if err != nil {
		return err
	}
	fee, err := w.CalculateFee(tx)
	if err != nil {
		return err
	}
	rate, err := w.CalculateFeeRate(tx)
	if err != nil {
		return err
	}

	fmt.Printf("Transaction %v pays a fee of %v (%d sat/kvB)\n",
		tx.TxHash(), fee, int64(rate))

	if dryRun {
		b64, err := packet.B64Encode()
		if err != nil {
			return err
		}
		fmt.Println(b64)
		return nil
	}

	if !yes {
		ok, err := prompt.Confirm(stdinReader, "Broadcast transaction?")
		if err != nil {
			return err
		}
		if !ok {
			return errors.New("aborted")
		}
	}

	if err := client.Broadcast(ctx, tx); err != nil {
		return err
	}

	if _, err := w.InsertTx(tx); err != nil {
		return err
	}
	w.InsertSeenAt(tx.TxHash(), uint64(time.Now().Unix()))

	fmt.Printf("Broadcast %v\n", tx.TxHash())
	return nil
}

func runSend(ctx context.Context, cfg *config) error {
	client, err := newChainClient(cfg)
	if err != nil {
		return err
	}
	script, err := addressScript(cfg, sendOpts.To)
	if err != nil {
		return err
	}
	rate, err := feeRate(ctx, client, &sendOpts.FeeRateOptions)
	if err != nil {
		return err
	}

	return withWallet(cfg, true, func(w *wallet.Wallet) error {
		build := w.BuildTx().
			AddRecipient(script, sendOpts.Amount.Amount).
			FeeRate(rate)
		if sendOpts.RBF {
			build.EnableRBF()
		}

		return signAndBroadcast(
			ctx, client, w, build, sendOpts.Yes, sendOpts.DryRun,
		)
	})
}

func runDrain(ctx context.Context, cfg *config) error {
	client, err := newChainClient(cfg)
	if err != nil {
		return err
	}
	script, err := addressScript(cfg, drainOpts.To)
	if err != nil {
		return err
	}
	rate, err := feeRate(ctx, client, &drainOpts.FeeRateOptions)
	if err != nil {
		return err
	}

	return withWallet(cfg, true, func(w *wallet.Wallet) error {
		build := w.BuildTx().
			DrainWallet().
			DrainTo(script).
			FeeRate(rate)

		return signAndBroadcast(
			ctx, client, w, build, drainOpts.Yes, drainOpts.DryRun,
		)
	})
}
