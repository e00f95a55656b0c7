// Copyright (c) 2015-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wallet

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/descwallet/wallet/walletstore"
)

const (
	// WalletDBName specified the database filename for the wallet.
	WalletDBName = walletstore.DBName

	// DefaultDBTimeout is the default timeout value when opening the wallet
	// database.
	DefaultDBTimeout = walletstore.DefaultDBTimeout
)

// Loader implements the creating of new and opening of existing wallets,
// backed by a walletstore.Store, while providing a callback system for other
// subsystems to handle the loading of a wallet.
//
// Loader is safe for concurrent access.
type Loader struct {
	callbacks   []func(*Wallet)
	chainParams *chaincfg.Params
	dbDirPath   string
	timeout     time.Duration
	opts        []Option
	wallet      *Wallet
	store       *walletstore.Store
	mu          sync.Mutex
}

// NewLoader constructs a Loader for wallets stored in dbDirPath. The options
// are passed on to Create and Load.
func NewLoader(chainParams *chaincfg.Params, dbDirPath string,
	timeout time.Duration, opts ...Option) *Loader {

	return &Loader{
		chainParams: chainParams,
		dbDirPath:   dbDirPath,
		timeout:     timeout,
		opts:        opts,
	}
}

// onLoaded executes each added callback and prevents loader from loading any
// additional wallets.  Requires mutex to be locked.
func (l *Loader) onLoaded(w *Wallet, store *walletstore.Store) {
	for _, fn := range l.callbacks {
		fn(w)
	}

	l.wallet = w
	l.store = store
	l.callbacks = nil // not needed anymore
}

// RunAfterLoad adds a function to be executed when the loader creates or opens
// a wallet.  Functions are executed in a single goroutine in the order they are
// added.
func (l *Loader) RunAfterLoad(fn func(*Wallet)) {
	l.mu.Lock()
	if l.wallet != nil {
		w := l.wallet
		l.mu.Unlock()
		fn(w)
	} else {
		l.callbacks = append(l.callbacks, fn)
		l.mu.Unlock()
	}
}

func (l *Loader) dbPath() string {
	return filepath.Join(l.dbDirPath, WalletDBName)
}

// CreateWallet creates a new wallet from the descriptors and persists it.
// The internal descriptor may be empty.
func (l *Loader) CreateWallet(external, internal string) (*Wallet, error) {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	exists, err := l.WalletExists()
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrExists
	}

	// Parse the descriptors before touching the disk.
	w, err := Create(l.chainParams, external, internal, l.opts...)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(l.dbDirPath, 0700); err != nil {
		return nil, err
	}
	store, err := walletstore.Create(l.dbPath(), l.timeout)
	if err != nil {
		return nil, walletError(ErrDatabase, "unable to create "+
			"wallet store", err)
	}

	if err := persist(w, store); err != nil {
		if e := store.Close(); e != nil {
			log.Warnf("Error closing database: %v", e)
		}
		if e := os.Remove(l.dbPath()); e != nil {
			log.Warnf("Error removing database: %v", e)
		}
		return nil, err
	}

	l.onLoaded(w, store)
	return w, nil
}

// OpenWallet loads the wallet from the loader's database. The descriptors
// may be empty to open the wallet watch-only.
func (l *Loader) OpenWallet(external, internal string) (*Wallet, error) {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet != nil {
		return nil, ErrLoaded
	}

	store, err := walletstore.Open(l.dbPath(), l.timeout)
	if err != nil {
		log.Errorf("Failed to open database: %v", err)
		return nil, walletError(ErrDatabase, "unable to open wallet "+
			"store", err)
	}

	w, err := l.load(store, external, internal)
	if err != nil {
		// The database must be closed to allow future calls to
		// walletstore.Open.
		if e := store.Close(); e != nil {
			log.Warnf("Error closing database: %v", e)
		}
		return nil, err
	}

	l.onLoaded(w, store)
	return w, nil
}

func (l *Loader) load(store *walletstore.Store, external,
	internal string) (*Wallet, error) {

	cs, err := store.Aggregate()
	if err != nil {
		return nil, walletError(ErrDatabase, "unable to read wallet "+
			"store", err)
	}

	w, err := Load(cs, l.chainParams, external, internal, l.opts...)
	if err != nil {
		return nil, err
	}

	// Indices recovered while loading are persisted right away.
	if err := persist(w, store); err != nil {
		return nil, err
	}

	return w, nil
}

// Persist appends the staged changes of the loaded wallet to the store. If
// that fails, the changes are staged again so a later call can retry.
func (l *Loader) Persist() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	return persist(l.wallet, l.store)
}

func persist(w *Wallet, store *walletstore.Store) error {
	cs := w.TakeStaged()
	if cs == nil {
		return nil
	}

	if err := store.Append(*cs); err != nil {
		w.restage(*cs)
		return walletError(ErrDatabase, "unable to persist staged "+
			"changes", err)
	}

	return nil
}

// Compact persists the staged changes and collapses the store's log into a
// single entry.
func (l *Loader) Compact() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	if err := persist(l.wallet, l.store); err != nil {
		return err
	}
	if err := l.store.Compact(); err != nil {
		return walletError(ErrDatabase, "unable to compact wallet "+
			"store", err)
	}

	return nil
}

// WalletExists returns whether a file exists at the loader's database path.
// This may return an error for unexpected I/O failures.
func (l *Loader) WalletExists() (bool, error) {
	_, err := os.Stat(l.dbPath())
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// LoadedWallet returns the loaded wallet, if any, and a bool for whether the
// wallet has been loaded or not.  If true, the wallet pointer should be safe to
// dereference.
func (l *Loader) LoadedWallet() (*Wallet, bool) {
	l.mu.Lock()
	w := l.wallet
	l.mu.Unlock()
	return w, w != nil
}

// UnloadWallet persists the staged changes of the loaded wallet and closes
// the wallet database. This returns ErrNotLoaded if no wallet has been
// loaded with CreateWallet or OpenWallet. The Loader may be reused if this
// function returns without error.
func (l *Loader) UnloadWallet() error {
	defer l.mu.Unlock()
	l.mu.Lock()

	if l.wallet == nil {
		return ErrNotLoaded
	}

	if err := persist(l.wallet, l.store); err != nil {
		return err
	}
	if err := l.store.Close(); err != nil {
		return err
	}

	l.wallet = nil
	l.store = nil
	return nil
}
