// Copyright (c) 2013-2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/descwallet/internal/cfgutil"
	"github.com/btcsuite/descwallet/netparams"
	"github.com/btcsuite/descwallet/wallet"
	"github.com/jessevdk/go-flags"
)

const (
	defaultConfigFilename = "descwallet.conf"
	defaultLogLevel       = "info"
	defaultLogDirname     = "logs"
	defaultLogFilename    = "descwallet.log"
	defaultNetwork        = "mainnet"
	defaultStopGap        = 20
	defaultParallelism    = 4
	defaultConfTarget     = 6
)

var (
	descwalletHomeDir = btcutil.AppDataDir("descwallet", false)
	defaultConfigFile = filepath.Join(descwalletHomeDir, defaultConfigFilename)
	defaultDataDir    = descwalletHomeDir
	defaultLogDir     = filepath.Join(descwalletHomeDir, defaultLogDirname)
)

type config struct {
	// General application behavior
	ConfigFile *cfgutil.ExplicitString `short:"C" long:"configfile" description:"Path to configuration file"`
	DataDir    string                  `short:"b" long:"datadir" description:"Directory to store wallets"`
	Network    string                  `short:"n" long:"network" description:"Network to use {mainnet, testnet3, testnet4, signet, regtest}"`
	DebugLevel string                  `short:"d" long:"debuglevel" description:"Logging level for all subsystems {trace, debug, info, warn, error, critical} -- You may also specify <subsystem>=<level>,<subsystem2>=<level>,... to set the log level for individual subsystems -- Use show to list available subsystems"`
	LogDir     string                  `long:"logdir" description:"Directory to log output"`

	// Wallet options
	External string `long:"external" description:"External (receive) descriptor -- prompted for when missing and keys are needed"`
	Internal string `long:"internal" description:"Internal (change) descriptor"`

	// Chain source options
	Esplora     string `long:"esplora" description:"Esplora API URL (default depends on the network)"`
	StopGap     int    `long:"stopgap" description:"Number of unused scripts after which a full scan stops"`
	Parallelism int    `long:"parallel" description:"Maximum number of concurrent Esplora requests"`

	params *netparams.Params
}

// cleanAndExpandPath expands environement variables and leading ~ in the
// passed path, cleans the result, and returns it.
func cleanAndExpandPath(path string) string {
	// Expand initial ~ to OS specific home directory.
	if strings.HasPrefix(path, "~") {
		var homeDir string

		u, err := user.Current()
		if err == nil {
			homeDir = u.HomeDir
		} else {
			homeDir = os.Getenv("HOME")
		}

		path = strings.Replace(path, "~", homeDir, 1)
	}

	// NOTE: The os.ExpandEnv doesn't work with Windows-style %VARIABLE%,
	// but they variables can still be expanded via POSIX-style $VARIABLE.
	return filepath.Clean(os.ExpandEnv(path))
}

// netDir returns the directory holding the wallet of the network.
func (c *config) netDir() string {
	return filepath.Join(c.DataDir, c.params.Name)
}

// newParser returns a parser for the config with all subcommands added.
func newParser(cfg *config, options flags.Options) (*flags.Parser, error) {
	parser := flags.NewParser(cfg, options)
	for _, cmd := range commands {
		_, err := parser.AddCommand(
			cmd.name, cmd.short, cmd.long, cmd.opts,
		)
		if err != nil {
			return nil, err
		}
	}

	return parser, nil
}

// loadConfig initializes and parses the config using a config file and command
// line options.
//
// The configuration proceeds as follows:
//  1. Start with a default config with sane settings
//  2. Pre-parse the command line to check for an alternative config file
//  3. Load configuration file overwriting defaults with any specified options
//  4. Parse CLI options and overwrite/add any specified options
//
// Command line options always take precedence. The returned command is the
// subcommand that was selected.
func loadConfig() (*config, *command, error) {
	// Default config.
	cfg := config{
		ConfigFile:  cfgutil.NewExplicitString(defaultConfigFile),
		DataDir:     defaultDataDir,
		Network:     defaultNetwork,
		DebugLevel:  defaultLogLevel,
		LogDir:      defaultLogDir,
		StopGap:     defaultStopGap,
		Parallelism: defaultParallelism,
	}

	// Pre-parse the command line options to see if an alternative config
	// file was specified.
	preCfg := cfg
	preParser, err := newParser(
		&preCfg, flags.HelpFlag|flags.PassDoubleDash|flags.IgnoreUnknown,
	)
	if err != nil {
		return nil, nil, err
	}
	preParser.SubcommandsOptional = true
	_, err = preParser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Load additional config from file.
	parser, err := newParser(&cfg, flags.Default)
	if err != nil {
		return nil, nil, err
	}
	configFile := cleanAndExpandPath(preCfg.ConfigFile.Value)
	exists, err := cfgutil.FileExists(configFile)
	if err != nil {
		return nil, nil, err
	}
	switch {
	case exists:
		err := flags.NewIniParser(parser).ParseFile(configFile)
		if err != nil {
			return nil, nil, err
		}

	case preCfg.ConfigFile.ExplicitlySet():
		return nil, nil, fmt.Errorf("config file %s does not exist",
			configFile)
	}

	// Parse command line options again to ensure they take precedence.
	_, err = parser.Parse()
	if err != nil {
		var e *flags.Error
		if errors.As(err, &e) && e.Type == flags.ErrHelp {
			os.Exit(0)
		}
		return nil, nil, err
	}

	// Special show command to list supported subsystems and exit.
	if cfg.DebugLevel == "show" {
		fmt.Println("Supported subsystems", supportedSubsystems())
		os.Exit(0)
	}

	cfg.params, err = netparams.ByName(cfg.Network)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Esplora == "" {
		cfg.Esplora = cfg.params.EsploraURL
	}
	if cfg.StopGap < 1 {
		return nil, nil, fmt.Errorf("stop gap must be positive, got %d",
			cfg.StopGap)
	}
	if cfg.Parallelism < 1 {
		return nil, nil, fmt.Errorf("parallelism must be positive, "+
			"got %d", cfg.Parallelism)
	}

	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)

	// Append the network type to the log directory so it is "namespaced"
	// per network.
	cfg.LogDir = cleanAndExpandPath(cfg.LogDir)
	cfg.LogDir = filepath.Join(cfg.LogDir, cfg.params.Name)

	// Initialize log rotation.  After log rotation has been initialized,
	// the logger variables may be used.
	err = initLogRotator(filepath.Join(cfg.LogDir, defaultLogFilename))
	if err != nil {
		return nil, nil, err
	}

	// Parse, validate, and set debug log level(s).
	if err := parseAndSetDebugLevels(cfg.DebugLevel); err != nil {
		return nil, nil, err
	}

	cmd, err := activeCommand(parser)
	if err != nil {
		return nil, nil, err
	}

	return &cfg, cmd, nil
}

// activeCommand returns the subcommand selected on the command line.
func activeCommand(parser *flags.Parser) (*command, error) {
	if parser.Active == nil {
		return nil, errors.New("no command given")
	}
	for _, cmd := range commands {
		if cmd.name == parser.Active.Name {
			return cmd, nil
		}
	}

	return nil, fmt.Errorf("unknown command %q", parser.Active.Name)
}

// FeeRateOptions holds the fee rate options of the spending commands.
type FeeRateOptions struct {
	FeeRate    *cfgutil.FeeRateFlag `long:"feerate" description:"Fee rate in sat/vB, or in BTC/kvB with a BTC/kvB suffix -- estimated from --conftarget when unset"`
	ConfTarget uint16               `long:"conftarget" description:"Confirmation target in blocks for the fee estimate"`
}

func newFeeRateOptions() FeeRateOptions {
	return FeeRateOptions{
		FeeRate:    cfgutil.NewFeeRateFlag(0),
		ConfTarget: defaultConfTarget,
	}
}

// explicitRate returns the fee rate given on the command line, if any.
func (f *FeeRateOptions) explicitRate() (wallet.SatPerKVByte, bool) {
	if f.FeeRate.PerKVByte <= 0 {
		return 0, false
	}
	return wallet.SatPerKVByte(f.FeeRate.PerKVByte), true
}
