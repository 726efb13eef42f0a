// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"path/filepath"
	"time"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
)

// Config holds every operator-supplied setting that shapes node behavior
// (spec.md 6). It is parsed once at startup with go-flags and then handed
// to the node constructor (spec.md 9) — nothing here is mutable global
// state.
type Config struct {
	DataDir     string `long:"datadir" description:"Directory to store data"`
	NetworkType string `long:"network" description:"mainnet, testnet, or dev" default:"mainnet"`

	MiningThreads  int    `long:"miningthreads" description:"Number of PoW worker threads; 0 disables mining"`
	MiningAddress  string `long:"miningaddress" description:"Base58check address credited with mined coinbase output"`

	MaxPeers      int           `long:"maxpeers" description:"Target peer count" default:"32"`
	PeerRateLimit uint64        `long:"peerratelimit" description:"Bytes/sec a peer may send before being throttled" default:"1048576"`
	BanDuration   time.Duration `long:"banduration" description:"How long a banned peer stays banned" default:"24h"`
	ListenAddr    string        `long:"listen" description:"Address to accept inbound peer connections on"`
	ConnectPeers  []string      `long:"connect" description:"Peer addresses to dial at startup"`

	MempoolMaxBytes uint64 `long:"mempoolmaxbytes" description:"Mempool byte budget" default:"134217728"`
	MinFeePerByte   uint64 `long:"minfeeperbyte" description:"Minimum fee rate (atoms/byte) for mempool admission" default:"1"`

	ReorgLimit      uint64  `long:"reorglimit" description:"Reject reorgs deeper than this many blocks"`
	RetargetWindow  uint64  `long:"retargetwindow" description:"Blocks between difficulty retargets"`
	NMeasurement    uint64  `long:"nmeasurement" description:"Blocks averaged when measuring actual block time"`
	RetargetGainKp  float64 `long:"retargetgainkp" description:"Proportional controller gain for difficulty retarget"`
	MaxCoinSupply   uint64  `long:"maxcoinsupply" description:"Hard cap on total issued subsidy"`
	HalvingInterval uint64  `long:"halvinginterval" description:"Blocks between subsidy halvings"`

	LogLevel string `long:"loglevel" description:"trace|debug|info|warn|error|critical, or SUBSYS=level,..." default:"info"`
	Profile  string `long:"profile" description:"Address to expose pprof on, empty disables it"`
}

// ExitCode enumerates the process exit codes specified in spec.md 6.
type ExitCode int

// Exit codes (spec.md 6).
const (
	ExitNormal              ExitCode = 0
	ExitConfigError         ExitCode = 1
	ExitStorageCorruption   ExitCode = 2
	ExitFatalConsensusError ExitCode = 3
)

// Parse parses argv with go-flags, applies the network parameter table as
// defaults for any consensus field left at its zero value, and validates
// the result.
func Parse(argv []string) (*Config, *NetworkParams, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, nil, errors.Wrap(err, "parsing command line")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Join(".", "qbitcoin-data")
	}

	params, ok := ParamsForNetwork(NetworkType(cfg.NetworkType))
	if !ok {
		return nil, nil, errors.Errorf("unknown network type %q", cfg.NetworkType)
	}

	if cfg.ReorgLimit != 0 {
		params.ReorgLimit = cfg.ReorgLimit
	}
	if cfg.RetargetWindow != 0 {
		params.RetargetWindow = cfg.RetargetWindow
	}
	if cfg.NMeasurement != 0 {
		params.NMeasurement = cfg.NMeasurement
	}
	if cfg.RetargetGainKp != 0 {
		params.RetargetGainKp = cfg.RetargetGainKp
	}
	if cfg.MaxCoinSupply != 0 {
		params.MaxCoinSupply = cfg.MaxCoinSupply
	}
	if cfg.HalvingInterval != 0 {
		params.HalvingInterval = cfg.HalvingInterval
	}

	if err := validate(cfg); err != nil {
		return nil, nil, err
	}

	return cfg, &params, nil
}

func validate(cfg *Config) error {
	if cfg.MiningThreads < 0 {
		return errors.New("miningthreads must be >= 0")
	}
	if cfg.MiningThreads > 0 && cfg.MiningAddress == "" {
		return errors.New("miningaddress is required when miningthreads > 0")
	}
	if cfg.MaxPeers <= 0 {
		return fmt.Errorf("maxpeers must be positive, got %d", cfg.MaxPeers)
	}
	return nil
}
