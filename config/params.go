// Copyright (c) 2014-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package config carries the node's static network parameters and
// operator-supplied configuration (spec.md 6). Configuration is a value
// passed into the node constructor; genesis constants and network magic are
// selected from this static table indexed by NetworkType, never from
// mutable global state (spec.md 9).
package config

import (
	"math/big"
	"time"

	"github.com/Hamza1s34/Qbitcoin/crypto"
)

// NetworkType selects the genesis block, wire magic, and bootstrap list
// (spec.md 6).
type NetworkType string

// Supported networks.
const (
	Mainnet NetworkType = "mainnet"
	Testnet NetworkType = "testnet"
	Devnet  NetworkType = "dev"
)

// NetworkParams are the consensus-relevant constants that MUST be identical
// across every peer on a network (spec.md 6).
type NetworkParams struct {
	Name NetworkType

	// WireMagic partitions the P2P network; mismatching genesis hash on
	// handshake is a harder check but WireMagic additionally prevents
	// cross-network socket-level confusion.
	WireMagic uint32

	AddressVersion crypto.AddressVersion

	DefaultPort string
	DNSSeeds    []string

	GenesisTimestamp int64

	// InitialSubsidy is the block reward at height 0, halved every
	// HalvingInterval blocks (spec.md 4.6).
	InitialSubsidy  uint64
	HalvingInterval uint64
	MaxCoinSupply   uint64

	// GenesisBalances credits pre-declared accounts in the genesis block
	// (spec.md 8 scenario 1).
	GenesisBalances map[string]uint64

	// InitialDifficultyBits is the compact-form starting difficulty.
	InitialDifficultyBits uint32
	PowLimit              *big.Int

	BlockTimeTarget   time.Duration
	RetargetWindow    uint64
	NMeasurement      uint64
	RetargetGainKp    float64
	RetargetClampLow  float64
	RetargetClampHigh float64

	ReorgLimit uint64

	MaxTimestampDrift time.Duration
	MedianTimeBlocks  int

	MaxTransactionMessageBytes int
}

var bigOne = big.NewInt(1)

// mainPowLimit is the highest proof-of-work target value a mainnet block's
// header hash may equal: 2^255 - 1.
var mainPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 255), bigOne)

// devPowLimit is looser, to keep solo devnet mining fast: 2^256 - 1.
var devPowLimit = new(big.Int).Sub(new(big.Int).Lsh(bigOne, 256), bigOne)

// MainnetParams are the production network parameters.
var MainnetParams = NetworkParams{
	Name:                  Mainnet,
	WireMagic:             0xd9b4bef9,
	AddressVersion:        crypto.AddressVersionMainnet,
	DefaultPort:           "8433",
	DNSSeeds:              []string{"seed1.qbitcoin.org", "seed2.qbitcoin.org"},
	GenesisTimestamp:      1600000000,
	InitialSubsidy:        50 * 1e8,
	HalvingInterval:       2100000,
	MaxCoinSupply:         21000000 * 1e8,
	InitialDifficultyBits: 0x1e0fffff,
	PowLimit:              mainPowLimit,
	BlockTimeTarget:       time.Minute,
	RetargetWindow:        2016,
	NMeasurement:          144,
	RetargetGainKp:        1.0,
	RetargetClampLow:      0.25,
	RetargetClampHigh:     4.0,
	ReorgLimit:            10000,
	MaxTimestampDrift:     2 * time.Hour,
	MedianTimeBlocks:      11,
	MaxTransactionMessageBytes: 1024,
}

// TestnetParams relax the difficulty and reorg policy for a public test
// network.
var TestnetParams = NetworkParams{
	Name:                  Testnet,
	WireMagic:             0x0709110b,
	AddressVersion:        crypto.AddressVersionTestnet,
	DefaultPort:           "18433",
	DNSSeeds:              []string{"testnet-seed.qbitcoin.org"},
	GenesisTimestamp:      1600000000,
	InitialSubsidy:        50 * 1e8,
	HalvingInterval:       2100000,
	MaxCoinSupply:         21000000 * 1e8,
	InitialDifficultyBits: 0x1f0fffff,
	PowLimit:              mainPowLimit,
	BlockTimeTarget:       time.Minute,
	RetargetWindow:        2016,
	NMeasurement:          144,
	RetargetGainKp:        1.0,
	RetargetClampLow:      0.25,
	RetargetClampHigh:     4.0,
	ReorgLimit:            10000,
	MaxTimestampDrift:     2 * time.Hour,
	MedianTimeBlocks:      11,
	MaxTransactionMessageBytes: 1024,
}

// DevnetParams are for local, single-operator development networks: no DNS
// seeds, a wide-open PoW limit, and a short retarget window.
var DevnetParams = NetworkParams{
	Name:                  Devnet,
	WireMagic:             0x12141c16,
	AddressVersion:        crypto.AddressVersionDevnet,
	DefaultPort:           "28433",
	DNSSeeds:              nil,
	GenesisTimestamp:      1600000000,
	InitialSubsidy:        50 * 1e8,
	HalvingInterval:       150,
	MaxCoinSupply:         21000000 * 1e8,
	InitialDifficultyBits: 0x207fffff,
	PowLimit:              devPowLimit,
	BlockTimeTarget:       time.Second,
	RetargetWindow:        20,
	NMeasurement:          10,
	RetargetGainKp:        1.0,
	RetargetClampLow:      0.25,
	RetargetClampHigh:     4.0,
	ReorgLimit:            1000,
	MaxTimestampDrift:     2 * time.Hour,
	MedianTimeBlocks:      11,
	MaxTransactionMessageBytes: 1024,
}

// ParamsForNetwork returns the static parameter table row for networkType,
// or ok=false if it is not a recognized network.
func ParamsForNetwork(networkType NetworkType) (params NetworkParams, ok bool) {
	switch networkType {
	case Mainnet:
		return MainnetParams, true
	case Testnet:
		return TestnetParams, true
	case Devnet:
		return DevnetParams, true
	default:
		return NetworkParams{}, false
	}
}
