// Copyright (c) 2013-2017 The btcsuite developers
// Copyright (c) 2017 The Decred developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package logs provides the subsystem-tagged logging backend shared by every
// package in this module. It mirrors the logger/logs split used throughout
// the btcsuite/kaspad family, but is built directly on the upstream
// github.com/btcsuite/btclog backend instead of a hand-rolled fork of it.
package logs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
)

type logWriter struct{}

func (logWriter) Write(p []byte) (n int, err error) {
	if initiated {
		os.Stdout.Write(p)
		LogRotator.Write(p)
	}
	return len(p), nil
}

var backendLog = btclog.NewBackend(logWriter{})

// LogRotator is the rotated log file output. It must be closed on shutdown.
var LogRotator *rotator.Rotator

var initiated = false

// SubsystemTags enumerates the logging subsystem identifiers used across the
// node. Each package that wants its own tagged logger adds an entry here and
// to subsystemLoggers, the way addrmgr/log.go, mining/log.go etc. do in the
// teacher tree.
var SubsystemTags = struct {
	NODE, // cmd/qbitcoind wiring
	CNFG, // config
	CHMN, // chainmanager
	MMPL, // mempool
	STAT, // state
	STOR, // store
	BLCK, // block
	POWM, // pow miner
	P2PL, // p2p
	SYNC, // syncer
	CRPT, // crypto
	CODC string // codec
}{
	NODE: "NODE",
	CNFG: "CNFG",
	CHMN: "CHMN",
	MMPL: "MMPL",
	STAT: "STAT",
	STOR: "STOR",
	BLCK: "BLCK",
	POWM: "POWM",
	P2PL: "P2PL",
	SYNC: "SYNC",
	CRPT: "CRPT",
	CODC: "CODC",
}

var subsystemLoggers map[string]btclog.Logger

func init() {
	subsystemLoggers = make(map[string]btclog.Logger)
	for _, tag := range []string{
		SubsystemTags.NODE, SubsystemTags.CNFG, SubsystemTags.CHMN,
		SubsystemTags.MMPL, SubsystemTags.STAT, SubsystemTags.STOR,
		SubsystemTags.BLCK, SubsystemTags.POWM, SubsystemTags.P2PL,
		SubsystemTags.SYNC, SubsystemTags.CRPT, SubsystemTags.CODC,
	} {
		subsystemLoggers[tag] = backendLog.Logger(tag)
	}
}

// InitLogRotator initializes the rotating log file at logFile. It must be
// called before any subsystem logger is used if file output is desired.
func InitLogRotator(logFile string) {
	initiated = true
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create log directory: %s\n", err)
		os.Exit(1)
	}
	r, err := rotator.New(logFile, 10*1024*1024, false, 3)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create file rotator: %s\n", err)
		os.Exit(1)
	}
	LogRotator = r
}

// Get returns the tagged logger for subsystem tag. An unregistered tag is
// not created: Get returns a nil logger and ok=false.
func Get(tag string) (btclog.Logger, bool) {
	logger, ok := subsystemLoggers[tag]
	return logger, ok
}

// SetLogLevel sets the logging level for the given subsystem. Unknown
// subsystems are ignored.
func SetLogLevel(subsystemID string, logLevel string) {
	logger, ok := subsystemLoggers[subsystemID]
	if !ok {
		return
	}
	level, _ := btclog.LevelFromString(logLevel)
	logger.SetLevel(level)
}

// SetLogLevels sets the log level for every subsystem logger.
func SetLogLevels(logLevel string) {
	for subsystemID := range subsystemLoggers {
		SetLogLevel(subsystemID, logLevel)
	}
}

// SupportedSubsystems returns a sorted list of the registered subsystem tags.
func SupportedSubsystems() []string {
	subsystems := make([]string, 0, len(subsystemLoggers))
	for subsysID := range subsystemLoggers {
		subsystems = append(subsystems, subsysID)
	}
	sort.Strings(subsystems)
	return subsystems
}

// ParseAndSetDebugLevels parses a debug level spec of the form "trace" (all
// subsystems) or "CHMN=debug,MMPL=trace,..." and applies it.
func ParseAndSetDebugLevels(debugLevel string) error {
	if !strings.Contains(debugLevel, ",") && !strings.Contains(debugLevel, "=") {
		if !validLogLevel(debugLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", debugLevel)
		}
		SetLogLevels(debugLevel)
		return nil
	}

	for _, logLevelPair := range strings.Split(debugLevel, ",") {
		if !strings.Contains(logLevelPair, "=") {
			return fmt.Errorf("the specified debug level contains an invalid subsystem/level pair [%s]", logLevelPair)
		}
		fields := strings.Split(logLevelPair, "=")
		subsysID, logLevel := fields[0], fields[1]
		if _, exists := Get(subsysID); !exists {
			return fmt.Errorf("the specified subsystem [%s] is invalid -- supported subsystems %s",
				subsysID, strings.Join(SupportedSubsystems(), ", "))
		}
		if !validLogLevel(logLevel) {
			return fmt.Errorf("the specified debug level [%s] is invalid", logLevel)
		}
		SetLogLevel(subsysID, logLevel)
	}
	return nil
}

func validLogLevel(logLevel string) bool {
	switch logLevel {
	case "trace", "debug", "info", "warn", "error", "critical":
		return true
	}
	return false
}
