// Package log provides per-component structured loggers for the relayer,
// generalizing klaytn's log.NewModuleLogger(log.ModuleName) idiom
// (datasync/chaindatafetcher/chaindata_fetcher.go) to an arbitrary module
// name instead of a fixed registry of constants.
package log

import (
	"os"

	ethlog "github.com/ethereum/go-ethereum/log"
)

// Module names used across the relayer, kept here the way klaytn keeps
// log.ModuleName constants, but declared locally since the module set is
// fixed and small.
const (
	Getter       = "GETTER"
	Collector    = "COLLECTOR"
	Store        = "STORE"
	Pricing      = "PRICING"
	Evaluator    = "EVALUATOR"
	Submitter    = "SUBMITTER"
	Wallet       = "WALLET"
	Orchestrator = "ORCHESTRATOR"
	Registry     = "REGISTRY"
)

func init() {
	ethlog.Root().SetHandler(ethlog.LvlFilterHandler(ethlog.LvlInfo, ethlog.StreamHandler(os.Stderr, ethlog.TerminalFormat(false))))
}

// Logger is a structured, leveled logger carrying module context.
type Logger = ethlog.Logger

// NewModuleLogger returns a Logger tagged with the given module and chain.
func NewModuleLogger(module string, chainID uint64) Logger {
	return ethlog.New("module", module, "chainId", chainID)
}

// SetLevel adjusts the root logger's verbosity.
func SetLevel(lvl ethlog.Lvl) {
	ethlog.Root().SetHandler(ethlog.LvlFilterHandler(lvl, ethlog.StreamHandler(os.Stderr, ethlog.TerminalFormat(false))))
}
