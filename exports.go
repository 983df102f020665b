package credits

import (
	"github.com/xraph/credits/plugin"
	"github.com/xraph/credits/reconcile"
	"github.com/xraph/credits/types"
)

// Re-export common types for convenience so users don't have to import types package.

// Micro is re-exported from types package.
type Micro = types.Micro

// Entity is re-exported from types package.
type Entity = types.Entity

// ReconciliationCheckError is recorded in a run when one check cannot
// complete.
type ReconciliationCheckError = reconcile.CheckError

// EventEmissionError wraps a plugin hook failure.
type EventEmissionError = plugin.EmissionError

// MicroPerUSD is the number of micro-USD in one dollar.
const MicroPerUSD = types.MicroPerUSD

// Re-export Micro constructors
var (
	USD            = types.USD
	ParseMicro     = types.ParseMicro
	MustParseMicro = types.MustParseMicro
	Sum            = types.Sum
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
