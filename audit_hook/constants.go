package audithook

// Action constants for audit events.
const (
	// Lot actions
	ActionLotMinted = "lot.minted"

	// Spend actions
	ActionFundsReserved          = "reservation.created"
	ActionReservationFinalized   = "reservation.finalized"
	ActionReservationClamped     = "reservation.clamped"
	ActionTransferCompleted      = "transfer.completed"
	ActionDepositBridged         = "deposit.bridged"
	ActionBudgetWarning          = "budget.warning"
	ActionBudgetExhausted        = "budget.exhausted"
	ActionReconciliationPassed   = "reconciliation.passed"
	ActionReconciliationDiverged = "reconciliation.divergence_detected"
)

// Resource constants for audit events.
const (
	ResourceLot            = "lot"
	ResourceReservation    = "reservation"
	ResourceTransfer       = "transfer"
	ResourceDeposit        = "deposit"
	ResourceSpendingLimit  = "spending_limit"
	ResourceReconciliation = "reconciliation_run"
)

// Category constants for audit events.
const (
	CategoryLedger    = "ledger"
	CategorySpend     = "spend"
	CategoryBudget    = "budget"
	CategoryIntegrity = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
