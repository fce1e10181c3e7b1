package domain

import "time"

// ReconciliationScope names which slice of state a run compares.
type ReconciliationScope string

const (
	ScopeOrders    ReconciliationScope = "orders"
	ScopePositions ReconciliationScope = "positions"
	ScopeHoldings  ReconciliationScope = "holdings"
	ScopeAll       ReconciliationScope = "all"
)

// RunStatus is the outcome of a completed reconciliation run.
type RunStatus string

const (
	RunRunning             RunStatus = "running"
	RunCompleted           RunStatus = "completed"
	RunFailed              RunStatus = "failed"
	RunCompletedWithErrors RunStatus = "completed_with_errors"
)

// ReconciliationRun is the header record for one scheduled comparison.
type ReconciliationRun struct {
	RunID          string
	Broker         string
	Scope          ReconciliationScope
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	ItemsCompared  int
	MismatchesFound int
}

// ItemStatus is the resolution state of one ReconciliationItem.
type ItemStatus string

const (
	ItemMismatch           ItemStatus = "mismatch"
	ItemResolved           ItemStatus = "resolved"
	ItemIgnored            ItemStatus = "ignored"
	ItemManualIntervention ItemStatus = "manual_intervention"
)

// ItemType classifies what kind of discrepancy was found.
type ItemType string

const (
	ItemTypeAttributeDiff ItemType = "attribute_diff"
	ItemTypeGhost         ItemType = "ghost"  // present locally, missing at broker
	ItemTypeOrphan        ItemType = "orphan" // present at broker, missing locally
)

// ReconciliationItem is one detail row of a run.
type ReconciliationItem struct {
	RunID         string
	ItemType      ItemType
	ItemID        string
	BrokerRefID   string
	SystemSnapshot string // JSON
	BrokerSnapshot string // JSON
	Discrepancy   string
	Status        ItemStatus
}
