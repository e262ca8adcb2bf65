package orders

// Status is the business status of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusCompleted: true, StatusCancelled: true},
	StatusCompleted: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// SyncStatus tracks whether an order has been reconciled with the
// offline-capable client / system of record.
type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// error -> pending only happens on an explicit client retry.
var validSyncNext = map[SyncStatus]map[SyncStatus]bool{
	SyncPending: {SyncSynced: true, SyncError: true},
	SyncSynced:  {},
	SyncError:   {SyncPending: true},
}

func (s SyncStatus) Valid() bool {
	_, ok := validSyncNext[s]
	return ok
}

func CanTransitionSync(from, to SyncStatus) bool {
	return validSyncNext[from][to]
}

// MovementType classifies a stock ledger entry.
type MovementType string

const (
	MovementSale       MovementType = "sale"
	MovementRestock    MovementType = "restock"
	MovementAdjustment MovementType = "adjustment"
)

func (m MovementType) Valid() bool {
	switch m {
	case MovementSale, MovementRestock, MovementAdjustment:
		return true
	}
	return false
}
