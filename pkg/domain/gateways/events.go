package gateways

import "context"

// Event types announced after a ledger transaction commits
const (
	EventPackageCreated      = "package.created"
	EventPackageActivated    = "package.activated"
	EventPackageLocked       = "package.locked"
	EventPackageUnlocked     = "package.unlocked"
	EventPackageMoved        = "package.moved"
	EventPackageClosed       = "package.closed"
	EventPackageCancelled    = "package.cancelled"
	EventCommitmentReserved  = "commitment.reserved"
	EventCommitmentReleased  = "commitment.released"
	EventOperationCompleted  = "operation.completed"
	EventOperationCancelled  = "operation.cancelled"
	EventReconciliationFault = "reconciliation.failure"
)

// EventPublisher announces committed changes to subscribers
type EventPublisher interface {
	Publish(ctx context.Context, eventType, streamID string, payload any) error
}

// NopPublisher discards every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, string, any) error { return nil }
