package repositories

// Store groups every repository behind one transaction manager
type Store interface {
	TransactionManager
	PackageRepository
	CommitmentRepository
	AllocationRepository
	HistoryRepository
	OperationRepository
}
