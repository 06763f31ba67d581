package repositories

import (
	"context"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// OperationRepository provides access to operation status rows, their lines and transfer lines
type OperationRepository interface {
	// CreateOperation assigns op.Source.ID when it is zero
	CreateOperation(ctx context.Context, op *entities.Operation) error
	GetOperation(ctx context.Context, source entities.SourceOperation) (*entities.Operation, error)
	UpdateOperation(ctx context.Context, op *entities.Operation) error
	ListOperationsByStatus(ctx context.Context, status entities.OperationStatus) ([]*entities.Operation, error)

	SaveLine(ctx context.Context, line *entities.OperationLine) error
	GetLine(ctx context.Context, source entities.SourceOperation, lineID int64) (*entities.OperationLine, error)
	ListLines(ctx context.Context, source entities.SourceOperation) ([]*entities.OperationLine, error)
	DeleteLine(ctx context.Context, source entities.SourceOperation, lineID int64) error

	AddTransferLine(ctx context.Context, line *entities.TransferLine) error
	ListTransferLines(ctx context.Context, transferID int64) ([]*entities.TransferLine, error)
}
