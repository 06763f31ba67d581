package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// PackageModel is the packages table
type PackageModel struct {
	ID            uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Barcode       string         `gorm:"column:barcode;type:varchar(64);not null;uniqueIndex"`
	Status        string         `gorm:"column:status;type:varchar(20);not null;index"`
	PreLockStatus string         `gorm:"column:pre_lock_status;type:varchar(20)"`
	WarehouseCode string         `gorm:"column:warehouse_code;type:varchar(50);not null"`
	BinEntry      string         `gorm:"column:bin_entry;type:varchar(50);not null"`
	SourceType    string         `gorm:"column:source_type;type:varchar(30);index:idx_packages_source"`
	SourceID      int64          `gorm:"column:source_id;index:idx_packages_source"`
	Attributes    map[string]any `gorm:"column:attributes;type:jsonb;serializer:json"`
	CreatedBy     string         `gorm:"column:created_by;type:varchar(50)"`
	CreatedAt     time.Time      `gorm:"column:created_at"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
	ClosedBy      string         `gorm:"column:closed_by;type:varchar(50)"`
	ClosedAt      *time.Time     `gorm:"column:closed_at"`
	CancelledBy   string         `gorm:"column:cancelled_by;type:varchar(50)"`
	CancelledAt   *time.Time     `gorm:"column:cancelled_at"`
}

func (PackageModel) TableName() string { return "packages" }

// BarcodeSequenceModel holds the single barcode counter row
type BarcodeSequenceModel struct {
	Name  string `gorm:"column:name;type:varchar(20);primaryKey"`
	Value int64  `gorm:"column:value;not null"`
}

func (BarcodeSequenceModel) TableName() string { return "barcode_sequences" }

// ContentModel is the package_contents table, one row per (package, item)
type ContentModel struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PackageID         uuid.UUID       `gorm:"column:package_id;type:uuid;not null;uniqueIndex:idx_contents_package_item"`
	ItemCode          string          `gorm:"column:item_code;type:varchar(50);not null;uniqueIndex:idx_contents_package_item"`
	Unit              int             `gorm:"column:unit;not null;default:0"`
	Quantity          decimal.Decimal `gorm:"column:quantity;type:numeric(20,6);not null"`
	CommittedQuantity decimal.Decimal `gorm:"column:committed_quantity;type:numeric(20,6);not null;default:0"`
	WarehouseCode     string          `gorm:"column:warehouse_code;type:varchar(50);not null"`
	BinEntry          string          `gorm:"column:bin_entry;type:varchar(50);not null"`
	CreatedAt         time.Time       `gorm:"column:created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (ContentModel) TableName() string { return "package_contents" }

// CommitmentModel is the package_commitments table
type CommitmentModel struct {
	ID              uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	PackageID       uuid.UUID       `gorm:"column:package_id;type:uuid;not null;index"`
	ContentID       uuid.UUID       `gorm:"column:content_id;type:uuid;not null;index"`
	ItemCode        string          `gorm:"column:item_code;type:varchar(50);not null"`
	Quantity        decimal.Decimal `gorm:"column:quantity;type:numeric(20,6);not null"`
	SourceType      string          `gorm:"column:source_type;type:varchar(30);not null;index:idx_commitments_source"`
	SourceID        int64           `gorm:"column:source_id;not null;index:idx_commitments_source"`
	SourceLineID    int64           `gorm:"column:source_line_id;not null"`
	TargetPackageID *uuid.UUID      `gorm:"column:target_package_id;type:uuid"`
	CreatedAt       time.Time       `gorm:"column:created_at"`
}

func (CommitmentModel) TableName() string { return "package_commitments" }

// HistoryModel is the append-only package_location_history table
type HistoryModel struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Seq           int64     `gorm:"column:seq;autoIncrement;uniqueIndex"`
	PackageID     uuid.UUID `gorm:"column:package_id;type:uuid;not null;index"`
	FromWarehouse string    `gorm:"column:from_warehouse;type:varchar(50)"`
	FromBin       string    `gorm:"column:from_bin;type:varchar(50)"`
	ToWarehouse   string    `gorm:"column:to_warehouse;type:varchar(50)"`
	ToBin         string    `gorm:"column:to_bin;type:varchar(50)"`
	MovementType  string    `gorm:"column:movement_type;type:varchar(20);not null"`
	SourceType    string    `gorm:"column:source_type;type:varchar(30)"`
	SourceID      int64     `gorm:"column:source_id"`
	MovedBy       string    `gorm:"column:moved_by;type:varchar(50)"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

func (HistoryModel) TableName() string { return "package_location_history" }

// AllocationModel backs both source_allocations and target_allocations
type AllocationModel struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	ReceiptType string          `gorm:"column:receipt_type;type:varchar(30);not null;index:,composite:receipt_line"`
	ReceiptID   int64           `gorm:"column:receipt_id;not null;index:,composite:receipt_line"`
	LineID      int64           `gorm:"column:line_id;not null;index:,composite:receipt_line"`
	ItemCode    string          `gorm:"column:item_code;type:varchar(50);not null;index"`
	DocType     string          `gorm:"column:doc_type;type:varchar(20);not null"`
	DocEntry    int64           `gorm:"column:doc_entry;not null"`
	DocLineNum  int             `gorm:"column:doc_line_num;not null"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:numeric(20,6);not null"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

// SourceAllocationModel is the source_allocations table
type SourceAllocationModel struct{ AllocationModel }

func (SourceAllocationModel) TableName() string { return "source_allocations" }

// TargetAllocationModel is the target_allocations table
type TargetAllocationModel struct{ AllocationModel }

func (TargetAllocationModel) TableName() string { return "target_allocations" }

// OperationModel is the operations table; ids are shared across operation types
type OperationModel struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Type        string    `gorm:"column:type;type:varchar(30);not null;index"`
	Status      string    `gorm:"column:status;type:varchar(20);not null;index"`
	Warehouse   string    `gorm:"column:warehouse;type:varchar(50);not null"`
	ExternalRef string    `gorm:"column:external_ref;type:varchar(100)"`
	Attempts    int       `gorm:"column:attempts;not null;default:0"`
	LastError   string    `gorm:"column:last_error;type:text"`
	CreatedBy   string    `gorm:"column:created_by;type:varchar(50)"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (OperationModel) TableName() string { return "operations" }

// LineModel is the operation_lines table
type LineModel struct {
	OperationID int64           `gorm:"column:operation_id;primaryKey;autoIncrement:false"`
	LineID      int64           `gorm:"column:line_id;primaryKey;autoIncrement:false"`
	Type        string          `gorm:"column:type;type:varchar(30);not null"`
	ItemCode    string          `gorm:"column:item_code;type:varchar(50);not null"`
	Unit        int             `gorm:"column:unit;not null"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:numeric(20,6);not null"`
	BaseQty     decimal.Decimal `gorm:"column:base_qty;type:numeric(20,6);not null"`
	Warehouse   string          `gorm:"column:warehouse;type:varchar(50);not null"`
	BinEntry    string          `gorm:"column:bin_entry;type:varchar(50)"`
	PackageID   *uuid.UUID      `gorm:"column:package_id;type:uuid"`
	Closed      bool            `gorm:"column:closed;not null;default:false"`
	CreatedAt   time.Time       `gorm:"column:created_at"`
}

func (LineModel) TableName() string { return "operation_lines" }

// TransferLineModel is the transfer_lines table
type TransferLineModel struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	Seq           int64           `gorm:"column:seq;autoIncrement;uniqueIndex"`
	TransferID    int64           `gorm:"column:transfer_id;not null;index"`
	ItemCode      string          `gorm:"column:item_code;type:varchar(50);not null"`
	Unit          int             `gorm:"column:unit;not null"`
	Quantity      decimal.Decimal `gorm:"column:quantity;type:numeric(20,6);not null"`
	FromWarehouse string          `gorm:"column:from_warehouse;type:varchar(50)"`
	FromBin       string          `gorm:"column:from_bin;type:varchar(50)"`
	ToBin         string          `gorm:"column:to_bin;type:varchar(50)"`
	PackageID     *uuid.UUID      `gorm:"column:package_id;type:uuid"`
	CreatedAt     time.Time       `gorm:"column:created_at"`
}

func (TransferLineModel) TableName() string { return "transfer_lines" }

func allModels() []any {
	return []any{
		&PackageModel{},
		&BarcodeSequenceModel{},
		&ContentModel{},
		&CommitmentModel{},
		&HistoryModel{},
		&SourceAllocationModel{},
		&TargetAllocationModel{},
		&OperationModel{},
		&LineModel{},
		&TransferLineModel{},
	}
}

func source(opType string, id int64) entities.SourceOperation {
	return entities.SourceOperation{Type: entities.OperationType(opType), ID: id}
}

func toPackageModel(p *entities.Package) *PackageModel {
	return &PackageModel{
		ID:            p.ID,
		Barcode:       p.Barcode,
		Status:        string(p.Status),
		PreLockStatus: string(p.PreLockStatus),
		WarehouseCode: p.WarehouseCode,
		BinEntry:      p.BinEntry,
		SourceType:    string(p.Source.Type),
		SourceID:      p.Source.ID,
		Attributes:    p.Attributes,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
		ClosedBy:      p.ClosedBy,
		ClosedAt:      p.ClosedAt,
		CancelledBy:   p.CancelledBy,
		CancelledAt:   p.CancelledAt,
	}
}

func (m *PackageModel) toEntity() *entities.Package {
	return &entities.Package{
		ID:            m.ID,
		Barcode:       m.Barcode,
		Status:        entities.PackageStatus(m.Status),
		PreLockStatus: entities.PackageStatus(m.PreLockStatus),
		WarehouseCode: m.WarehouseCode,
		BinEntry:      m.BinEntry,
		Source:        source(m.SourceType, m.SourceID),
		Attributes:    m.Attributes,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
		ClosedBy:      m.ClosedBy,
		ClosedAt:      m.ClosedAt,
		CancelledBy:   m.CancelledBy,
		CancelledAt:   m.CancelledAt,
	}
}

func toContentModel(c *entities.PackageContent) *ContentModel {
	return &ContentModel{
		ID:                c.ID,
		PackageID:         c.PackageID,
		ItemCode:          string(c.ItemCode),
		Unit:              int(c.Unit),
		Quantity:          c.Quantity,
		CommittedQuantity: c.CommittedQuantity,
		WarehouseCode:     c.WarehouseCode,
		BinEntry:          c.BinEntry,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

func (m *ContentModel) toEntity() *entities.PackageContent {
	return &entities.PackageContent{
		ID:                m.ID,
		PackageID:         m.PackageID,
		ItemCode:          entities.ItemCode(m.ItemCode),
		Unit:              entities.UnitOfMeasure(m.Unit),
		Quantity:          m.Quantity,
		CommittedQuantity: m.CommittedQuantity,
		WarehouseCode:     m.WarehouseCode,
		BinEntry:          m.BinEntry,
		CreatedAt:         m.CreatedAt,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toCommitmentModel(c *entities.PackageCommitment) *CommitmentModel {
	return &CommitmentModel{
		ID:              c.ID,
		PackageID:       c.PackageID,
		ContentID:       c.ContentID,
		ItemCode:        string(c.ItemCode),
		Quantity:        c.Quantity,
		SourceType:      string(c.Source.Type),
		SourceID:        c.Source.ID,
		SourceLineID:    c.SourceLineID,
		TargetPackageID: c.TargetPackageID,
		CreatedAt:       c.CreatedAt,
	}
}

func (m *CommitmentModel) toEntity() *entities.PackageCommitment {
	return &entities.PackageCommitment{
		ID:              m.ID,
		PackageID:       m.PackageID,
		ContentID:       m.ContentID,
		ItemCode:        entities.ItemCode(m.ItemCode),
		Quantity:        m.Quantity,
		Source:          source(m.SourceType, m.SourceID),
		SourceLineID:    m.SourceLineID,
		TargetPackageID: m.TargetPackageID,
		CreatedAt:       m.CreatedAt,
	}
}

func toHistoryModel(h *entities.PackageLocationHistory) *HistoryModel {
	return &HistoryModel{
		ID:            h.ID,
		PackageID:     h.PackageID,
		FromWarehouse: h.FromWarehouse,
		FromBin:       h.FromBin,
		ToWarehouse:   h.ToWarehouse,
		ToBin:         h.ToBin,
		MovementType:  string(h.MovementType),
		SourceType:    string(h.Source.Type),
		SourceID:      h.Source.ID,
		MovedBy:       h.MovedBy,
		CreatedAt:     h.CreatedAt,
	}
}

func (m *HistoryModel) toEntity() *entities.PackageLocationHistory {
	return &entities.PackageLocationHistory{
		ID:            m.ID,
		PackageID:     m.PackageID,
		FromWarehouse: m.FromWarehouse,
		FromBin:       m.FromBin,
		ToWarehouse:   m.ToWarehouse,
		ToBin:         m.ToBin,
		MovementType:  entities.MovementType(m.MovementType),
		Source:        source(m.SourceType, m.SourceID),
		MovedBy:       m.MovedBy,
		CreatedAt:     m.CreatedAt,
	}
}

func toAllocationModel(id uuid.UUID, receipt entities.SourceOperation, lineID int64, item entities.ItemCode, doc entities.DocumentRef, qty decimal.Decimal, at time.Time) AllocationModel {
	return AllocationModel{
		ID:          id,
		ReceiptType: string(receipt.Type),
		ReceiptID:   receipt.ID,
		LineID:      lineID,
		ItemCode:    string(item),
		DocType:     doc.DocType,
		DocEntry:    doc.Entry,
		DocLineNum:  doc.LineNum,
		Quantity:    qty,
		CreatedAt:   at,
	}
}

func (m AllocationModel) document() entities.DocumentRef {
	return entities.DocumentRef{DocType: m.DocType, Entry: m.DocEntry, LineNum: m.DocLineNum}
}

func toOperationModel(o *entities.Operation) *OperationModel {
	return &OperationModel{
		ID:          o.Source.ID,
		Type:        string(o.Source.Type),
		Status:      string(o.Status),
		Warehouse:   o.Warehouse,
		ExternalRef: o.ExternalRef,
		Attempts:    o.Attempts,
		LastError:   o.LastError,
		CreatedBy:   o.CreatedBy,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (m *OperationModel) toEntity() *entities.Operation {
	return &entities.Operation{
		Source:      source(m.Type, m.ID),
		Status:      entities.OperationStatus(m.Status),
		Warehouse:   m.Warehouse,
		ExternalRef: m.ExternalRef,
		Attempts:    m.Attempts,
		LastError:   m.LastError,
		CreatedBy:   m.CreatedBy,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

func toLineModel(l *entities.OperationLine) *LineModel {
	return &LineModel{
		OperationID: l.Source.ID,
		LineID:      l.LineID,
		Type:        string(l.Source.Type),
		ItemCode:    string(l.ItemCode),
		Unit:        int(l.Unit),
		Quantity:    l.Quantity,
		BaseQty:     l.BaseQty,
		Warehouse:   l.Warehouse,
		BinEntry:    l.BinEntry,
		PackageID:   l.PackageID,
		Closed:      l.Closed,
		CreatedAt:   l.CreatedAt,
	}
}

func (m *LineModel) toEntity() *entities.OperationLine {
	return &entities.OperationLine{
		Source:    source(m.Type, m.OperationID),
		LineID:    m.LineID,
		ItemCode:  entities.ItemCode(m.ItemCode),
		Unit:      entities.UnitOfMeasure(m.Unit),
		Quantity:  m.Quantity,
		BaseQty:   m.BaseQty,
		Warehouse: m.Warehouse,
		BinEntry:  m.BinEntry,
		PackageID: m.PackageID,
		Closed:    m.Closed,
		CreatedAt: m.CreatedAt,
	}
}

func toTransferLineModel(l *entities.TransferLine) *TransferLineModel {
	return &TransferLineModel{
		ID:            l.ID,
		TransferID:    l.TransferID,
		ItemCode:      string(l.ItemCode),
		Unit:          int(l.Unit),
		Quantity:      l.Quantity,
		FromWarehouse: l.FromWarehouse,
		FromBin:       l.FromBin,
		ToBin:         l.ToBin,
		PackageID:     l.PackageID,
		CreatedAt:     l.CreatedAt,
	}
}

func (m *TransferLineModel) toEntity() *entities.TransferLine {
	return &entities.TransferLine{
		ID:            m.ID,
		TransferID:    m.TransferID,
		ItemCode:      entities.ItemCode(m.ItemCode),
		Unit:          entities.UnitOfMeasure(m.Unit),
		Quantity:      m.Quantity,
		FromWarehouse: m.FromWarehouse,
		FromBin:       m.FromBin,
		ToBin:         m.ToBin,
		PackageID:     m.PackageID,
		CreatedAt:     m.CreatedAt,
	}
}
