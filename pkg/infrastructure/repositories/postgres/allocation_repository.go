package postgres

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

type allocationSum struct {
	DocType    string
	DocEntry   int64
	DocLineNum int
	Total      decimal.Decimal
}

func (s *Store) SaveSourceAllocations(ctx context.Context, allocations []entities.SourceAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]SourceAllocationModel, 0, len(allocations))
	for _, a := range allocations {
		rows = append(rows, SourceAllocationModel{toAllocationModel(a.ID, a.Receipt, a.LineID, a.ItemCode, a.Document, a.Quantity, a.CreatedAt)})
	}
	if err := s.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert source allocations: %w", err)
	}
	return nil
}

func (s *Store) ListSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.SourceAllocation, error) {
	var rows []SourceAllocationModel
	err := s.conn(ctx).
		Where("receipt_type = ? AND receipt_id = ? AND line_id = ?", string(receipt.Type), receipt.ID, lineID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list source allocations: %w", err)
	}
	return sourceAllocations(rows), nil
}

func (s *Store) ListSourceAllocationsByItem(ctx context.Context, itemCode entities.ItemCode) ([]entities.SourceAllocation, error) {
	var rows []SourceAllocationModel
	if err := s.conn(ctx).Where("item_code = ?", string(itemCode)).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list source allocations: %w", err)
	}
	return sourceAllocations(rows), nil
}

func (s *Store) SourceAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error) {
	return allocatedQuantities(s.conn(ctx).Model(&SourceAllocationModel{}), itemCode)
}

func (s *Store) DeleteSourceAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error {
	return deleteWhere(s.conn(ctx), &SourceAllocationModel{},
		"receipt_type = ? AND receipt_id = ? AND line_id = ?", string(receipt.Type), receipt.ID, lineID)
}

func (s *Store) SaveTargetAllocations(ctx context.Context, allocations []entities.TargetAllocation) error {
	if len(allocations) == 0 {
		return nil
	}
	rows := make([]TargetAllocationModel, 0, len(allocations))
	for _, a := range allocations {
		rows = append(rows, TargetAllocationModel{toAllocationModel(a.ID, a.Receipt, a.LineID, a.ItemCode, a.Document, a.Quantity, a.CreatedAt)})
	}
	if err := s.conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to insert target allocations: %w", err)
	}
	return nil
}

func (s *Store) ListTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) ([]entities.TargetAllocation, error) {
	var rows []TargetAllocationModel
	err := s.conn(ctx).
		Where("receipt_type = ? AND receipt_id = ? AND line_id = ?", string(receipt.Type), receipt.ID, lineID).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list target allocations: %w", err)
	}
	out := make([]entities.TargetAllocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, entities.TargetAllocation{
			ID:        r.ID,
			Receipt:   source(r.ReceiptType, r.ReceiptID),
			LineID:    r.LineID,
			ItemCode:  entities.ItemCode(r.ItemCode),
			Document:  r.document(),
			Quantity:  r.Quantity,
			CreatedAt: r.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) TargetAllocatedQuantities(ctx context.Context, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error) {
	return allocatedQuantities(s.conn(ctx).Model(&TargetAllocationModel{}), itemCode)
}

func (s *Store) DeleteTargetAllocations(ctx context.Context, receipt entities.SourceOperation, lineID int64) error {
	return deleteWhere(s.conn(ctx), &TargetAllocationModel{},
		"receipt_type = ? AND receipt_id = ? AND line_id = ?", string(receipt.Type), receipt.ID, lineID)
}

func allocatedQuantities(query *gorm.DB, itemCode entities.ItemCode) (map[entities.DocumentRef]decimal.Decimal, error) {
	var sums []allocationSum
	err := query.
		Select("doc_type, doc_entry, doc_line_num, SUM(quantity) AS total").
		Where("item_code = ?", string(itemCode)).
		Group("doc_type, doc_entry, doc_line_num").
		Scan(&sums).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum allocations: %w", err)
	}
	out := make(map[entities.DocumentRef]decimal.Decimal, len(sums))
	for _, s := range sums {
		out[entities.DocumentRef{DocType: s.DocType, Entry: s.DocEntry, LineNum: s.DocLineNum}] = s.Total
	}
	return out, nil
}

func sourceAllocations(rows []SourceAllocationModel) []entities.SourceAllocation {
	out := make([]entities.SourceAllocation, 0, len(rows))
	for _, r := range rows {
		out = append(out, entities.SourceAllocation{
			ID:        r.ID,
			Receipt:   source(r.ReceiptType, r.ReceiptID),
			LineID:    r.LineID,
			ItemCode:  entities.ItemCode(r.ItemCode),
			Document:  r.document(),
			Quantity:  r.Quantity,
			CreatedAt: r.CreatedAt,
		})
	}
	return out
}
