package http

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vsinha/packflow/pkg/application/dto"
	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/infrastructure/events"
)

type SourceRef struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

func (s SourceRef) toEntity() entities.SourceOperation {
	return entities.SourceOperation{Type: entities.OperationType(s.Type), ID: s.ID}
}

func sourceRef(s entities.SourceOperation) *SourceRef {
	if s.IsZero() {
		return nil
	}
	return &SourceRef{Type: string(s.Type), ID: s.ID}
}

type CreatePackageRequest struct {
	BinEntry   string         `json:"bin_entry"`
	Source     *SourceRef     `json:"source"`
	Attributes map[string]any `json:"attributes"`
}

type ContentRequest struct {
	ItemCode string          `json:"item_code"`
	Unit     string          `json:"unit"`
	Quantity decimal.Decimal `json:"quantity"`
	BinEntry string          `json:"bin_entry"`
}

type MetadataRequest struct {
	Fields map[string]any `json:"fields"`
}

type MoveRequest struct {
	ToWarehouse string     `json:"to_warehouse"`
	ToBin       string     `json:"to_bin"`
	Source      *SourceRef `json:"source"`
}

type CreateOperationRequest struct {
	Type string `json:"type"`
}

type LineRequest struct {
	ItemCode        string          `json:"item_code"`
	Unit            string          `json:"unit"`
	Quantity        decimal.Decimal `json:"quantity"`
	BinEntry        string          `json:"bin_entry"`
	PackageID       *uuid.UUID      `json:"package_id"`
	TargetPackageID *uuid.UUID      `json:"target_package_id"`
}

type UpdateLineRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
}

type FollowUpLine struct {
	PickEntry int64           `json:"pick_entry"`
	PackageID uuid.UUID       `json:"package_id"`
	ItemCode  string          `json:"item_code"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type ClosureRequest struct {
	Lines []FollowUpLine `json:"lines"`
}

type PackageResponse struct {
	ID          uuid.UUID              `json:"id"`
	Barcode     string                 `json:"barcode"`
	Status      string                 `json:"status"`
	Warehouse   string                 `json:"warehouse"`
	BinEntry    string                 `json:"bin_entry"`
	Source      *SourceRef             `json:"source,omitempty"`
	Attributes  map[string]any         `json:"attributes,omitempty"`
	CreatedBy   string                 `json:"created_by"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Contents    []ContentResponse      `json:"contents,omitempty"`
	Commitments []CommitmentResponse   `json:"commitments,omitempty"`
	History     []HistoryEntryResponse `json:"history,omitempty"`
}

type ContentResponse struct {
	ID        uuid.UUID       `json:"id"`
	ItemCode  string          `json:"item_code"`
	Unit      string          `json:"unit"`
	Quantity  decimal.Decimal `json:"quantity"`
	Committed decimal.Decimal `json:"committed"`
	Available decimal.Decimal `json:"available"`
	Warehouse string          `json:"warehouse"`
	BinEntry  string          `json:"bin_entry"`
}

type CommitmentResponse struct {
	ID           uuid.UUID       `json:"id"`
	PackageID    uuid.UUID       `json:"package_id"`
	ItemCode     string          `json:"item_code"`
	Quantity     decimal.Decimal `json:"quantity"`
	Source       *SourceRef      `json:"source"`
	SourceLineID int64           `json:"source_line_id"`
	CreatedAt    time.Time       `json:"created_at"`
}

type HistoryEntryResponse struct {
	FromWarehouse string     `json:"from_warehouse"`
	FromBin       string     `json:"from_bin"`
	ToWarehouse   string     `json:"to_warehouse"`
	ToBin         string     `json:"to_bin"`
	MovementType  string     `json:"movement_type"`
	Source        *SourceRef `json:"source,omitempty"`
	MovedBy       string     `json:"moved_by"`
	CreatedAt     time.Time  `json:"created_at"`
}

type OperationResponse struct {
	Type        string    `json:"type"`
	ID          int64     `json:"id"`
	Status      string    `json:"status"`
	Warehouse   string    `json:"warehouse"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type AllocationResponse struct {
	Document string          `json:"document"`
	Quantity decimal.Decimal `json:"quantity"`
}

type LineResponse struct {
	LineID       int64                `json:"line_id"`
	ItemCode     string               `json:"item_code"`
	Unit         string               `json:"unit"`
	Quantity     decimal.Decimal      `json:"quantity"`
	BaseQuantity decimal.Decimal      `json:"base_quantity"`
	PackageID    *uuid.UUID           `json:"package_id,omitempty"`
	Sources      []AllocationResponse `json:"sources,omitempty"`
	Targets      []AllocationResponse `json:"targets,omitempty"`
	Unassigned   *decimal.Decimal     `json:"unassigned,omitempty"`
	CommitmentID *uuid.UUID           `json:"commitment_id,omitempty"`
}

type FailureResponse struct {
	PackageID *uuid.UUID `json:"package_id,omitempty"`
	ItemCode  string     `json:"item_code,omitempty"`
	Reason    string     `json:"reason"`
}

type ClosureResponse struct {
	Reduced        map[uuid.UUID]map[string]decimal.Decimal `json:"reduced"`
	ClosedPackages []uuid.UUID                              `json:"closed_packages"`
	Failures       []FailureResponse                        `json:"failures"`
}

type SweepResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type EventResponse struct {
	Type      string    `json:"type"`
	Stream    string    `json:"stream"`
	Version   int       `json:"version"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

func packageResponse(p *entities.Package) PackageResponse {
	return PackageResponse{
		ID:         p.ID,
		Barcode:    p.Barcode,
		Status:     string(p.Status),
		Warehouse:  p.WarehouseCode,
		BinEntry:   p.BinEntry,
		Source:     sourceRef(p.Source),
		Attributes: p.Attributes,
		CreatedBy:  p.CreatedBy,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

func packageViewResponse(v *dto.PackageView) PackageResponse {
	out := packageResponse(v.Package)
	for _, c := range v.Contents {
		out.Contents = append(out.Contents, ContentResponse{
			ID:        c.ID,
			ItemCode:  string(c.ItemCode),
			Unit:      c.Unit.String(),
			Quantity:  c.Quantity,
			Committed: c.CommittedQuantity,
			Available: c.Available(),
			Warehouse: c.WarehouseCode,
			BinEntry:  c.BinEntry,
		})
	}
	for _, c := range v.Commitments {
		out.Commitments = append(out.Commitments, commitmentResponse(c))
	}
	out.History = historyResponse(v.History)
	return out
}

func commitmentResponse(c *entities.PackageCommitment) CommitmentResponse {
	return CommitmentResponse{
		ID:           c.ID,
		PackageID:    c.PackageID,
		ItemCode:     string(c.ItemCode),
		Quantity:     c.Quantity,
		Source:       sourceRef(c.Source),
		SourceLineID: c.SourceLineID,
		CreatedAt:    c.CreatedAt,
	}
}

func historyResponse(entries []*entities.PackageLocationHistory) []HistoryEntryResponse {
	var out []HistoryEntryResponse
	for _, h := range entries {
		out = append(out, HistoryEntryResponse{
			FromWarehouse: h.FromWarehouse,
			FromBin:       h.FromBin,
			ToWarehouse:   h.ToWarehouse,
			ToBin:         h.ToBin,
			MovementType:  string(h.MovementType),
			Source:        sourceRef(h.Source),
			MovedBy:       h.MovedBy,
			CreatedAt:     h.CreatedAt,
		})
	}
	return out
}

func operationResponse(o *entities.Operation) OperationResponse {
	return OperationResponse{
		Type:        string(o.Source.Type),
		ID:          o.Source.ID,
		Status:      string(o.Status),
		Warehouse:   o.Warehouse,
		ExternalRef: o.ExternalRef,
		Attempts:    o.Attempts,
		LastError:   o.LastError,
		UpdatedAt:   o.UpdatedAt,
	}
}

func lineResponse(r *dto.LineResult) LineResponse {
	out := LineResponse{
		LineID:       r.Line.LineID,
		ItemCode:     string(r.Line.ItemCode),
		Unit:         r.Line.Unit.String(),
		Quantity:     r.Line.Quantity,
		BaseQuantity: r.Line.BaseQty,
		PackageID:    r.Line.PackageID,
	}
	if r.Plan != nil {
		for _, s := range r.Plan.Sources {
			out.Sources = append(out.Sources, AllocationResponse{Document: s.Document.String(), Quantity: s.Quantity})
		}
		for _, t := range r.Plan.Targets {
			out.Targets = append(out.Targets, AllocationResponse{Document: t.Document.String(), Quantity: t.Quantity})
		}
		unassigned := r.Plan.Unassigned
		out.Unassigned = &unassigned
	}
	if r.Commitment != nil {
		id := r.Commitment.ID
		out.CommitmentID = &id
	}
	return out
}

func failureResponses(failures []dto.ReconciliationFailure) []FailureResponse {
	out := make([]FailureResponse, 0, len(failures))
	for _, f := range failures {
		out = append(out, FailureResponse{PackageID: f.PackageID, ItemCode: string(f.ItemCode), Reason: f.Reason})
	}
	return out
}

func eventResponses(list []events.Event) []EventResponse {
	out := make([]EventResponse, 0, len(list))
	for _, e := range list {
		out = append(out, EventResponse{
			Type:      e.Type(),
			Stream:    e.StreamID(),
			Version:   e.Version(),
			Data:      e.Data(),
			Timestamp: e.Timestamp(),
		})
	}
	return out
}
