package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/infrastructure/erp"
)

const dateLayout = "2006-01-02"

// Seed file names inside a seed directory
const (
	ItemsFile           = "items.csv"
	SourceDocumentsFile = "source_documents.csv"
	WaitingTargetsFile  = "waiting_targets.csv"
	OnHandFile          = "on_hand.csv"
)

// SourceDocumentRow is an open source document line for an item in a warehouse
type SourceDocumentRow struct {
	ItemCode  entities.ItemCode
	Warehouse string
	Candidate entities.SourceCandidate
}

// WaitingTargetRow is a downstream document line waiting on an item
type WaitingTargetRow struct {
	ItemCode  entities.ItemCode
	Warehouse string
	Target    entities.TargetCandidate
}

// OnHandRow is a bin quantity
type OnHandRow struct {
	ItemCode  entities.ItemCode
	Warehouse string
	BinEntry  string
	Quantity  decimal.Decimal
}

// Loader handles loading ERP seed data from CSV files
type Loader struct{}

// NewLoader creates a new CSV loader
func NewLoader() *Loader {
	return &Loader{}
}

// LoadDirectory loads every seed file present in dir into the in-memory ERP.
// Missing files are skipped.
func (l *Loader) LoadDirectory(dir string, target *erp.MemoryERP) error {
	present := func(name string) (string, bool) {
		path := filepath.Join(dir, name)
		_, err := os.Stat(path)
		return path, err == nil
	}

	if path, ok := present(ItemsFile); ok {
		items, err := l.LoadItems(path)
		if err != nil {
			return err
		}
		for _, item := range items {
			target.SetUnitFactors(item.Factors)
		}
	}
	if path, ok := present(SourceDocumentsFile); ok {
		rows, err := l.LoadSourceDocuments(path)
		if err != nil {
			return err
		}
		for _, row := range rows {
			target.AddSourceCandidate(row.ItemCode, row.Warehouse, row.Candidate)
		}
	}
	if path, ok := present(WaitingTargetsFile); ok {
		rows, err := l.LoadWaitingTargets(path)
		if err != nil {
			return err
		}
		for _, row := range rows {
			target.AddWaitingTarget(row.ItemCode, row.Warehouse, row.Target)
		}
	}
	if path, ok := present(OnHandFile); ok {
		rows, err := l.LoadOnHand(path)
		if err != nil {
			return err
		}
		for _, row := range rows {
			target.SetOnHand(row.ItemCode, row.Warehouse, row.BinEntry, row.Quantity)
		}
	}
	return nil
}

// LoadItems loads items and their unit factors from a CSV file
func (l *Loader) LoadItems(filename string) ([]*entities.Item, error) {
	records, err := readRecords(filename, "items", []string{"item_code", "description", "units_per_dozen", "dozens_per_pack"})
	if err != nil {
		return nil, err
	}

	var items []*entities.Item
	for i, record := range records {
		item, err := parseItem(record)
		if err != nil {
			return nil, fmt.Errorf("items CSV row %d: %w", i+2, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// LoadSourceDocuments loads open source document lines from a CSV file
func (l *Loader) LoadSourceDocuments(filename string) ([]SourceDocumentRow, error) {
	records, err := readRecords(filename, "source documents",
		[]string{"doc_type", "entry", "line_num", "item_code", "warehouse", "available", "doc_date"})
	if err != nil {
		return nil, err
	}

	var rows []SourceDocumentRow
	for i, record := range records {
		doc, err := parseDocumentRef(record[0], record[1], record[2])
		if err != nil {
			return nil, fmt.Errorf("source documents CSV row %d: %w", i+2, err)
		}
		available, err := decimal.NewFromString(record[5])
		if err != nil {
			return nil, fmt.Errorf("source documents CSV row %d: invalid available %q: %w", i+2, record[5], err)
		}
		docDate, err := time.Parse(dateLayout, record[6])
		if err != nil {
			return nil, fmt.Errorf("source documents CSV row %d: invalid doc_date %q: %w", i+2, record[6], err)
		}
		rows = append(rows, SourceDocumentRow{
			ItemCode:  entities.ItemCode(record[3]),
			Warehouse: record[4],
			Candidate: entities.SourceCandidate{Document: doc, Available: available, DocDate: docDate},
		})
	}
	return rows, nil
}

// LoadWaitingTargets loads waiting target document lines from a CSV file
func (l *Loader) LoadWaitingTargets(filename string) ([]WaitingTargetRow, error) {
	records, err := readRecords(filename, "waiting targets",
		[]string{"doc_type", "entry", "line_num", "item_code", "warehouse", "priority", "required", "doc_date"})
	if err != nil {
		return nil, err
	}

	var rows []WaitingTargetRow
	for i, record := range records {
		doc, err := parseDocumentRef(record[0], record[1], record[2])
		if err != nil {
			return nil, fmt.Errorf("waiting targets CSV row %d: %w", i+2, err)
		}
		priority, err := strconv.Atoi(record[5])
		if err != nil {
			return nil, fmt.Errorf("waiting targets CSV row %d: invalid priority %q: %w", i+2, record[5], err)
		}
		required, err := decimal.NewFromString(record[6])
		if err != nil {
			return nil, fmt.Errorf("waiting targets CSV row %d: invalid required %q: %w", i+2, record[6], err)
		}
		docDate, err := time.Parse(dateLayout, record[7])
		if err != nil {
			return nil, fmt.Errorf("waiting targets CSV row %d: invalid doc_date %q: %w", i+2, record[7], err)
		}
		rows = append(rows, WaitingTargetRow{
			ItemCode:  entities.ItemCode(record[3]),
			Warehouse: record[4],
			Target:    entities.TargetCandidate{Document: doc, Priority: priority, Required: required, DocDate: docDate},
		})
	}
	return rows, nil
}

// LoadOnHand loads bin quantities from a CSV file
func (l *Loader) LoadOnHand(filename string) ([]OnHandRow, error) {
	records, err := readRecords(filename, "on hand", []string{"item_code", "warehouse", "bin", "quantity"})
	if err != nil {
		return nil, err
	}

	var rows []OnHandRow
	for i, record := range records {
		qty, err := decimal.NewFromString(record[3])
		if err != nil {
			return nil, fmt.Errorf("on hand CSV row %d: invalid quantity %q: %w", i+2, record[3], err)
		}
		if qty.IsNegative() {
			return nil, fmt.Errorf("on hand CSV row %d: quantity cannot be negative", i+2)
		}
		rows = append(rows, OnHandRow{
			ItemCode:  entities.ItemCode(record[0]),
			Warehouse: record[1],
			BinEntry:  record[2],
			Quantity:  qty,
		})
	}
	return rows, nil
}

// readRecords returns the data rows of a CSV file after checking its header and row widths
func readRecords(filename, kind string, expectedHeader []string) ([][]string, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s file %s: %w", kind, filename, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s CSV: %w", kind, err)
	}

	if len(records) < 2 {
		return nil, fmt.Errorf("%s CSV must have header and at least one data row", kind)
	}

	header := records[0]
	if !validateHeader(header, expectedHeader) {
		return nil, fmt.Errorf("%s CSV header mismatch. Expected: %v, Got: %v", kind, expectedHeader, header)
	}

	for i, record := range records[1:] {
		if len(record) != len(expectedHeader) {
			return nil, fmt.Errorf("%s CSV row %d: expected %d columns, got %d", kind, i+2, len(expectedHeader), len(record))
		}
	}
	return records[1:], nil
}

func validateHeader(actual, expected []string) bool {
	if len(actual) != len(expected) {
		return false
	}
	for i, col := range actual {
		if strings.TrimSpace(strings.ToLower(col)) != expected[i] {
			return false
		}
	}
	return true
}

func parseItem(record []string) (*entities.Item, error) {
	if record[0] == "" {
		return nil, errors.New("item_code cannot be empty")
	}
	perDozen, err := decimal.NewFromString(record[2])
	if err != nil {
		return nil, fmt.Errorf("invalid units_per_dozen %q: %w", record[2], err)
	}
	perPack, err := decimal.NewFromString(record[3])
	if err != nil {
		return nil, fmt.Errorf("invalid dozens_per_pack %q: %w", record[3], err)
	}
	if !perDozen.IsPositive() || !perPack.IsPositive() {
		return nil, errors.New("unit factors must be positive")
	}

	code := entities.ItemCode(record[0])
	return &entities.Item{
		ItemCode:    code,
		Description: record[1],
		Factors: entities.UnitFactors{
			ItemCode:      code,
			UnitsPerDozen: perDozen,
			DozensPerPack: perPack,
		},
	}, nil
}

func parseDocumentRef(docType, entry, line string) (entities.DocumentRef, error) {
	if docType == "" {
		return entities.DocumentRef{}, errors.New("doc_type cannot be empty")
	}
	e, err := strconv.ParseInt(entry, 10, 64)
	if err != nil {
		return entities.DocumentRef{}, fmt.Errorf("invalid entry %q: %w", entry, err)
	}
	n, err := strconv.Atoi(line)
	if err != nil {
		return entities.DocumentRef{}, fmt.Errorf("invalid line_num %q: %w", line, err)
	}
	return entities.DocumentRef{DocType: docType, Entry: e, LineNum: n}, nil
}
