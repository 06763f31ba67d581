package testing

import (
	"github.com/shopspring/decimal"

	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/infrastructure/config"
	"github.com/vsinha/packflow/pkg/infrastructure/erp"
	"github.com/vsinha/packflow/pkg/infrastructure/events"
	"github.com/vsinha/packflow/pkg/infrastructure/repositories/memory"
)

// Warehouse and bins used by every fixture
const (
	Warehouse       = "WH1"
	Bin             = "A-01"
	OtherBin        = "B-02"
	CancellationBin = "CANCEL"
)

// Fixture wires in-memory infrastructure for service tests
type Fixture struct {
	Store    *memory.Store
	ERP      *erp.MemoryERP
	Settings *config.StaticSettings
	Events   *events.InMemoryEventStore
	Caller   entities.Caller
}

// DefaultSettings returns settings with every feature enabled
func DefaultSettings() entities.Settings {
	return entities.Settings{
		PackagesEnabled:           true,
		TargetDistributionEnabled: true,
		Barcode: entities.BarcodeFormat{
			Prefix:      "PK",
			StartNumber: 1,
			Length:      6,
		},
		CancellationBin:          CancellationBin,
		FallbackSourcePreference: []string{"GR"},
	}
}

// NewFixture builds an empty store and ERP with the default settings
func NewFixture() *Fixture {
	return &Fixture{
		Store:    memory.NewStore(),
		ERP:      erp.NewMemoryERP(nil),
		Settings: config.NewStaticSettings(DefaultSettings()),
		Events:   events.NewInMemoryEventStore(nil),
		Caller:   entities.Caller{UserID: "alice", Warehouse: Warehouse},
	}
}

// SeedItem registers an item with 12 units per dozen and the given dozens per pack
func (f *Fixture) SeedItem(code entities.ItemCode, dozensPerPack int64) {
	f.ERP.SetUnitFactors(entities.UnitFactors{
		ItemCode:      code,
		UnitsPerDozen: decimal.NewFromInt(12),
		DozensPerPack: decimal.NewFromInt(dozensPerPack),
	})
}

// EventTypes returns the types of every published event in order
func (f *Fixture) EventTypes() []string {
	all, _ := f.Events.ReadAllEvents(0)
	out := make([]string, 0, len(all))
	for _, e := range all {
		out = append(out, e.Type())
	}
	return out
}

// Qty is shorthand for an integer decimal quantity
func Qty(n int64) decimal.Decimal {
	return decimal.NewFromInt(n)
}
