package entities

import (
	"github.com/shopspring/decimal"
)

// ItemCode represents a unique item identifier in the ERP
type ItemCode string

// UnitOfMeasure represents the unit a line quantity is expressed in
type UnitOfMeasure int

const (
	UnitSingle UnitOfMeasure = iota
	UnitDozen
	UnitPack
)

// String method for UnitOfMeasure enum
func (u UnitOfMeasure) String() string {
	switch u {
	case UnitSingle:
		return "Unit"
	case UnitDozen:
		return "Dozen"
	case UnitPack:
		return "Pack"
	default:
		return "Unknown"
	}
}

// ParseUnitOfMeasure maps a unit name to its enum value
func ParseUnitOfMeasure(s string) (UnitOfMeasure, bool) {
	switch s {
	case "Unit", "unit", "":
		return UnitSingle, true
	case "Dozen", "dozen":
		return UnitDozen, true
	case "Pack", "pack":
		return UnitPack, true
	default:
		return UnitSingle, false
	}
}

// UnitFactors holds the base-unit conversion factors of an item
type UnitFactors struct {
	ItemCode ItemCode
	// UnitsPerDozen is the number of base units in one dozen-unit
	UnitsPerDozen decimal.Decimal
	// DozensPerPack is the number of dozen-units in one pack
	DozensPerPack decimal.Decimal
}

// UnitsPerPack returns the number of base units in one pack
func (f UnitFactors) UnitsPerPack() decimal.Decimal {
	return f.UnitsPerDozen.Mul(f.DozensPerPack)
}

// Item represents item master data relevant to inventory movement
type Item struct {
	ItemCode    ItemCode
	Description string
	Factors     UnitFactors
}
