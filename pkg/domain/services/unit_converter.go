package services

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// UnitBreakdown is a base quantity expressed as whole packs, dozens and loose units
type UnitBreakdown struct {
	Packs  decimal.Decimal
	Dozens decimal.Decimal
	Units  decimal.Decimal
}

// Lines returns the non-zero parts as (unit, quantity) pairs, packs first
func (b UnitBreakdown) Lines() []UnitQuantity {
	var lines []UnitQuantity
	if b.Packs.IsPositive() {
		lines = append(lines, UnitQuantity{Unit: entities.UnitPack, Quantity: b.Packs})
	}
	if b.Dozens.IsPositive() {
		lines = append(lines, UnitQuantity{Unit: entities.UnitDozen, Quantity: b.Dozens})
	}
	if b.Units.IsPositive() {
		lines = append(lines, UnitQuantity{Unit: entities.UnitSingle, Quantity: b.Units})
	}
	return lines
}

// UnitQuantity is a quantity in a specific unit of measure
type UnitQuantity struct {
	Unit     entities.UnitOfMeasure
	Quantity decimal.Decimal
}

// ToBaseUnits converts a quantity in unit to base units
func ToBaseUnits(quantity decimal.Decimal, unit entities.UnitOfMeasure, factors entities.UnitFactors) (decimal.Decimal, error) {
	switch unit {
	case entities.UnitSingle:
		return quantity, nil
	case entities.UnitDozen:
		if !factors.UnitsPerDozen.IsPositive() {
			return decimal.Zero, fmt.Errorf("item %s has no dozen factor", factors.ItemCode)
		}
		return quantity.Mul(factors.UnitsPerDozen), nil
	case entities.UnitPack:
		perPack := factors.UnitsPerPack()
		if !perPack.IsPositive() {
			return decimal.Zero, fmt.Errorf("item %s has no pack factor", factors.ItemCode)
		}
		return quantity.Mul(perPack), nil
	}
	return decimal.Zero, fmt.Errorf("unknown unit of measure %d", unit)
}

// BreakdownBaseQuantity splits a base quantity by successive integer division:
// packs first, then dozens from the remainder, then loose units
func BreakdownBaseQuantity(quantity decimal.Decimal, factors entities.UnitFactors) UnitBreakdown {
	remaining := quantity
	var result UnitBreakdown

	perPack := factors.UnitsPerPack()
	if perPack.IsPositive() && factors.DozensPerPack.IsPositive() {
		result.Packs = remaining.Div(perPack).Floor()
		remaining = remaining.Sub(result.Packs.Mul(perPack))
	}

	if factors.UnitsPerDozen.IsPositive() {
		result.Dozens = remaining.Div(factors.UnitsPerDozen).Floor()
		remaining = remaining.Sub(result.Dozens.Mul(factors.UnitsPerDozen))
	}

	result.Units = remaining
	return result
}
