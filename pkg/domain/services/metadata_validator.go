package services

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vsinha/packflow/pkg/domain/entities"
)

// MetadataDateLayout is the accepted textual form of date fields
const MetadataDateLayout = "2006-01-02"

// MetadataValidator interprets a caller-supplied field schema against attribute updates
type MetadataValidator struct {
	fields map[string]entities.FieldDefinition
}

// NewMetadataValidator creates a validator for the given field definitions
func NewMetadataValidator(schema []entities.FieldDefinition) (*MetadataValidator, error) {
	fields := make(map[string]entities.FieldDefinition, len(schema))
	for _, def := range schema {
		if def.ID == "" {
			return nil, entities.NewValidationError(entities.CodeInvalidInput, "metadata field id cannot be empty")
		}
		if _, exists := fields[def.ID]; exists {
			return nil, entities.NewValidationError(entities.CodeInvalidInput, "duplicate metadata field %q", def.ID)
		}
		fields[def.ID] = def
	}
	return &MetadataValidator{fields: fields}, nil
}

// Apply validates updates and merges them into current, returning a new attribute map.
// A nil update value removes the key.
func (v *MetadataValidator) Apply(current map[string]any, updates map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(current)+len(updates))
	for k, val := range current {
		merged[k] = val
	}

	// Sorted for deterministic error reporting
	keys := make([]string, 0, len(updates))
	for k := range updates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		def, ok := v.fields[key]
		if !ok {
			return nil, entities.NewValidationError(entities.CodeUnknownField, "unknown metadata field %q", key)
		}
		if def.ReadOnly {
			return nil, entities.NewValidationError(entities.CodeReadOnlyField, "metadata field %q is read-only", key)
		}

		raw := updates[key]
		if raw == nil {
			if def.Required {
				return nil, entities.NewValidationError(entities.CodeRequiredField, "metadata field %q is required", key)
			}
			delete(merged, key)
			continue
		}

		value, err := v.coerce(def, raw)
		if err != nil {
			return nil, err
		}
		merged[key] = value
	}

	for id, def := range v.fields {
		if !def.Required {
			continue
		}
		if _, ok := merged[id]; !ok {
			return nil, entities.NewValidationError(entities.CodeRequiredField, "metadata field %q is required", id)
		}
	}

	return merged, nil
}

// coerce normalizes a value to the canonical representation of its field type
func (v *MetadataValidator) coerce(def entities.FieldDefinition, raw any) (any, error) {
	switch def.Type {
	case entities.FieldString:
		s, ok := raw.(string)
		if !ok {
			return nil, fieldTypeError(def, raw)
		}
		return s, nil

	case entities.FieldDecimal:
		switch val := raw.(type) {
		case decimal.Decimal:
			return val.String(), nil
		case string:
			d, err := decimal.NewFromString(val)
			if err != nil {
				return nil, fieldTypeError(def, raw)
			}
			return d.String(), nil
		case float64:
			return decimal.NewFromFloat(val).String(), nil
		case int:
			return decimal.NewFromInt(int64(val)).String(), nil
		case int64:
			return decimal.NewFromInt(val).String(), nil
		}
		return nil, fieldTypeError(def, raw)

	case entities.FieldDate:
		switch val := raw.(type) {
		case time.Time:
			return val.Format(MetadataDateLayout), nil
		case string:
			t, err := time.Parse(MetadataDateLayout, val)
			if err != nil {
				if t, err = time.Parse(time.RFC3339, val); err != nil {
					return nil, fieldTypeError(def, raw)
				}
			}
			return t.Format(MetadataDateLayout), nil
		}
		return nil, fieldTypeError(def, raw)
	}

	return nil, entities.NewValidationError(entities.CodeFieldType, "metadata field %q has unsupported type %s", def.ID, def.Type)
}

func fieldTypeError(def entities.FieldDefinition, raw any) error {
	return entities.NewValidationError(entities.CodeFieldType,
		"metadata field %q expects %s, got %s", def.ID, def.Type, fmt.Sprintf("%T", raw))
}
