package entities

// FieldType represents the value type of a package metadata field
type FieldType int

const (
	FieldString FieldType = iota
	FieldDecimal
	FieldDate
)

// String method for FieldType enum
func (f FieldType) String() string {
	switch f {
	case FieldString:
		return "String"
	case FieldDecimal:
		return "Decimal"
	case FieldDate:
		return "Date"
	default:
		return "Unknown"
	}
}

// FieldDefinition describes one caller-supplied metadata field
type FieldDefinition struct {
	ID       string
	Type     FieldType
	Required bool
	ReadOnly bool
}
