package entities

// SystemUserID identifies automated reconciliation and sweep work
const SystemUserID = "system"

// Caller is the explicit identity and warehouse context passed through every call
type Caller struct {
	UserID    string
	Warehouse string
}

// SystemCaller returns the caller used by background processing in a warehouse
func SystemCaller(warehouse string) Caller {
	return Caller{UserID: SystemUserID, Warehouse: warehouse}
}

// IsSystem reports whether the caller is the automated system user
func (c Caller) IsSystem() bool {
	return c.UserID == SystemUserID
}

// Validate rejects an anonymous caller or one without warehouse context
func (c Caller) Validate() error {
	if c.UserID == "" {
		return NewValidationError(CodeMissingCaller, "caller identity is required")
	}
	if c.Warehouse == "" {
		return NewValidationError(CodeMissingWarehouse, "warehouse context is required")
	}
	return nil
}

// BarcodeFormat configures sequential package barcodes
type BarcodeFormat struct {
	Prefix      string
	Suffix      string
	StartNumber int64
	Length      int
}

// Settings holds feature toggles and warehouse-specific configuration
type Settings struct {
	PackagesEnabled           bool
	TargetDistributionEnabled bool
	Barcode                   BarcodeFormat
	CancellationBin           string
	// FallbackSourcePreference ranks source document types for the FIFO fallback, most preferred first
	FallbackSourcePreference []string
}
