package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/vsinha/packflow/pkg/domain/entities"
)

// BarcodeCodec formats and parses sequential package barcodes
type BarcodeCodec struct {
	format  entities.BarcodeFormat
	pattern *regexp.Regexp
}

// NewBarcodeCodec creates a codec for the configured prefix, suffix and length
func NewBarcodeCodec(format entities.BarcodeFormat) (*BarcodeCodec, error) {
	if format.Length <= 0 {
		return nil, fmt.Errorf("barcode length must be positive, got %d", format.Length)
	}
	if format.StartNumber < 0 {
		return nil, fmt.Errorf("barcode start number cannot be negative, got %d", format.StartNumber)
	}
	// Pattern matches <prefix><digits><suffix>, digits padded to at least Length
	pattern := regexp.MustCompile(fmt.Sprintf(`^%s(\d{%d,})%s$`,
		regexp.QuoteMeta(format.Prefix), format.Length, regexp.QuoteMeta(format.Suffix)))
	return &BarcodeCodec{format: format, pattern: pattern}, nil
}

// Format renders the barcode for a sequence number
func (bc *BarcodeCodec) Format(number int64) (string, error) {
	if number < bc.format.StartNumber {
		return "", fmt.Errorf("barcode number %d below start number %d", number, bc.format.StartNumber)
	}
	digits := strconv.FormatInt(number, 10)
	if len(digits) < bc.format.Length {
		digits = strings.Repeat("0", bc.format.Length-len(digits)) + digits
	}
	return bc.format.Prefix + digits + bc.format.Suffix, nil
}

// Parse extracts the sequence number, rejecting malformed barcodes
func (bc *BarcodeCodec) Parse(barcode string) (int64, error) {
	matches := bc.pattern.FindStringSubmatch(barcode)
	if len(matches) != 2 {
		return 0, entities.NewValidationError(entities.CodeMalformedBarcode, "malformed barcode %q", barcode)
	}
	num, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, entities.NewValidationError(entities.CodeMalformedBarcode, "invalid numeric portion in barcode %q", barcode)
	}
	return num, nil
}
