package csv

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsinha/packflow/pkg/domain/entities"
	"github.com/vsinha/packflow/pkg/infrastructure/erp"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoader_LoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ItemsFile, "item_code,description,units_per_dozen,dozens_per_pack\nX,Widget,12,10\n")
	writeFile(t, dir, SourceDocumentsFile, "doc_type,entry,line_num,item_code,warehouse,available,doc_date\n"+
		"PO,2,0,X,WH1,25,2026-02-01\n"+
		"PO,1,0,X,WH1,10,2026-01-01\n")
	writeFile(t, dir, WaitingTargetsFile, "doc_type,entry,line_num,item_code,warehouse,priority,required,doc_date\n"+
		"SO,7,1,X,WH1,1,10,2026-01-05\n")
	writeFile(t, dir, OnHandFile, "item_code,warehouse,bin,quantity\nX,WH1,A-01,42\n")

	gateway := erp.NewMemoryERP(nil)
	require.NoError(t, NewLoader().LoadDirectory(dir, gateway))

	ctx := context.Background()
	candidates, err := gateway.SourceCandidates(ctx, entities.SourceDemand{ItemCode: "X", Warehouse: "WH1"})
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, int64(1), candidates[0].Document.Entry, "candidates are returned oldest first")

	targets, _ := gateway.WaitingTargets(ctx, "X", "WH1")
	require.Len(t, targets, 1)
	assert.Equal(t, 1, targets[0].Priority)

	onHand, _ := gateway.OnHand(ctx, "X", "WH1", "A-01")
	assert.True(t, onHand.Equal(decimal.NewFromInt(42)))

	factors, err := gateway.UnitFactors(ctx, "X")
	require.NoError(t, err)
	assert.True(t, factors.UnitsPerPack().Equal(decimal.NewFromInt(120)))
}

func TestLoader_RejectsBadInput(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader()

	path := writeFile(t, dir, "bad_header.csv", "code,description\nX,Widget\n")
	_, err := loader.LoadItems(path)
	assert.ErrorContains(t, err, "header mismatch")

	path = writeFile(t, dir, "bad_qty.csv", "item_code,warehouse,bin,quantity\nX,WH1,A-01,-1\n")
	_, err = loader.LoadOnHand(path)
	assert.ErrorContains(t, err, "negative")

	path = writeFile(t, dir, "bad_date.csv", "doc_type,entry,line_num,item_code,warehouse,available,doc_date\nPO,1,0,X,WH1,5,01/02/2026\n")
	_, err = loader.LoadSourceDocuments(path)
	assert.ErrorContains(t, err, "doc_date")

	path = writeFile(t, dir, "empty.csv", "item_code,warehouse,bin,quantity\n")
	_, err = loader.LoadOnHand(path)
	assert.Error(t, err)
}
