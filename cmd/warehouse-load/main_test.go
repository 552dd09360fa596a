package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andesdata/warehouse/pkg/warehouse"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candidates.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCandidates(t *testing.T) {
	path := writeCSV(t, "product_code,product_name\nP1,Widget\nP2,Gadget\n")

	rs, err := readCandidates(path)
	require.NoError(t, err)
	require.Equal(t, []string{"product_code", "product_name"}, rs.Columns)
	require.Len(t, rs.Rows, 2)
	require.Equal(t, warehouse.Row{"P1", "Widget"}, rs.Rows[0])
}

func TestReadCandidates_HeaderOnly(t *testing.T) {
	path := writeCSV(t, "product_code,product_name\n")

	_, err := readCandidates(path)
	require.ErrorContains(t, err, "no candidate rows")
}

func TestAttachHashes_AppendsMissingColumns(t *testing.T) {
	rs := &warehouse.RecordSet{
		Columns: []string{"product_code", "product_name"},
		Rows:    []warehouse.Row{{"P1", "Widget"}},
	}

	err := attachHashes(rs, []string{"product_code", "product_name"}, "surrogate_hash", "movement_date", true)
	require.NoError(t, err)
	require.Equal(t, []string{"product_code", "product_name", "surrogate_hash", "movement_date"}, rs.Columns)
	require.Len(t, rs.Rows[0], 4)
	require.Len(t, rs.Rows[0][2], 96, "SHA-384 hex digest")
	require.Equal(t, time.Now().UTC().Format("2006-01-02"), rs.Rows[0][3])
}

func TestAttachHashes_KeepsExistingColumns(t *testing.T) {
	rs := &warehouse.RecordSet{
		Columns: []string{"product_code", "surrogate_hash", "movement_date"},
		Rows:    []warehouse.Row{{"P1", "precomputed", "2026-01-15"}},
	}

	err := attachHashes(rs, []string{"product_code"}, "surrogate_hash", "movement_date", true)
	require.NoError(t, err)
	require.Equal(t, []string{"product_code", "surrogate_hash", "movement_date"}, rs.Columns)
	require.Equal(t, "precomputed", rs.Rows[0][1])
}

func TestAttachHashes_FactSkipsMovementDate(t *testing.T) {
	rs := &warehouse.RecordSet{
		Columns: []string{"product_code", "price"},
		Rows:    []warehouse.Row{{"P1", "100"}},
	}

	err := attachHashes(rs, []string{"product_code", "price"}, "surrogate_hash", "movement_date", false)
	require.NoError(t, err)
	require.Equal(t, []string{"product_code", "price", "surrogate_hash"}, rs.Columns)
}
