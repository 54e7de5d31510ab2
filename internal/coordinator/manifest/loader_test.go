package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

func int64Ptr(v int64) *int64 {
	return &v
}

var wantEntries = []Entry{
	{FileName: "raw/a.h5ad", CellIndexStart: int64Ptr(0), FeatureIndexStart: int64Ptr(0), NumCells: 1000},
	{FileName: "raw/b.h5ad", CellIndexStart: int64Ptr(1000), FeatureIndexStart: int64Ptr(0), StageDir: "gs://stage/other"},
}

func TestParseFile_Formats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{
			name: "json array",
			file: "m.json",
			content: `[
				{"df_filename": "raw/a.h5ad", "cas_cell_index": 0, "cas_feature_index": 0, "num_cells": 1000},
				{"df_filename": "raw/b.h5ad", "cas_cell_index": 1000, "cas_feature_index": 0, "gcs_stage_dir": "gs://stage/other"}
			]`,
		},
		{
			name: "json document",
			file: "m.json",
			content: `{"name": "ingest", "requests": [
				{"df_filename": "raw/a.h5ad", "cas_cell_index": 0, "cas_feature_index": 0, "num_cells": 1000},
				{"df_filename": "raw/b.h5ad", "cas_cell_index": 1000, "cas_feature_index": 0, "gcs_stage_dir": "gs://stage/other"}
			]}`,
		},
		{
			name: "yaml list",
			file: "m.yml",
			content: `
- df_filename: raw/a.h5ad
  cas_cell_index: 0
  cas_feature_index: 0
  num_cells: 1000
- df_filename: raw/b.h5ad
  cas_cell_index: 1000
  cas_feature_index: 0
  gcs_stage_dir: gs://stage/other
`,
		},
		{
			name: "yaml document",
			file: "m.yaml",
			content: `
name: ingest
requests:
  - {df_filename: raw/a.h5ad, cas_cell_index: 0, cas_feature_index: 0, num_cells: 1000}
  - {df_filename: raw/b.h5ad, cas_cell_index: 1000, cas_feature_index: 0, gcs_stage_dir: "gs://stage/other"}
`,
		},
		{
			name: "csv",
			file: "m.csv",
			content: "DF Filename, CAS cell index, cas_feature_index, gcs_stage_dir, num_cells\n" +
				"raw/a.h5ad, 0, 0, , 1000\n" +
				",,,,\n" +
				"raw/b.h5ad, 1000, 0, gs://stage/other\n",
		},
		{
			name: "tsv",
			file: "m.tsv",
			content: "df_filename\tcas_cell_index\tcas_feature_index\tgcs_stage_dir\tnum_cells\n" +
				"raw/a.h5ad\t0\t0\t\t1000\n" +
				"raw/b.h5ad\t1000\t0\tgs://stage/other\t\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := ParseFile(tt.file, []byte(tt.content))
			require.NoError(t, err)
			require.Equal(t, wantEntries, entries)
		})
	}
}

func TestParseFile_Excel(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"df_filename", "cas_cell_index", "cas_feature_index", "gcs_stage_dir", "num_cells"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{"raw/a.h5ad", 0, 0, "", 1000}))
	require.NoError(t, f.SetSheetRow(sheet, "A3", &[]any{"raw/b.h5ad", 1000, 0, "gs://stage/other"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	entries, err := ParseFile("m.xlsx", buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, wantEntries, entries)
}

func TestParseFile_MissingIndexIsNil(t *testing.T) {
	entries, err := ParseFile("m.csv", []byte("df_filename,cas_cell_index\nraw/a.h5ad,\n"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Nil(t, entries[0].CellIndexStart)
	require.Nil(t, entries[0].FeatureIndexStart)
}

func TestParseFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"unsupported extension", "m.txt", "raw/a.h5ad"},
		{"malformed json", "m.json", `[{"df_filename": `},
		{"malformed yaml", "m.yaml", "- df_filename: [unterminated"},
		{"missing filename column", "m.csv", "path,cas_cell_index\nraw/a.h5ad,0\n"},
		{"non numeric index", "m.csv", "df_filename,cas_cell_index\nraw/a.h5ad,first\n"},
		{"not an excel file", "m.xlsx", "df_filename"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFile(tt.file, []byte(tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoad_GlobsInSortedOrder(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"),
		[]byte(`[{"df_filename": "raw/b.h5ad", "cas_cell_index": 10, "cas_feature_index": 0}]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "c.csv"),
		[]byte("df_filename,cas_cell_index,cas_feature_index\ngs://other-bucket/raw/c.h5ad,20,0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"),
		[]byte("- {df_filename: raw/a.h5ad, cas_cell_index: 0, cas_feature_index: 0}\n"), 0o644))

	defaults := Defaults{InputBucket: "raw-bucket", StageDir: "gs://stage/ingest"}
	requests, err := Load([]string{
		filepath.Join(dir, "*.{json,yaml}"),
		filepath.Join(dir, "**", "*.csv"),
	}, defaults)
	require.NoError(t, err)

	require.Equal(t, []core.ConversionRequest{
		{InputBucket: "raw-bucket", FilePath: "raw/a.h5ad", StageDir: "gs://stage/ingest", CellIndexStart: int64Ptr(0), FeatureIndexStart: int64Ptr(0)},
		{InputBucket: "raw-bucket", FilePath: "raw/b.h5ad", StageDir: "gs://stage/ingest", CellIndexStart: int64Ptr(10), FeatureIndexStart: int64Ptr(0)},
		{InputBucket: "other-bucket", FilePath: "raw/c.h5ad", StageDir: "gs://stage/ingest", CellIndexStart: int64Ptr(20), FeatureIndexStart: int64Ptr(0)},
	}, requests)
}

func TestLoad_NoMatches(t *testing.T) {
	_, err := Load([]string{filepath.Join(t.TempDir(), "*.json")}, Defaults{})
	require.ErrorIs(t, err, ErrNoManifests)
}

func TestEntry_ToRequest(t *testing.T) {
	defaults := Defaults{InputBucket: "raw-bucket", StageDir: "gs://stage/ingest"}

	tests := []struct {
		name  string
		entry Entry
		want  core.ConversionRequest
	}{
		{
			name:  "defaults applied",
			entry: Entry{FileName: " raw/a.h5ad "},
			want:  core.ConversionRequest{InputBucket: "raw-bucket", FilePath: "raw/a.h5ad", StageDir: "gs://stage/ingest"},
		},
		{
			name:  "explicit fields win",
			entry: Entry{FileName: "raw/a.h5ad", InputBucket: "mine", StageDir: "gs://mine/stage"},
			want:  core.ConversionRequest{InputBucket: "mine", FilePath: "raw/a.h5ad", StageDir: "gs://mine/stage"},
		},
		{
			name:  "bucket from gs url",
			entry: Entry{FileName: "gs://url-bucket/raw/a.h5ad"},
			want:  core.ConversionRequest{InputBucket: "url-bucket", FilePath: "raw/a.h5ad", StageDir: "gs://stage/ingest"},
		},
		{
			name:  "explicit bucket beats gs url",
			entry: Entry{FileName: "gs://url-bucket/raw/a.h5ad", InputBucket: "mine"},
			want:  core.ConversionRequest{InputBucket: "mine", FilePath: "raw/a.h5ad", StageDir: "gs://stage/ingest"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.entry.ToRequest(defaults))
		})
	}
}
