package manifest

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/nemanja-m/casbatch/internal/coordinator/core"
)

var ErrNoManifests = errors.New("no manifest files matched")

// Load reads every manifest file matched by the glob patterns, in sorted
// path order, and returns their requests concatenated.
func Load(patterns []string, defaults Defaults) ([]core.ConversionRequest, error) {
	files, err := core.FindLocalFiles(patterns)
	if err != nil {
		return nil, fmt.Errorf("expand manifest patterns: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoManifests, strings.Join(patterns, ", "))
	}

	var requests []core.ConversionRequest
	for _, name := range files {
		content, err := os.ReadFile(name)
		if err != nil {
			return nil, err
		}
		entries, err := ParseFile(name, content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		requests = append(requests, ToRequests(entries, defaults)...)
	}
	return requests, nil
}

// ParseFile decodes manifest content, picking the format from the file extension.
func ParseFile(name string, content []byte) ([]Entry, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return parseJSON(content)
	case ".yaml", ".yml":
		return parseYAML(content)
	case ".csv":
		return parseCSV(content, ',')
	case ".tsv":
		return parseCSV(content, '\t')
	case ".xlsx":
		return parseExcel(content)
	default:
		return nil, fmt.Errorf("unsupported manifest type: %s", name)
	}
}

func parseJSON(content []byte) ([]Entry, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var entries []Entry
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
		return entries, nil
	}

	var doc Document
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return doc.Requests, nil
}

func parseYAML(content []byte) ([]Entry, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(content, &node); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, nil
	}

	root := node.Content[0]
	if root.Kind == yaml.SequenceNode {
		var entries []Entry
		if err := root.Decode(&entries); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		return entries, nil
	}

	var doc Document
	if err := root.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return doc.Requests, nil
}

func parseCSV(content []byte, comma rune) ([]Entry, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = comma
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	return entriesFromRows(rows)
}

func parseExcel(content []byte) ([]Entry, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("no sheets in Excel file")
	}

	// first sheet holds the requests
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read Excel rows: %w", err)
	}
	return entriesFromRows(rows)
}

// entriesFromRows maps a header row plus data rows onto entries. Blank rows
// are skipped and short rows are padded.
func entriesFromRows(rows [][]string) ([]Entry, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	columns := make(map[string]int, len(rows[0]))
	for i, header := range rows[0] {
		columns[normalizeColumnName(header)] = i
	}
	if _, ok := columns[ColumnFileName]; !ok {
		return nil, fmt.Errorf("missing %q column", ColumnFileName)
	}

	var entries []Entry
	for n, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		line := n + 2
		cell := func(column string) string {
			i, ok := columns[column]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		entry := Entry{
			FileName:    cell(ColumnFileName),
			InputBucket: cell(ColumnInputBucket),
			StageDir:    cell(ColumnStageDir),
		}
		var err error
		if entry.CellIndexStart, err = optionalInt(cell(ColumnCellIndexStart)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColumnCellIndexStart, err)
		}
		if entry.FeatureIndexStart, err = optionalInt(cell(ColumnFeatureIndexStart)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColumnFeatureIndexStart, err)
		}
		if entry.NumCells, err = sizeValue(cell(ColumnNumCells)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColumnNumCells, err)
		}
		if entry.NumFeatures, err = sizeValue(cell(ColumnNumFeatures)); err != nil {
			return nil, fmt.Errorf("row %d: %s: %w", line, ColumnNumFeatures, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeColumnName lowercases a header and collapses separators to underscores.
func normalizeColumnName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	n = nonAlphanumeric.ReplaceAllString(n, "_")
	return strings.Trim(n, "_")
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func optionalInt(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func sizeValue(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
