package processor

import (
	"context"
	_ "embed"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"github.com/tealeg/xlsx/v2"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pricedesk/internal/model"
)

//go:embed headers.yaml
var headersYAML []byte

const (
	headerMatchThreshold = 2
	headerScanRows       = 15
)

type headerSynonyms struct {
	Description []string `yaml:"description"`
	Price       []string `yaml:"price"`
	Quantity    []string `yaml:"quantity"`
	SKU         []string `yaml:"sku"`
	UPC         []string `yaml:"upc"`
	Condition   []string `yaml:"condition"`
	Location    []string `yaml:"location"`
}

type headerTable struct {
	description map[string]bool
	price       map[string]bool
	quantity    map[string]bool
	sku         map[string]bool
	upc         map[string]bool
	condition   map[string]bool
	location    map[string]bool
	all         map[string]bool
}

var headers = loadHeaderTable()

func loadHeaderTable() *headerTable {
	var syn headerSynonyms
	if err := yaml.Unmarshal(headersYAML, &syn); err != nil {
		panic(eris.Wrap(err, "processor: parse embedded header synonyms"))
	}

	t := &headerTable{all: make(map[string]bool)}
	t.description = t.toSet(syn.Description)
	t.price = t.toSet(syn.Price)
	t.quantity = t.toSet(syn.Quantity)
	t.sku = t.toSet(syn.SKU)
	t.upc = t.toSet(syn.UPC)
	t.condition = t.toSet(syn.Condition)
	t.location = t.toSet(syn.Location)
	return t
}

func (t *headerTable) toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		normalized := normalizeKey(k)
		set[normalized] = true
		t.all[normalized] = true
	}
	return set
}

// SpreadsheetProcessor parses vendor price lists from XLSX and CSV files.
type SpreadsheetProcessor struct{}

func NewSpreadsheetProcessor() *SpreadsheetProcessor { return &SpreadsheetProcessor{} }

func (p *SpreadsheetProcessor) Name() string { return "spreadsheet" }

func (p *SpreadsheetProcessor) Suffixes() []string { return []string{".xlsx", ".csv"} }

func (p *SpreadsheetProcessor) Process(ctx context.Context, path string, pctx Context) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "spreadsheet: context cancelled")
	}

	vendorName := pctx.VendorName
	if vendorName == "" {
		vendorName = vendorFromPath(path)
	}
	currency := pctx.Currency
	if currency == "" {
		currency = "USD"
	}

	table, err := loadRows(path)
	if err != nil {
		return &Result{Errors: []string{fmt.Sprintf("failed to load spreadsheet: %v", err)}}, nil
	}
	columns, rows := resolveHeader(table)

	result := &Result{}
	for rowIdx, row := range rows {
		normalized := normalizeRow(columns, row)

		price, priceOK := extractPrice(normalized, columns)
		description := extractDescription(normalized, columns)

		if !priceOK || description == "" {
			if looksLikeHeaderRow(row) {
				continue
			}
			result.Errors = append(result.Errors,
				fmt.Sprintf("row %d: missing critical fields (price or description)", rowIdx+1))
			continue
		}

		sku := extractStr(normalized, columns, headers.sku)
		result.Offers = append(result.Offers, model.RawOffer{
			VendorName:  vendorName,
			ProductName: description,
			Price:       price,
			Currency:    currency,
			Quantity:    extractInt(normalized, columns, headers.quantity),
			Condition:   extractStr(normalized, columns, headers.condition),
			SKU:         sku,
			ModelNumber: sku,
			UPC:         extractStr(normalized, columns, headers.upc),
			Warehouse:   extractStr(normalized, columns, headers.location),
			CapturedAt:  time.Now().UTC(),
			RawPayload:  rowPayload(normalized),
		})
	}

	if len(result.Offers) == 0 && len(result.Errors) == 0 {
		result.Errors = append(result.Errors, "no offers extracted from spreadsheet")
	}
	return result, nil
}

// loadRows reads the file into a rectangular cell grid with empty rows
// and columns dropped and string cells trimmed.
func loadRows(path string) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		rows, err = readCSV(path)
	default:
		rows, err = readXLSX(path)
	}
	if err != nil {
		return nil, err
	}
	return cleanupGrid(rows), nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "spreadsheet: open csv")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "spreadsheet: read csv")
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "spreadsheet: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("spreadsheet: workbook has no sheets")
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, len(row.Cells))
		for i, cell := range row.Cells {
			cells[i] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func cleanupGrid(rows [][]string) [][]string {
	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}

	// find columns with at least one value
	colUsed := make([]bool, width)
	var kept [][]string
	for _, row := range rows {
		empty := true
		for i, cell := range row {
			cell = strings.TrimSpace(cell)
			row[i] = cell
			if cell != "" {
				empty = false
				colUsed[i] = true
			}
		}
		if !empty {
			kept = append(kept, row)
		}
	}

	out := make([][]string, len(kept))
	for ri, row := range kept {
		for ci := 0; ci < width; ci++ {
			if !colUsed[ci] {
				continue
			}
			cell := ""
			if ci < len(row) {
				cell = row[ci]
			}
			out[ri] = append(out[ri], cell)
		}
	}
	return out
}

// resolveHeader finds the header row and returns normalized column names
// plus the data rows beneath it. Falls back to generic column names when
// no row scores enough header-synonym hits.
func resolveHeader(rows [][]string) ([]string, [][]string) {
	if len(rows) == 0 {
		return nil, nil
	}

	bestIdx := -1
	bestScore := 0
	scan := len(rows)
	if scan > headerScanRows {
		scan = headerScanRows
	}
	for idx := 0; idx < scan; idx++ {
		score := headerScore(rows[idx])
		if score > bestScore && score >= headerMatchThreshold {
			bestScore = score
			bestIdx = idx
		}
	}

	if bestIdx >= 0 && bestIdx+1 < len(rows) {
		columns := make([]string, len(rows[bestIdx]))
		for i, cell := range rows[bestIdx] {
			columns[i] = normalizeKey(cell)
		}
		return columns, rows[bestIdx+1:]
	}

	width := 0
	for _, row := range rows {
		if len(row) > width {
			width = len(row)
		}
	}
	columns := make([]string, width)
	for i := range columns {
		columns[i] = fmt.Sprintf("column_%d", i)
	}
	return columns, rows
}

func headerScore(row []string) int {
	score := 0
	for _, cell := range row {
		if cell == "" {
			continue
		}
		if headers.all[normalizeKey(cell)] {
			score++
		}
	}
	return score
}

func looksLikeHeaderRow(row []string) bool {
	return headerScore(row) >= headerMatchThreshold
}

func normalizeRow(columns []string, row []string) map[string]string {
	out := make(map[string]string, len(columns))
	for i, col := range columns {
		if i < len(row) {
			out[col] = row[i]
		} else {
			out[col] = ""
		}
	}
	return out
}

var keyPunctuation = strings.NewReplacer(
	"\n", " ", "/", " ", "-", " ", "#", " ", ".", " ",
	"(", " ", ")", " ", ":", " ", "&", " ", "@", " ", ",", " ",
)

func normalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	key = keyPunctuation.Replace(key)
	return strings.Join(strings.Fields(key), " ")
}

func keyMatches(key string, keys map[string]bool) bool {
	if keys[key] {
		return true
	}
	for synonym := range keys {
		if strings.Contains(key, synonym) {
			return true
		}
	}
	return false
}

// extractPrice prefers price-labelled columns, then falls back to the
// first numeric cell in column order.
func extractPrice(row map[string]string, columns []string) (decimal.Decimal, bool) {
	for _, col := range columns {
		if keyMatches(col, headers.price) {
			if price, ok := parsePrice(row[col]); ok {
				return price, true
			}
		}
	}
	for _, col := range columns {
		if price, ok := parsePrice(row[col]); ok {
			return price, true
		}
	}
	return decimal.Decimal{}, false
}

// extractDescription prefers description-labelled columns, then the first
// non-empty cell.
func extractDescription(row map[string]string, columns []string) string {
	for _, col := range columns {
		if keyMatches(col, headers.description) && row[col] != "" {
			return row[col]
		}
	}
	for _, col := range columns {
		if row[col] != "" {
			return row[col]
		}
	}
	return ""
}

func extractInt(row map[string]string, columns []string, keys map[string]bool) *int64 {
	for _, col := range columns {
		if !keyMatches(col, keys) {
			continue
		}
		if price, ok := parsePrice(row[col]); ok {
			n := price.IntPart()
			return &n
		}
	}
	return nil
}

func extractStr(row map[string]string, columns []string, keys map[string]bool) string {
	for _, col := range columns {
		if keyMatches(col, keys) && row[col] != "" {
			return strings.TrimSpace(row[col])
		}
	}
	return ""
}

func parsePrice(value string) (decimal.Decimal, bool) {
	cleaned := strings.TrimSpace(strings.NewReplacer(",", "", "$", "").Replace(value))
	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func rowPayload(row map[string]string) map[string]any {
	payload := make(map[string]any, len(row))
	for k, v := range row {
		if v != "" {
			payload[k] = v
		}
	}
	return payload
}

func vendorFromPath(path string) string {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return strings.ReplaceAll(stem, "_", " ")
}
