package converter

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/bigkaa/transmute/internal/domain/model"
)

// datasetConvFormats — форматы табличных данных встроенного конвертера.
var datasetConvFormats = []string{"csv", "json", "yaml"}

// table — промежуточное представление набора данных:
// упорядоченные столбцы и строки-записи.
type table struct {
	Columns []string
	Rows    []map[string]any
}

// DatasetConverter — встроенный конвертер табличных данных.
// CSV трактуется как таблица с заголовком, JSON и YAML —
// как массив однородных объектов.
type DatasetConverter struct{}

// NewDatasetConverter создаёт конвертер наборов данных.
func NewDatasetConverter() *DatasetConverter {
	return &DatasetConverter{}
}

func (c *DatasetConverter) ID() string {
	return "dataset"
}

func (c *DatasetConverter) Pairs() []FormatPair {
	var pairs []FormatPair
	for _, in := range datasetConvFormats {
		for _, out := range datasetConvFormats {
			if in != out {
				pairs = append(pairs, FormatPair{In: in, Out: out})
			}
		}
	}
	return pairs
}

func (c *DatasetConverter) Convert(ctx context.Context, req *Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, WrapError(model.ErrCodeTimeout, "конвертация прервана", err)
	}

	src, err := os.Open(req.InputPath)
	if err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "не удалось открыть исходный файл", err)
	}
	defer src.Close()

	tbl, err := decodeTable(req.InputFormat, src)
	if err != nil {
		return nil, WrapError(model.ErrCodeCorruptInput,
			fmt.Sprintf("не удалось разобрать %s", req.InputFormat), err)
	}

	dst, err := os.Create(req.OutputPath)
	if err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "не удалось создать выходной файл", err)
	}
	defer dst.Close()

	if err := encodeTable(req.OutputFormat, dst, tbl); err != nil {
		return nil, WrapError(model.ErrCodeConverterCrashed,
			fmt.Sprintf("не удалось записать %s", req.OutputFormat), err)
	}

	if err := dst.Sync(); err != nil {
		return nil, WrapError(model.ErrCodeStorageFailure, "ошибка fsync выходного файла", err)
	}
	return &Result{}, nil
}

func decodeTable(format string, src *os.File) (*table, error) {
	switch format {
	case "csv":
		return decodeCSV(src)
	case "json":
		var rows []map[string]any
		dec := json.NewDecoder(src)
		dec.UseNumber()
		if err := dec.Decode(&rows); err != nil {
			return nil, fmt.Errorf("ожидался JSON-массив объектов: %w", err)
		}
		return tableFromRows(rows), nil
	case "yaml":
		var rows []map[string]any
		if err := yaml.NewDecoder(src).Decode(&rows); err != nil {
			return nil, fmt.Errorf("ожидался YAML-список записей: %w", err)
		}
		return tableFromRows(rows), nil
	default:
		return nil, fmt.Errorf("неизвестный формат данных: %s", format)
	}
}

func decodeCSV(src *os.File) (*table, error) {
	r := csv.NewReader(src)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("ошибка разбора CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("CSV не содержит строки заголовка")
	}

	columns := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(rec) {
				row[col] = rec[i]
			} else {
				row[col] = ""
			}
		}
		rows = append(rows, row)
	}
	return &table{Columns: columns, Rows: rows}, nil
}

// tableFromRows собирает столбцы в порядке первого появления ключей.
func tableFromRows(rows []map[string]any) *table {
	var columns []string
	seen := map[string]bool{}
	for _, row := range rows {
		// map не сохраняет порядок; добираем новые ключи детерминированно
		for _, col := range sortedKeys(row, seen) {
			seen[col] = true
			columns = append(columns, col)
		}
	}
	return &table{Columns: columns, Rows: rows}
}

// sortedKeys возвращает ещё не виденные ключи row в лексикографическом порядке.
func sortedKeys(row map[string]any, seen map[string]bool) []string {
	var fresh []string
	for k := range row {
		if !seen[k] {
			fresh = append(fresh, k)
		}
	}
	for i := 1; i < len(fresh); i++ {
		for j := i; j > 0 && fresh[j] < fresh[j-1]; j-- {
			fresh[j], fresh[j-1] = fresh[j-1], fresh[j]
		}
	}
	return fresh
}

func encodeTable(format string, dst *os.File, tbl *table) error {
	switch format {
	case "csv":
		return encodeCSV(dst, tbl)
	case "json":
		enc := json.NewEncoder(dst)
		enc.SetIndent("", "  ")
		return enc.Encode(tbl.Rows)
	case "yaml":
		enc := yaml.NewEncoder(dst)
		defer enc.Close()
		return enc.Encode(tbl.Rows)
	default:
		return fmt.Errorf("неизвестный формат данных: %s", format)
	}
}

func encodeCSV(dst *os.File, tbl *table) error {
	w := csv.NewWriter(dst)
	if err := w.Write(tbl.Columns); err != nil {
		return err
	}
	record := make([]string, len(tbl.Columns))
	for _, row := range tbl.Rows {
		for i, col := range tbl.Columns {
			record[i] = csvValue(row[col])
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

// csvValue приводит значение ячейки к строке.
func csvValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}
