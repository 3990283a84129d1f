// Package export renders a merged answer as an XLSX workbook for handoff
// to analysts.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/enviroquery/aqroute/internal/model"
)

// tagColumns lead the sheet so per-location provenance reads first.
var tagColumns = []string{model.TagLocation, model.TagLevel, model.TagAreaType}

// WriteAnswer writes the answer's merged records to one sheet and the
// per-call outcomes to a second one.
func WriteAnswer(path string, ans *model.Answer) error {
	if ans == nil {
		return eris.New("export: nil answer")
	}

	f := xlsx.NewFile()

	if err := writeRecords(f, ans.Records); err != nil {
		return err
	}
	if err := writeCalls(f, ans.Calls); err != nil {
		return err
	}

	return eris.Wrapf(f.Save(path), "export: save %s", path)
}

func writeRecords(f *xlsx.File, records []model.Record) error {
	sheet, err := f.AddSheet("records")
	if err != nil {
		return eris.Wrap(err, "export: add records sheet")
	}

	columns := recordColumns(records)
	header := sheet.AddRow()
	for _, col := range columns {
		header.AddCell().SetString(col)
	}

	for _, rec := range records {
		row := sheet.AddRow()
		for _, col := range columns {
			row.AddCell().SetString(cellString(rec[col]))
		}
	}
	return nil
}

func writeCalls(f *xlsx.File, calls []model.CallResult) error {
	sheet, err := f.AddSheet("calls")
	if err != nil {
		return eris.Wrap(err, "export: add calls sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"location", "level", "code", "success", "records", "error"} {
		header.AddCell().SetString(col)
	}

	for _, call := range calls {
		row := sheet.AddRow()
		row.AddCell().SetString(call.LocationName)
		row.AddCell().SetString(call.Level.String())
		row.AddCell().SetString(call.Code)
		row.AddCell().SetString(fmt.Sprintf("%t", call.Success))
		row.AddCell().SetString(fmt.Sprintf("%d", len(call.Records)))
		row.AddCell().SetString(call.Error)
	}
	return nil
}

// recordColumns returns the provenance tags first, then the data keys in
// sorted order for a stable layout across exports.
func recordColumns(records []model.Record) []string {
	seen := make(map[string]bool)
	var dataCols []string
	for _, rec := range records {
		for key := range rec {
			if seen[key] || strings.HasPrefix(key, "_") {
				seen[key] = true
				continue
			}
			seen[key] = true
			dataCols = append(dataCols, key)
		}
	}
	sort.Strings(dataCols)

	columns := make([]string, 0, len(tagColumns)+len(dataCols))
	columns = append(columns, tagColumns...)
	return append(columns, dataCols...)
}

func cellString(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
