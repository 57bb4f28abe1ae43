// Package importer reads past papers from JSON files and Excel workbooks.
package importer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/pastpaper/internal/model"
)

// Sheet names and question columns of a paper workbook.
const (
	PaperSheet     = "Paper"
	QuestionsSheet = "Questions"
)

var questionColumns = []string{"id", "prompt", "A", "B", "C", "D", "E", "answer", "marks", "topic", "explanation"}

// ErrUnsupportedFormat is returned for files that are neither JSON nor XLSX.
var ErrUnsupportedFormat = errors.New("unsupported paper format")

// RowErrors collects per-row problems found in a workbook.
type RowErrors []string

func (e RowErrors) Error() string {
	return fmt.Sprintf("%d invalid rows: %s", len(e), strings.Join(e, "; "))
}

// Decode parses a paper file, choosing the format by extension.
func Decode(name string, data []byte) (model.PaperImport, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return DecodeJSON(data)
	case ".xlsx":
		return DecodeXLSX(data)
	default:
		return model.PaperImport{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
}

// DecodeJSON parses a paper in its JSON form. Unknown fields are rejected.
func DecodeJSON(data []byte) (model.PaperImport, error) {
	var pi model.PaperImport
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pi); err != nil {
		return pi, fmt.Errorf("parse paper JSON: %w", err)
	}
	return pi, nil
}

// DecodeXLSX parses a paper workbook. The Paper sheet holds key/value rows
// (id, title, subject, year, duration_sec); the Questions sheet has a header
// row followed by one question per row. Total marks are the sum of the
// question marks.
func DecodeXLSX(data []byte) (model.PaperImport, error) {
	var pi model.PaperImport
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return pi, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	meta, err := f.GetRows(PaperSheet)
	if err != nil {
		return pi, fmt.Errorf("read %s sheet: %w", PaperSheet, err)
	}
	for i, row := range meta {
		if len(row) < 2 {
			continue
		}
		key, val := strings.ToLower(strings.TrimSpace(row[0])), strings.TrimSpace(row[1])
		switch key {
		case "id":
			pi.ID = val
		case "title":
			pi.Title = val
		case "subject":
			pi.Subject = val
		case "year":
			if pi.Year, err = strconv.Atoi(val); err != nil {
				return pi, fmt.Errorf("%s row %d: year %q is not a number", PaperSheet, i+1, val)
			}
		case "duration_sec":
			if pi.DurationSec, err = strconv.Atoi(val); err != nil {
				return pi, fmt.Errorf("%s row %d: duration_sec %q is not a number", PaperSheet, i+1, val)
			}
		}
	}

	rows, err := f.GetRows(QuestionsSheet)
	if err != nil {
		return pi, fmt.Errorf("read %s sheet: %w", QuestionsSheet, err)
	}
	if len(rows) == 0 {
		return pi, fmt.Errorf("%s sheet is empty", QuestionsSheet)
	}
	col, err := headerIndex(rows[0])
	if err != nil {
		return pi, err
	}

	var rowErrs RowErrors
	for i, row := range rows[1:] {
		rowNum := i + 2
		cell := func(name string) string {
			idx, ok := col[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}
		if cell("id") == "" && cell("prompt") == "" {
			continue
		}

		q := model.QuestionImport{
			ID:          cell("id"),
			Prompt:      cell("prompt"),
			Answer:      cell("answer"),
			Topic:       cell("topic"),
			Explanation: cell("explanation"),
		}
		for _, label := range []string{"A", "B", "C", "D", "E"} {
			if text := cell(label); text != "" {
				q.Options = append(q.Options, model.OptionImport{Label: label, Text: text})
			}
		}
		marks := cell("marks")
		if marks == "" {
			q.Marks = 1
		} else if q.Marks, err = strconv.Atoi(marks); err != nil {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: marks %q is not a number", rowNum, marks))
			continue
		}
		if q.ID == "" {
			rowErrs = append(rowErrs, fmt.Sprintf("row %d: missing id", rowNum))
			continue
		}
		pi.Questions = append(pi.Questions, q)
		pi.TotalMarks += q.Marks
	}
	if len(rowErrs) > 0 {
		return pi, rowErrs
	}
	return pi, nil
}

func headerIndex(header []string) (map[string]int, error) {
	col := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if len(h) == 1 {
			h = strings.ToUpper(h)
		} else {
			h = strings.ToLower(h)
		}
		col[h] = i
	}
	for _, required := range []string{"id", "prompt", "answer"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("%s sheet: missing column %q", QuestionsSheet, required)
		}
	}
	return col, nil
}

// EncodeXLSX writes a paper as a workbook that DecodeXLSX reads back.
func EncodeXLSX(pi model.PaperImport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if _, err := f.NewSheet(PaperSheet); err != nil {
		return nil, err
	}
	meta := [][]any{
		{"id", pi.ID},
		{"title", pi.Title},
		{"subject", pi.Subject},
		{"year", pi.Year},
		{"duration_sec", pi.DurationSec},
	}
	for i, row := range meta {
		if err := f.SetSheetRow(PaperSheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(QuestionsSheet); err != nil {
		return nil, err
	}
	header := make([]any, len(questionColumns))
	for i, c := range questionColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(QuestionsSheet, "A1", &header); err != nil {
		return nil, err
	}
	for i, q := range pi.Questions {
		opts := map[string]string{}
		for _, o := range q.Options {
			opts[o.Label] = o.Text
		}
		row := []any{q.ID, q.Prompt, opts["A"], opts["B"], opts["C"], opts["D"], opts["E"], q.Answer, q.Marks, q.Topic, q.Explanation}
		if err := f.SetSheetRow(QuestionsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
