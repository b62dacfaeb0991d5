package render

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/oprreport/internal/model"
	"github.com/oprreport/internal/states"
)

const (
	titleLayout    = "Jan 2, 2006"
	filenameLayout = "OPR Sales 2006-01-02.xlsx"
	cellDateFormat = "yyyy-mm-dd"

	// firstDataRow leaves row 1 to the template's headers.
	firstDataRow = 2
)

// Spreadsheet fills a copy of an xlsx template. The template itself is only
// ever read.
type Spreadsheet struct {
	TemplatePath string
	OutputDir    string
	AsOf         time.Time
	States       *states.Table
	Logger       *slog.Logger
}

// Title is the sheet name for asOf, e.g. "Mar 7, 2024".
func Title(asOf time.Time) string {
	return asOf.Format(titleLayout)
}

// Filename is the saved workbook's name for asOf, e.g.
// "OPR Sales 2024-03-07.xlsx".
func Filename(asOf time.Time) string {
	return asOf.Format(filenameLayout)
}

func (s *Spreadsheet) Render(ctx context.Context, records []model.Record) (Artifact, error) {
	title, filename := Title(s.AsOf), Filename(s.AsOf)
	path := filepath.Join(s.OutputDir, filename)
	if same, _ := samePath(path, s.TemplatePath); same {
		return Artifact{}, &Error{Op: "save", Err: fmt.Errorf("output %s would overwrite the template", path)}
	}

	f, err := excelize.OpenFile(s.TemplatePath)
	if err != nil {
		return Artifact{}, &Error{Op: "open template", Err: err}
	}
	defer f.Close()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	for i, rec := range records {
		row := firstDataRow + i
		for col, value := range prepare(rec, s.States).Values() {
			cell, err := excelize.CoordinatesToCellName(col+1, row)
			if err != nil {
				return Artifact{}, &Error{Op: "write", Err: err}
			}
			if t, ok := value.(time.Time); ok {
				value = wallClockUTC(t)
			}
			if err := f.SetCellValue(sheet, cell, value); err != nil {
				return Artifact{}, &Error{Op: "write", Err: fmt.Errorf("cell %s: %w", cell, err)}
			}
		}
	}
	if err := styleDateColumns(f, sheet, len(records)); err != nil {
		return Artifact{}, &Error{Op: "write", Err: err}
	}

	if err := f.SetSheetName(sheet, title); err != nil {
		return Artifact{}, &Error{Op: "set title", Err: err}
	}
	if err := ctx.Err(); err != nil {
		return Artifact{}, &Error{Op: "save", Err: err}
	}
	_, statErr := os.Lstat(path)
	existed := statErr == nil
	if err := f.SaveAs(path); err != nil {
		// A failed write can leave a truncated workbook behind.
		if !existed {
			os.Remove(path)
		}
		return Artifact{}, &Error{Op: "save", Err: err}
	}

	if s.Logger != nil {
		s.Logger.Info("render: spreadsheet saved", "path", path, "rows", len(records))
	}
	return Artifact{Kind: KindFile, Title: title, Filename: filename, Path: path}, nil
}

// styleDateColumns gives the submitted and delivered columns a plain date
// format instead of excelize's default date-time one.
func styleDateColumns(f *excelize.File, sheet string, rows int) error {
	if rows == 0 {
		return nil
	}
	format := cellDateFormat
	style, err := f.NewStyle(&excelize.Style{CustomNumFmt: &format})
	if err != nil {
		return err
	}
	last := firstDataRow + rows - 1
	for i, field := range model.Fields {
		if field != "submitted" && field != "date_delivered" {
			continue
		}
		top, _ := excelize.CoordinatesToCellName(i+1, firstDataRow)
		bottom, _ := excelize.CoordinatesToCellName(i+1, last)
		if err := f.SetCellStyle(sheet, top, bottom, style); err != nil {
			return err
		}
	}
	return nil
}

// wallClockUTC keeps the displayed date and time while dropping the zone;
// spreadsheet cells have no notion of one.
func wallClockUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func samePath(a, b string) (bool, error) {
	absA, err := filepath.Abs(a)
	if err != nil {
		return false, err
	}
	absB, err := filepath.Abs(b)
	if err != nil {
		return false, err
	}
	return absA == absB, nil
}
