package render

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/oprreport/internal/model"
	"github.com/oprreport/internal/states"
)

type column struct {
	header string
	width  int
	value  func(model.Record) string
}

var consoleColumns = []column{
	{"Submitted", 10, func(r model.Record) string { return formatDate(r.Submitted) }},
	{"Dealership", 24, func(r model.Record) string { return r.Dealership }},
	{"Model", 16, func(r model.Record) string { return r.Model }},
	{"Serial", 14, func(r model.Record) string { return r.HullSerialNumber }},
	{"Delivered", 10, func(r model.Record) string { return formatDate(r.DateDelivered) }},
	{"Customer", 30, func(r model.Record) string { return r.Customer() }},
	{"Phone", 14, func(r model.Record) string { return r.PhoneHome }},
	{"Email", 32, func(r model.Record) string { return r.Email }},
}

// Console prints records as a fixed-width table. Long values are cut, never
// wrapped.
type Console struct {
	out    io.Writer
	states *states.Table
}

func NewConsole(out io.Writer, table *states.Table) *Console {
	return &Console{out: out, states: table}
}

func (c *Console) Render(_ context.Context, records []model.Record) (Artifact, error) {
	var b strings.Builder

	cells := make([]string, len(consoleColumns))
	for i, col := range consoleColumns {
		cells[i] = padOrTrunc(col.header, col.width)
	}
	writeLine(&b, cells)
	b.WriteString(strings.Repeat("-", tableWidth()))
	b.WriteByte('\n')

	for _, rec := range records {
		rec = prepare(rec, c.states)
		for i, col := range consoleColumns {
			cells[i] = padOrTrunc(col.value(rec), col.width)
		}
		writeLine(&b, cells)
	}

	if _, err := io.WriteString(c.out, b.String()); err != nil {
		return Artifact{}, &Error{Op: "print", Err: err}
	}
	return Artifact{Kind: KindText}, nil
}

func writeLine(b *strings.Builder, cells []string) {
	b.WriteString(strings.TrimRight(strings.Join(cells, " "), " "))
	b.WriteByte('\n')
}

func tableWidth() int {
	w := len(consoleColumns) - 1
	for _, col := range consoleColumns {
		w += col.width
	}
	return w
}

// padOrTrunc pads s with spaces to width, or truncates if longer.
func padOrTrunc(s string, width int) string {
	r := []rune(s)
	if len(r) >= width {
		return string(r[:width])
	}
	return s + strings.Repeat(" ", width-len(r))
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
