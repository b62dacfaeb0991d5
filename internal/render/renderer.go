// Package render turns fetched OPR records into a deliverable report: a
// spreadsheet file to attach to an email, or a table printed to a terminal.
package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/oprreport/internal/config"
	"github.com/oprreport/internal/model"
	"github.com/oprreport/internal/states"
)

type Kind int

const (
	// KindText output has already been delivered by being printed.
	KindText Kind = iota
	// KindFile output is a temporary file owned by the caller.
	KindFile
)

func (k Kind) String() string {
	if k == KindFile {
		return "file"
	}
	return "text"
}

type Artifact struct {
	Kind     Kind
	Title    string
	Filename string
	Path     string
}

// Renderer is implemented by Spreadsheet and Console.
type Renderer interface {
	Render(ctx context.Context, records []model.Record) (Artifact, error)
}

// Error reports a template, write or save failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("render: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New picks the renderer for cfg: the console table when dumping, the
// spreadsheet otherwise.
func New(cfg *config.RunConfig, out io.Writer, logger *slog.Logger) (Renderer, error) {
	var table *states.Table
	if cfg.AbbreviateStates {
		var err error
		if table, err = states.Load(); err != nil {
			return nil, &Error{Op: "load state table", Err: err}
		}
	}

	if cfg.DumpToConsole {
		return NewConsole(out, table), nil
	}
	return &Spreadsheet{
		TemplatePath: cfg.TemplatePath,
		OutputDir:    cfg.OutputDir,
		AsOf:         cfg.AsOf,
		States:       table,
		Logger:       logger,
	}, nil
}

// prepare applies the normalisation every renderer shares.
func prepare(r model.Record, table *states.Table) model.Record {
	r = r.WithSubmittedDate()
	if table != nil {
		r.MailingState = table.Abbreviate(r.MailingState)
	}
	return r
}
