package entryservice

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/starford/folio/internal/diag"
)

// EntryReport holds the diagnostics of one entry.
type EntryReport struct {
	Path        string    `json:"path"`
	Collection  string    `json:"collection,omitempty"`
	Diagnostics diag.List `json:"diagnostics"`
}

// Report is the result of checking the whole project.
type Report struct {
	Schema   diag.List     `json:"schema"`
	Entries  []EntryReport `json:"entries"`
	Checked  int           `json:"checked"`
	Errors   int           `json:"errors"`
	Warnings int           `json:"warnings"`
}

// OK reports whether neither the schema nor any entry has an error.
func (r *Report) OK() bool { return r.Errors == 0 }

// Check validates every content file against the current schema. Only
// entries with diagnostics are listed in the report.
func (s *Service) Check(ctx context.Context) (*Report, error) {
	files, err := s.store.List(s.opts.ContentDir)
	if err != nil {
		return nil, fmt.Errorf("entryservice: check: %w", err)
	}

	reports := make([]EntryReport, len(files))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, f := range files {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := s.store.Read(f.Path)
			if err != nil {
				return fmt.Errorf("entryservice: check %s: %w", f.Path, err)
			}
			e, err := s.readEntry(f.Path, data)
			if err != nil {
				var d diag.List
				d.Errorf(err, nil, "%v", err)
				reports[i] = EntryReport{Path: f.Path, Diagnostics: d}
				return nil
			}
			reports[i] = EntryReport{Path: f.Path, Collection: e.Collection, Diagnostics: e.Diagnostics}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Report{Schema: nonNilSlice(s.Diagnostics()), Entries: []EntryReport{}, Checked: len(files)}
	r.Errors = r.Schema.Count(diag.SeverityError)
	r.Warnings = r.Schema.Count(diag.SeverityWarning)
	for _, er := range reports {
		if len(er.Diagnostics) == 0 {
			continue
		}
		r.Errors += er.Diagnostics.Count(diag.SeverityError)
		r.Warnings += er.Diagnostics.Count(diag.SeverityWarning)
		r.Entries = append(r.Entries, er)
	}
	return r, nil
}
