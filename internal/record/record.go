// Package record holds the in-memory representation of the two record
// sources consumed by the sampler.
//
// A File is immutable after construction. PIV values are stored as coded
// categories with missingness carried as an explicit flag; the external
// 0-sentinel encoding is converted at ingest and never leaks into the hot
// loop. Overloading code 0 as "missing" internally would be a collision
// risk if 0 were ever a valid category.
package record

import (
	"fmt"

	"github.com/roach88/stemlink/internal/schema"
)

// Source identifies which of the two files a record belongs to.
type Source int

const (
	// SourceA is the first record source.
	SourceA Source = iota
	// SourceB is the second record source.
	SourceB
)

// String returns "A" or "B".
func (s Source) String() string {
	if s == SourceA {
		return "A"
	}
	return "B"
}

// File is one source's records: coded PIV values, missingness flags,
// per-record observation times, and hazard covariates.
//
// File is read-only after construction; the sampler never mutates it.
type File struct {
	source  Source
	numPIVs int

	// codes[i][j] is record i's coded value for PIV j, valid only when
	// !missing[i][j]. Codes are 1..cardinality.
	codes   [][]int
	missing [][]bool

	// times[i] is record i's observation time, used to compute the
	// elapsed exposure between a candidate pair's two observations.
	// Nil means no time information (unit gap assumed).
	times []float64

	// covariates[i] holds record i's hazard covariate vector. Nil when
	// the model declares no hazard covariates.
	covariates [][]float64
}

// Option configures optional File fields.
type Option func(*File)

// WithTimes attaches per-record observation times. len(times) must equal
// the number of records.
func WithTimes(times []float64) Option {
	return func(f *File) { f.times = times }
}

// WithCovariates attaches per-record hazard covariate vectors.
func WithCovariates(covs [][]float64) Option {
	return func(f *File) { f.covariates = covs }
}

// FromCoded builds a File from externally encoded records, where each row
// is one record's PIV vector using the 0-sentinel for missing values
// (schema.Missing) and 1..cardinality for categories.
//
// The sentinel encoding is converted to explicit missingness flags here;
// validation against the model happens in Check.
func FromCoded(source Source, rows [][]int, opts ...Option) *File {
	f := &File{source: source}
	if len(rows) > 0 {
		f.numPIVs = len(rows[0])
	}

	f.codes = make([][]int, len(rows))
	f.missing = make([][]bool, len(rows))
	for i, row := range rows {
		f.codes[i] = make([]int, len(row))
		f.missing[i] = make([]bool, len(row))
		for j, v := range row {
			if v == schema.Missing {
				f.missing[i][j] = true
				continue
			}
			f.codes[i][j] = v
		}
	}

	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Source returns which file this is.
func (f *File) Source() Source { return f.source }

// NumRecords returns the number of records in the file.
func (f *File) NumRecords() int { return len(f.codes) }

// NumPIVs returns the width of each record's PIV vector.
func (f *File) NumPIVs() int { return f.numPIVs }

// Value returns record i's coded value for PIV j and whether it is missing.
// The code is meaningless when missing is true.
func (f *File) Value(i, j int) (code int, missing bool) {
	return f.codes[i][j], f.missing[i][j]
}

// IsMissing reports whether record i's PIV j value is missing.
func (f *File) IsMissing(i, j int) bool { return f.missing[i][j] }

// Time returns record i's observation time, or 0 when the file carries no
// time information.
func (f *File) Time(i int) float64 {
	if f.times == nil {
		return 0
	}
	return f.times[i]
}

// HasTimes reports whether the file carries observation times.
func (f *File) HasTimes() bool { return f.times != nil }

// Covariate returns record i's covariate c, or 0 when the file carries no
// covariates.
func (f *File) Covariate(i, c int) float64 {
	if f.covariates == nil {
		return 0
	}
	return f.covariates[i][c]
}

// Check validates the file against the model: row widths, code ranges,
// time/covariate vector lengths, and hazard covariate indices. Returns a
// ConfigurationError naming the offending PIV where applicable.
func (f *File) Check(m *schema.Model) error {
	if f.numPIVs != m.NumPIVs() {
		return &schema.ConfigurationError{
			Code:    schema.ErrCodeNoPIVs,
			Field:   "records",
			Message: fmt.Sprintf("file %s has %d PIV columns, model declares %d", f.source, f.numPIVs, m.NumPIVs()),
		}
	}

	for i := range f.codes {
		if len(f.codes[i]) != f.numPIVs {
			return &schema.ConfigurationError{
				Code:    schema.ErrCodeNoPIVs,
				Field:   "records",
				Message: fmt.Sprintf("file %s record %d has %d columns, want %d", f.source, i, len(f.codes[i]), f.numPIVs),
			}
		}
		for j := range f.codes[i] {
			if f.missing[i][j] {
				continue
			}
			p := &m.PIVs[j]
			if c := f.codes[i][j]; c < 1 || c > p.Cardinality {
				return &schema.ConfigurationError{
					Code:    schema.ErrCodeCardinality,
					PIV:     p.Name,
					Field:   "records",
					Message: fmt.Sprintf("file %s record %d has code %d outside 1..%d", f.source, i, c, p.Cardinality),
				}
			}
		}
	}

	if f.times != nil && len(f.times) != len(f.codes) {
		return &schema.ConfigurationError{
			Code:    schema.ErrCodeNoPIVs,
			Field:   "times",
			Message: fmt.Sprintf("file %s has %d times for %d records", f.source, len(f.times), len(f.codes)),
		}
	}

	// Every hazard covariate index declared by the model must resolve in
	// this file's covariate vectors.
	maxCov := -1
	for j := range m.PIVs {
		u, ok := m.PIVs[j].Hazard()
		if !ok {
			continue
		}
		idxs := u.HazardCovariatesA
		if f.source == SourceB {
			idxs = u.HazardCovariatesB
		}
		for _, c := range idxs {
			if c > maxCov {
				maxCov = c
			}
		}
	}
	if maxCov >= 0 {
		if f.covariates == nil {
			return &schema.ConfigurationError{
				Code:    schema.ErrCodeHazardCovariate,
				Field:   "covariates",
				Message: fmt.Sprintf("file %s carries no covariates but model declares hazard covariate indices up to %d", f.source, maxCov),
			}
		}
		if len(f.covariates) != len(f.codes) {
			return &schema.ConfigurationError{
				Code:    schema.ErrCodeHazardCovariate,
				Field:   "covariates",
				Message: fmt.Sprintf("file %s has %d covariate rows for %d records", f.source, len(f.covariates), len(f.codes)),
			}
		}
		for i := range f.covariates {
			if len(f.covariates[i]) <= maxCov {
				return &schema.ConfigurationError{
					Code:    schema.ErrCodeHazardCovariate,
					Field:   "covariates",
					Message: fmt.Sprintf("file %s record %d has %d covariates, model needs index %d", f.source, i, len(f.covariates[i]), maxCov),
				}
			}
		}
	}

	return nil
}

// Gap returns the absolute elapsed time between a record in file A and a
// record in file B. When neither file carries times, the gap defaults to 1
// so the hazard model degrades to a plain per-pair change probability.
func Gap(a *File, ai int, b *File, bi int) float64 {
	if !a.HasTimes() && !b.HasTimes() {
		return 1
	}
	g := b.Time(bi) - a.Time(ai)
	if g < 0 {
		g = -g
	}
	return g
}
