// Package compiler parses CUE linkage configurations into model and run
// definitions. It uses the CUE SDK's Go API directly (not a CLI
// subprocess), so errors carry source positions.
package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/stemlink/internal/schema"
)

// CompileModel parses a CUE value into a linkage model and run
// configuration. The value should be the linkage struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`linkage: { pivs: [...], run: {...} }`)
//	m, rc, err := CompileModel(v.LookupPath(cue.ParsePath("linkage")))
//
// PIVs are declared as a list so their order, which must match the
// column order of the record files, is explicit in the config.
func CompileModel(v cue.Value) (*schema.Model, *schema.RunConfig, error) {
	if err := v.Err(); err != nil {
		return nil, nil, formatCUEError(err)
	}

	pivsVal := v.LookupPath(cue.ParsePath("pivs"))
	if !pivsVal.Exists() {
		return nil, nil, &CompileError{
			Field:   "pivs",
			Message: "pivs list is required",
			Pos:     v.Pos(),
		}
	}

	m := &schema.Model{}
	iter, err := pivsVal.List()
	if err != nil {
		return nil, nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		piv, err := parsePIV(i, iter.Value())
		if err != nil {
			return nil, nil, err
		}
		m.PIVs = append(m.PIVs, piv)
	}
	if len(m.PIVs) == 0 {
		return nil, nil, &CompileError{
			Field:   "pivs",
			Message: "at least one PIV is required",
			Pos:     pivsVal.Pos(),
		}
	}

	rc, err := parseRun(v.LookupPath(cue.ParsePath("run")))
	if err != nil {
		return nil, nil, err
	}

	return m, rc, nil
}

// LoadModelFile compiles a standalone CUE file and extracts the linkage
// struct from it.
func LoadModelFile(path string) (*schema.Model, *schema.RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read config: %w", err)
	}

	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(path))
	if err := v.Err(); err != nil {
		return nil, nil, formatCUEError(err)
	}

	linkVal := v.LookupPath(cue.ParsePath("linkage"))
	if !linkVal.Exists() {
		return nil, nil, &CompileError{
			Field:   "linkage",
			Message: "top-level linkage struct is required",
			Pos:     v.Pos(),
		}
	}

	return CompileModel(linkVal)
}

func parsePIV(index int, v cue.Value) (schema.PIV, error) {
	var piv schema.PIV

	name, err := requiredString(v, "name", fmt.Sprintf("pivs[%d].name", index))
	if err != nil {
		return piv, err
	}
	piv.Name = name

	card, err := requiredInt(v, "cardinality", fmt.Sprintf("pivs[%d].cardinality", index))
	if err != nil {
		return piv, err
	}
	piv.Cardinality = card

	stableVal := v.LookupPath(cue.ParsePath("stable"))
	if !stableVal.Exists() {
		return piv, &CompileError{
			Field:   fmt.Sprintf("pivs[%d].stable", index),
			Message: "stable is required",
			Pos:     v.Pos(),
		}
	}
	stable, err := stableVal.Bool()
	if err != nil {
		return piv, formatCUEError(err)
	}

	if stable {
		piv.Stability = schema.Stable{}
	} else {
		unstable := schema.Unstable{}
		unstable.HazardCovariatesA, err = optionalIntList(v, "hazard_covariates_a")
		if err != nil {
			return piv, err
		}
		unstable.HazardCovariatesB, err = optionalIntList(v, "hazard_covariates_b")
		if err != nil {
			return piv, err
		}
		piv.Stability = unstable
	}

	mistakeVal := v.LookupPath(cue.ParsePath("mistake"))
	if mistakeVal.Exists() {
		piv.Mistake, err = parseMistake(index, mistakeVal)
		if err != nil {
			return piv, err
		}
	}

	return piv, nil
}

func parseMistake(index int, v cue.Value) (schema.MistakeModel, error) {
	var mm schema.MistakeModel
	var err error

	if mm.Shared, err = optionalBool(v, "shared"); err != nil {
		return mm, err
	}
	if mm.Bounded, err = optionalBool(v, "bounded"); err != nil {
		return mm, err
	}
	if mm.Bounded {
		mm.Bound, err = requiredFloat(v, "bound", fmt.Sprintf("pivs[%d].mistake.bound", index))
		if err != nil {
			return mm, err
		}
	}

	if mm.FixedA, err = optionalBool(v, "fixed_a"); err != nil {
		return mm, err
	}
	if mm.FixedA {
		mm.FixedValueA, err = requiredFloat(v, "fixed_value_a", fmt.Sprintf("pivs[%d].mistake.fixed_value_a", index))
		if err != nil {
			return mm, err
		}
	}

	if mm.FixedB, err = optionalBool(v, "fixed_b"); err != nil {
		return mm, err
	}
	if mm.FixedB {
		mm.FixedValueB, err = requiredFloat(v, "fixed_value_b", fmt.Sprintf("pivs[%d].mistake.fixed_value_b", index))
		if err != nil {
			return mm, err
		}
	}

	return mm, nil
}

func parseRun(v cue.Value) (*schema.RunConfig, error) {
	if !v.Exists() {
		return nil, &CompileError{
			Field:   "run",
			Message: "run struct is required",
		}
	}
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rc := &schema.RunConfig{}
	var err error

	if rc.StEMIter, err = requiredInt(v, "stem_iterations", "run.stem_iterations"); err != nil {
		return nil, err
	}
	if rc.GibbsIter, err = requiredInt(v, "gibbs_iterations", "run.gibbs_iterations"); err != nil {
		return nil, err
	}
	if rc.StEMBurnin, err = optionalInt(v, "stem_burnin"); err != nil {
		return nil, err
	}
	if rc.GibbsBurnin, err = optionalInt(v, "gibbs_burnin"); err != nil {
		return nil, err
	}

	seedVal := v.LookupPath(cue.ParsePath("seed"))
	if seedVal.Exists() {
		seed, err := seedVal.Uint64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rc.Seed = seed
	}

	if rc.AllowAutoFix, err = optionalBool(v, "allow_auto_fix"); err != nil {
		return nil, err
	}

	return rc, nil
}

func requiredString(v cue.Value, path, field string) (string, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return "", &CompileError{Field: field, Message: "required", Pos: v.Pos()}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func requiredInt(v cue.Value, path, field string) (int, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: "required", Pos: v.Pos()}
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func optionalInt(v cue.Value, path string) (int, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, nil
	}
	n, err := fv.Int64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return int(n), nil
}

func requiredFloat(v cue.Value, path, field string) (float64, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return 0, &CompileError{Field: field, Message: "required", Pos: v.Pos()}
	}
	f, err := fv.Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

func optionalBool(v cue.Value, path string) (bool, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return false, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return false, formatCUEError(err)
	}
	return b, nil
}

func optionalIntList(v cue.Value, path string) ([]int, error) {
	fv := v.LookupPath(cue.ParsePath(path))
	if !fv.Exists() {
		return nil, nil
	}
	iter, err := fv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out []int
	for iter.Next() {
		n, err := iter.Value().Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, int(n))
	}
	return out, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := cueerrors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
