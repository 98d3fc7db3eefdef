package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stemlink/internal/store"
)

const testModelCUE = `
linkage: {
	pivs: [
		{name: "surname", cardinality: 25, stable: true},
		{name: "given", cardinality: 20, stable: true},
		{name: "birthyear", cardinality: 40, stable: true},
	]
	run: {
		stem_iterations:  5
		stem_burnin:      1
		gibbs_iterations: 3
		gibbs_burnin:     1
		seed:             7
	}
}
`

const badModelCUE = `
linkage: {
	pivs: [
		{name: "residence", cardinality: 8, stable: false},
	]
	run: {stem_iterations: 5, gibbs_iterations: 3}
}
`

func writeModel(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.cue")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestValidate_Valid(t *testing.T) {
	out, err := execute(t, "validate", writeModel(t, testModelCUE))
	require.NoError(t, err)
	assert.Contains(t, out, "configuration valid")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "validate", writeModel(t, testModelCUE))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestValidate_UnidentifiableModel(t *testing.T) {
	out, err := execute(t, "validate", writeModel(t, badModelCUE))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "unstable PIV")
}

func TestValidate_MissingFile(t *testing.T) {
	_, err := execute(t, "validate", filepath.Join(t.TempDir(), "nope.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRoot_InvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "validate", "whatever.cue")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestSynth_WritesFiles(t *testing.T) {
	model := writeModel(t, testModelCUE)
	outDir := t.TempDir()

	out, err := execute(t, "synth", model,
		"--out", outDir,
		"--records-a", "30", "--records-b", "40", "--links", "20",
		"--missing", "0.05", "--mistake", "0.02", "--seed", "9")
	require.NoError(t, err)
	assert.Contains(t, out, "30 A-records")

	for _, name := range []string{"a.json", "b.json", "truth.json"} {
		_, err := os.Stat(filepath.Join(outDir, name))
		assert.NoError(t, err, name)
	}

	pairs, err := loadPairs(filepath.Join(outDir, "truth.json"))
	require.NoError(t, err)
	assert.Len(t, pairs, 20)
}

func TestSynth_TooManyLinks(t *testing.T) {
	_, err := execute(t, "synth", writeModel(t, testModelCUE),
		"--out", t.TempDir(),
		"--records-a", "5", "--records-b", "5", "--links", "10")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
}

func TestSynthFitScore_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("full estimation run")
	}

	model := writeModel(t, testModelCUE)
	dir := t.TempDir()

	_, err := execute(t, "synth", model,
		"--out", dir,
		"--records-a", "40", "--records-b", "50", "--links", "25",
		"--missing", "0.05", "--mistake", "0.02", "--seed", "3")
	require.NoError(t, err)

	posterior := filepath.Join(dir, "posterior.json")
	dbPath := filepath.Join(dir, "chains.db")
	out, err := execute(t, "-v", "fit", model,
		filepath.Join(dir, "a.json"), filepath.Join(dir, "b.json"),
		"--out", posterior, "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "5 iterations")
	assert.Contains(t, out, "phi median", "per-PIV chain quantiles in verbose mode")

	// The chain and posterior landed in the database.
	db, err := store.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()

	runs, err := db.ListRuns(context.Background())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	chain, err := db.ReadChain(context.Background(), runs[0].Token)
	require.NoError(t, err)
	assert.Len(t, chain, 5)

	stored, err := db.ReadPosterior(context.Background(), runs[0].Token)
	require.NoError(t, err)
	assert.NotEmpty(t, stored)

	scoreOut, err := execute(t, "score", posterior, filepath.Join(dir, "truth.json"))
	require.NoError(t, err)
	assert.Contains(t, scoreOut, "F1")
}

func TestScore_JSONOutput(t *testing.T) {
	dir := t.TempDir()
	posterior := filepath.Join(dir, "posterior.json")
	truth := filepath.Join(dir, "truth.json")

	require.NoError(t, os.WriteFile(posterior,
		[]byte(`[{"a":0,"b":0,"probability":0.9},{"a":1,"b":2,"probability":0.2}]`), 0o644))
	require.NoError(t, os.WriteFile(truth, []byte(`[{"a":0,"b":0}]`), 0o644))

	out, err := execute(t, "--format", "json", "score", posterior, truth)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]any)
	assert.Equal(t, 1.0, data["f1"])
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(WrapExitError(ExitCommandError, "x", nil)))
	assert.Equal(t, ExitFailure, GetExitCode(assert.AnError))
}
