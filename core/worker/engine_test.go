package worker

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func writeRanking(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, rankingFilename)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseRanking(t *testing.T) {
	path := writeRanking(t, t.TempDir(),
		"# Fitness  S(hb_ext)  File  Name\n"+
			"\n"+
			"  85.43  1.20  ./gold_soln_m1_1.mol2  mol_001\n"+
			"  72.10  0.80  ./gold_soln_m2_3.mol2  mol_002\n")

	records, err := ParseRanking(path, 4)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, 85.43, records[0].Score)
	assert.Equal(t, "./gold_soln_m1_1.mol2", records[0].PoseFile)
	assert.Equal(t, "mol_001", records[0].LigandID)
	assert.Equal(t, 4, records[0].Batch)
}

func TestParseRankingEmptyArtifact(t *testing.T) {
	path := writeRanking(t, t.TempDir(), "# header only\n")
	records, err := ParseRanking(path, 0)
	require.NoError(t, err)
	// Empty but present: the engine ran and scored nothing.
	assert.NotNil(t, records)
	assert.Empty(t, records)
}

func TestParseRankingMalformed(t *testing.T) {
	dir := t.TempDir()
	_, err := ParseRanking(writeRanking(t, dir, "not-a-score pose lig\n"), 0)
	assert.Error(t, err)

	_, err = ParseRanking(writeRanking(t, dir, "1.0 onlytwo\n"), 0)
	assert.Error(t, err)
}

func TestParseRankingMissingFile(t *testing.T) {
	_, err := ParseRanking(filepath.Join(t.TempDir(), rankingFilename), 0)
	assert.Error(t, err)
}

func writeStubEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestExecEngineSuccess(t *testing.T) {
	exe := writeStubEngine(t, `echo "  12.5 0.1 pose_1.mol2 mol_a" > output/bestranking.lst`)
	e := NewExecEngine(exe, "lf:flexlm;http://license:8080;", 1, quietLogger())

	outcome, err := e.Run(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	assert.True(t, outcome.Succeeded())
	require.Len(t, outcome.Records, 1)
	assert.Equal(t, "mol_a", outcome.Records[0].LigandID)
}

func TestExecEnginePassesLicensing(t *testing.T) {
	exe := writeStubEngine(t,
		`echo "$DOCK_LICENSING_CONFIGURATION $DOCK_LOG_LEVEL" > env.txt`+"\n"+
			`echo "" > output/bestranking.lst`)
	workDir := t.TempDir()
	e := NewExecEngine(exe, "lf:flexlm;http://license:8080;", 2, quietLogger())

	_, err := e.Run(context.Background(), workDir, 0)
	require.NoError(t, err)
	env, err := os.ReadFile(filepath.Join(workDir, "env.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(env), "http://license:8080")
	assert.Contains(t, string(env), "2")
}

func TestExecEngineNonZeroExit(t *testing.T) {
	exe := writeStubEngine(t, `echo "license checkout failed" >&2`+"\n"+`exit 3`)
	e := NewExecEngine(exe, "lf:flexlm;http://license:8080;", 1, quietLogger())

	outcome, err := e.Run(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Contains(t, outcome.Diagnostic, "license checkout failed")
}

func TestExecEngineExitZeroWithoutArtifact(t *testing.T) {
	exe := writeStubEngine(t, `true`)
	e := NewExecEngine(exe, "lf:flexlm;http://license:8080;", 1, quietLogger())

	outcome, err := e.Run(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	// Exit 0 without the ranking artifact is still a failure.
	assert.False(t, outcome.Succeeded())
	assert.Contains(t, outcome.Diagnostic, "ranking artifact")
}

func TestExecEngineMissingExecutable(t *testing.T) {
	e := NewExecEngine(filepath.Join(t.TempDir(), "no_such_engine"), "lf;http://x;", 1, quietLogger())
	outcome, err := e.Run(context.Background(), t.TempDir(), 0)
	require.NoError(t, err)
	assert.False(t, outcome.Succeeded())
	assert.Equal(t, -1, outcome.ExitCode)
}
