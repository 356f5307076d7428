package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evidence"
	"github.com/snow-ghost/feasopt/ledger"
	"github.com/snow-ghost/feasopt/search"
)

const cliConfig = `
n: 30
seed: 4
objective: objective
bounds:
  x: [0, 10]
  y: [0, 10]
`

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cliConfig), 0o644))
	return path
}

func TestRunVerifyAndList(t *testing.T) {
	dir := t.TempDir()
	runsRoot := filepath.Join(dir, "runs")
	ledgerPath := filepath.Join(dir, "ledger.db")

	out, err := execute(t, "run",
		"--config", writeConfig(t, dir),
		"--evaluator", "builtin:sum",
		"--runs-root", runsRoot,
		"--ledger", ledgerPath,
		"--log-level", "error",
	)
	require.NoError(t, err, out)
	assert.Contains(t, out, "evaluated: 30")

	packs, err := evidence.List(runsRoot)
	require.NoError(t, err)
	require.Len(t, packs, 1)
	assert.True(t, packs[0].Complete)

	out, err = execute(t, "verify", packs[0].Dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "OK   "+packs[0].Dir)

	out, err = execute(t, "runs", "--runs-root", runsRoot, "--ledger", "", "--json")
	require.NoError(t, err, out)
	var listed []evidence.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, packs[0].ID, listed[0].ID)

	out, err = execute(t, "runs", "--ledger", ledgerPath)
	require.NoError(t, err, out)
	assert.Contains(t, out, packs[0].ID)
	assert.Contains(t, out, "random")
}

func TestVerifyReportsTamperedPack(t *testing.T) {
	dir := t.TempDir()
	runsRoot := filepath.Join(dir, "runs")
	_, err := execute(t, "run", "--config", writeConfig(t, dir), "--evaluator", "builtin:sum",
		"--runs-root", runsRoot, "--ledger", "", "--log-level", "error")
	require.NoError(t, err)

	packs, err := evidence.List(runsRoot)
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.NoError(t, os.WriteFile(filepath.Join(packs[0].Dir, evidence.BestFile), []byte("{}\n"), 0o644))

	out, err := execute(t, "verify", packs[0].Dir, filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, evidence.ErrManifestMismatch)
	assert.Equal(t, 2, strings.Count(out, "FAIL "))
}

func TestRunRejectsBadEvaluator(t *testing.T) {
	dir := t.TempDir()
	for _, spec := range []string{"reactor", "builtin:nope", "grpc:host"} {
		_, err := execute(t, "run", "--config", writeConfig(t, dir), "--evaluator", spec,
			"--runs-root", filepath.Join(dir, "runs"), "--ledger", "", "--log-level", "error")
		assert.Error(t, err, spec)
	}
	packs, err := evidence.List(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	assert.Empty(t, packs, "no pack is created before the evaluator opens")
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := execute(t, "run", "--evaluator", "builtin:sum")
	assert.Error(t, err)
}

func TestRecordLedgerAfterInterrupt(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.Parse([]byte(cliConfig))
	require.NoError(t, err)
	pack, err := evidence.Create(filepath.Join(dir, "runs"), cfg, time.Now())
	require.NoError(t, err)
	defer pack.Close()

	res := &search.Result{
		Strategy: cfg.Strategy,
		Records:  []*core.Record{{Index: 0, Inputs: core.Point{"x": 1, "y": 2}}},
		Elapsed:  time.Second,
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	path := filepath.Join(dir, "ledger.db")
	require.NoError(t, recordLedger(ctx, path, pack, cfg, res, "builtin:sum"))

	l, err := ledger.Open(path)
	require.NoError(t, err)
	defer l.Close()
	got, err := l.Get(context.Background(), pack.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.N)
	assert.Equal(t, "builtin:sum", got.Evaluator)
}
