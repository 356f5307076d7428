// Package evidence writes and verifies run evidence packs: one write-once
// directory per run holding the config, the full evaluation log, summaries
// and a SHA-256 manifest.
package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/search"
)

var (
	// ErrRunExists is returned when the run directory is already present.
	ErrRunExists = errors.New("run directory already exists")
	// ErrManifestMismatch is returned by Verify when contents drifted.
	ErrManifestMismatch = errors.New("manifest mismatch")
)

// File names inside a pack.
const (
	RunConfigFile         = "run_config.json"
	ObjectiveContractFile = "objective_contract.json"
	ProgressFile          = "progress.json"
	RecordsFile           = "records.json"
	BestFile              = "best.json"
	SummaryFile           = "summary.json"
	MetaFile              = "meta.json"
	LogFile               = "log.txt"
	ManifestFile          = "manifest.sha256"
)

// timestampLayout is a filesystem-safe UTC timestamp.
const timestampLayout = "2006-01-02T15-04-05Z"

// Pack is an open evidence pack directory.
type Pack struct {
	ID      string
	Dir     string
	Created time.Time
	cfg     *config.Run
	cfgHash string
	log     *os.File
}

// RunID derives the pack name from the start time, seed, budget, tag and
// config hash. The full hash is returned alongside.
func RunID(now time.Time, cfg *config.Run) (id, hash string, err error) {
	hash, err = cfg.Hash()
	if err != nil {
		return "", "", err
	}
	tag := ""
	if t := strings.TrimSpace(cfg.Tag); t != "" {
		tag = "_" + t
	}
	id = fmt.Sprintf("%s_seed%04d_N%04d%s_%s", now.UTC().Format(timestampLayout), cfg.Seed, cfg.N, tag, hash[:12])
	return id, hash, nil
}

// Create makes a new pack under root, writes the immutable config copy and
// the initial progress, and opens log.txt. An existing directory is never
// reused.
func Create(root string, cfg *config.Run, now time.Time) (*Pack, error) {
	id, hash, err := RunID(now, cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create runs root: %w", err)
	}
	dir := filepath.Join(root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunExists, dir)
		}
		return nil, fmt.Errorf("create run directory: %w", err)
	}
	p := &Pack{ID: id, Dir: dir, Created: now.UTC(), cfg: cfg, cfgHash: hash}

	if err := p.writeJSON(RunConfigFile, cfg); err != nil {
		return nil, err
	}
	if cfg.ObjectiveContract != nil {
		if err := p.writeJSON(ObjectiveContractFile, cfg.ObjectiveContract); err != nil {
			return nil, err
		}
	}
	if err := p.writeProgress(search.Progress{N: cfg.N, LastVerdict: "—", LastDominant: "—"}); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Join(dir, LogFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	p.log = f
	return p, nil
}

// Log is the append-only human log of the run.
func (p *Pack) Log() io.Writer {
	if p.log == nil {
		return io.Discard
	}
	return p.log
}

// Observe flushes progress after every evaluation.
func (p *Pack) Observe(_ *core.Record, progress search.Progress) error {
	return p.writeProgress(progress)
}

// Close closes the log file. It is safe to call more than once.
func (p *Pack) Close() error {
	if p.log == nil {
		return nil
	}
	err := p.log.Close()
	p.log = nil
	return err
}

func (p *Pack) path(name string) string {
	return filepath.Join(p.Dir, filepath.FromSlash(name))
}

// writeProgress replaces progress.json atomically.
func (p *Pack) writeProgress(progress search.Progress) error {
	data, err := marshal(progress)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.Dir, ".progress-*.tmp")
	if err != nil {
		return fmt.Errorf("write progress: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write progress: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write progress: %w", err)
	}
	if err := os.Rename(tmp.Name(), p.path(ProgressFile)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write progress: %w", err)
	}
	return nil
}

func (p *Pack) writeJSON(name string, v any) error {
	data, err := marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return p.writeFile(name, data)
}

func (p *Pack) writeFile(name string, data []byte) error {
	path := p.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func marshal(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
