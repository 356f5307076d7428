package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Summary is the listing view of one pack.
type Summary struct {
	ID        string  `json:"run_id"`
	Dir       string  `json:"dir"`
	Strategy  string  `json:"strategy,omitempty"`
	N         int     `json:"n"`
	NFeasible int     `json:"n_feasible"`
	Elapsed   float64 `json:"elapsed_wall_s"`
	Complete  bool    `json:"complete"`
}

// List describes every pack under root, newest id last. Directories without
// meta.json are reported as incomplete.
func List(root string) ([]Summary, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var out []Summary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		s := Summary{ID: e.Name(), Dir: dir}
		if m, err := ReadMeta(dir); err == nil {
			s.Strategy = m.Strategy
			s.N = m.NEvaluations
			s.NFeasible = m.NFeasible
			s.Elapsed = m.ElapsedWallS
			_, statErr := os.Stat(filepath.Join(dir, ManifestFile))
			s.Complete = statErr == nil
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadMeta loads meta.json of the pack in dir.
func ReadMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &m, nil
}
