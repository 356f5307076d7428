package evidence

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/snow-ghost/feasopt/config"
	"github.com/snow-ghost/feasopt/core"
	"github.com/snow-ghost/feasopt/evaluator"
	"github.com/snow-ghost/feasopt/mechanism"
	"github.com/snow-ghost/feasopt/search"
	"github.com/snow-ghost/feasopt/surrogate"
)

const (
	evidenceSchema   = "extopt_evidence_pack.v1"
	classifierSchema = "mech_feas_classifier.v1"
	maxFrontierJSON  = 500
)

// runNamespace scopes run UUIDs derived from run ids.
var runNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("feasopt:run"))

// Info is run context the search result does not carry.
type Info struct {
	Evaluator string
	Cache     evaluator.CacheStats
}

// Meta is the content of meta.json.
type Meta struct {
	Schema             string               `json:"schema_version"`
	RunID              string               `json:"run_id"`
	RunUUID            string               `json:"run_uuid"`
	CreatedUTC         string               `json:"created_utc"`
	Seed               int64                `json:"seed"`
	N                  int                  `json:"n"`
	NEvaluations       int                  `json:"n_evaluations"`
	NFeasible          int                  `json:"n_feasible"`
	Objective          string               `json:"objective"`
	ObjectiveDirection core.Direction       `json:"objective_direction"`
	Policy             core.PolicyMode      `json:"policy"`
	Strategy           string               `json:"strategy"`
	Evaluator          string               `json:"evaluator,omitempty"`
	SeedSource         map[string]any       `json:"seed_source"`
	ElapsedWallS       float64              `json:"elapsed_wall_s"`
	CacheStats         evaluator.CacheStats `json:"cache_stats"`
	ConfigSHA256       string               `json:"cfg_sha256"`
	OrchestratorJobID  string               `json:"orchestrator_job_id"`
	ContractSchema     any                  `json:"objective_contract_schema"`
	ObjectiveOrdering  []string             `json:"objective_ordering"`
	ScenarioRobustness bool                 `json:"scenario_robustness"`
	FrontierFamily     bool                 `json:"frontier_family,omitempty"`
}

// RunUUID is the deterministic UUID of a run id.
func RunUUID(runID string) string {
	return uuid.NewSHA1(runNamespace, []byte(runID)).String()
}

// WriteResult persists the run outcome, closes the log and writes the
// manifest last.
func (p *Pack) WriteResult(res *search.Result, info Info) error {
	cfg := p.cfg
	records := res.Records
	if records == nil {
		records = []*core.Record{}
	}
	if err := p.writeJSON(RecordsFile, records); err != nil {
		return err
	}
	if err := p.writeBest(res); err != nil {
		return err
	}
	if err := p.writeJSON(SummaryFile, summary{
		Failures:      histogram(search.Histogram(res.Failures)),
		FeasibleYield: res.FeasibleYield(),
		NEvaluations:  len(res.Records),
		NFeasible:     res.Feasible,
	}); err != nil {
		return err
	}

	var contractSchema any
	if cfg.ObjectiveContract != nil {
		contractSchema = cfg.ObjectiveContract["schema"]
	}
	meta := Meta{
		Schema:             evidenceSchema,
		RunID:              p.ID,
		RunUUID:            RunUUID(p.ID),
		CreatedUTC:         p.Created.Format("2006-01-02T15:04:05Z"),
		Seed:               cfg.Seed,
		N:                  cfg.N,
		NEvaluations:       len(res.Records),
		NFeasible:          res.Feasible,
		Objective:          cfg.Objective,
		ObjectiveDirection: cfg.ObjectiveDirection,
		Policy:             cfg.Policy,
		Strategy:           string(cfg.Strategy),
		Evaluator:          info.Evaluator,
		SeedSource:         cfg.SeedSource,
		ElapsedWallS:       res.Elapsed.Seconds(),
		CacheStats:         info.Cache,
		ConfigSHA256:       p.cfgHash,
		OrchestratorJobID:  strings.TrimSpace(cfg.OrchestratorJobID),
		ContractSchema:     contractSchema,
		ObjectiveOrdering:  cfg.Contract().Ordering(),
		ScenarioRobustness: cfg.ScenarioRobustness,
		FrontierFamily:     res.Strategy == config.BoundaryTraceMulti,
	}
	if err := p.writeJSON(MetaFile, meta); err != nil {
		return err
	}
	if err := p.writeMechanisms(res.Trace); err != nil {
		return err
	}
	if cfg.MechanismClassifier && res.Models != nil {
		if err := p.writeClassifiers(res.Models); err != nil {
			return err
		}
	}
	if err := p.writeFrontiers(res); err != nil {
		return err
	}
	if err := p.writeProgress(search.Progress{
		I:           len(res.Records),
		N:           cfg.N,
		NFeasible:   res.Feasible,
		LastVerdict: "DONE",
	}); err != nil {
		return err
	}
	if p.log != nil {
		fmt.Fprintf(p.log, "[done] elapsed_s=%.3f feasible=%d/%d\n", res.Elapsed.Seconds(), res.Feasible, len(res.Records))
	}
	if err := p.Close(); err != nil {
		return fmt.Errorf("close log: %w", err)
	}
	return WriteManifest(p.Dir)
}

func (p *Pack) writeBest(res *search.Result) error {
	if res.Best != nil {
		return p.writeJSON(BestFile, res.Best)
	}
	note := res.BestNote
	if note == "" {
		note = "no feasible candidate found"
	}
	return p.writeJSON(BestFile, struct {
		Best *core.Record `json:"best"`
		Note string       `json:"note"`
	}{nil, note})
}

type summary struct {
	Failures      histogram `json:"dominant_failures"`
	FeasibleYield float64   `json:"feasible_yield"`
	NEvaluations  int       `json:"n_evaluations"`
	NFeasible     int       `json:"n_feasible"`
}

// histogram encodes as a JSON object in count order.
type histogram []search.FailureCount

func (h histogram) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, fc := range h {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(fc.Constraint)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(fc.Count))
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

func (p *Pack) writeMechanisms(trace *mechanism.Trace) error {
	if trace == nil {
		trace = &mechanism.Trace{}
	}
	if err := p.writeJSON("mechanism_transition_map.json", trace.Transitions()); err != nil {
		return err
	}
	n, switches := trace.SwitchPoints()
	if err := p.writeJSON("mechanism_switch_points.json", struct {
		N        int                `json:"n_switches"`
		Switches []mechanism.Switch `json:"switches"`
	}{n, switches}); err != nil {
		return err
	}
	return p.writeFile("mechanism_transition_matrix.csv", []byte(trace.MatrixCSV()))
}

func (p *Pack) writeClassifiers(m *surrogate.Models) error {
	return p.writeJSON("mechanism_classifiers.json", struct {
		Schema      string                        `json:"schema"`
		MinPos      int                           `json:"min_pos"`
		MinNeg      int                           `json:"min_neg"`
		Mechanisms  []surrogate.ClassifierSummary `json:"mechanisms"`
		FilterStats surrogate.FilterStats         `json:"filter_stats"`
	}{classifierSchema, p.cfg.MechMinPos, p.cfg.MechMinNeg, m.Summaries(), m.Stats})
}

type frontierDoc struct {
	Family    bool           `json:"family,omitempty"`
	FrontierN int            `json:"frontier_n"`
	Tol       float64        `json:"tol"`
	Points    []*core.Record `json:"points"`
}

func (p *Pack) writeFrontiers(res *search.Result) error {
	switch res.Strategy {
	case config.BoundaryTrace:
		if err := p.writeFile("frontier_points.csv", frontierCSV(res.Frontier)); err != nil {
			return err
		}
		return p.writeJSON("boundary_frontier.json", frontierDoc{
			FrontierN: len(res.Frontier),
			Tol:       p.cfg.BoundaryTol,
			Points:    head(res.Frontier),
		})
	case config.BoundaryTraceMulti:
		ids := make([]string, len(res.Islands))
		for i, isl := range res.Islands {
			ids[i] = isl.IslandID
		}
		for i, part := range islandFileParts(ids) {
			name := fmt.Sprintf("frontiers/frontier_island_%s.csv", part)
			if err := p.writeFile(name, frontierCSV(res.Islands[i].Frontier)); err != nil {
				return err
			}
		}
		if err := p.writeFile("frontier_points_all_islands.csv", frontierCSV(res.Frontier)); err != nil {
			return err
		}
		if err := p.writeJSON("frontier_family_summary.json", struct {
			Islands []search.IslandFrontier `json:"islands"`
			Family  bool                    `json:"family"`
			Tol     float64                 `json:"tol"`
		}{res.Islands, true, p.cfg.BoundaryTol}); err != nil {
			return err
		}
		return p.writeJSON("boundary_frontier.json", frontierDoc{
			Family:    true,
			FrontierN: len(res.Frontier),
			Tol:       p.cfg.BoundaryTol,
			Points:    head(res.Frontier),
		})
	}
	return nil
}

func head(recs []*core.Record) []*core.Record {
	if recs == nil {
		return []*core.Record{}
	}
	if len(recs) > maxFrontierJSON {
		return recs[:maxFrontierJSON]
	}
	return recs
}

// safeName keeps island ids usable as file name parts.
func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, s)
}

// islandFileParts maps island ids to distinct file name parts. Ids that
// sanitize to the same name, ignoring case, get a _2, _3, ... suffix in order.
func islandFileParts(ids []string) []string {
	out := make([]string, len(ids))
	taken := make(map[string]bool, len(ids))
	for i, id := range ids {
		base := safeName(id)
		name := base
		for n := 2; taken[strings.ToLower(name)]; n++ {
			name = fmt.Sprintf("%s_%d", base, n)
		}
		taken[strings.ToLower(name)] = true
		out[i] = name
	}
	return out
}

var frontierColumns = []string{
	"i", "island_id", "phase", "candidate", "objective", "worst_hard_margin",
	"dominant_constraint", "dominant_mechanism", "scenario_pass_frac", "scenario_worst_hard_margin",
}

// frontierCSV writes one row per frontier point: fixed columns, then every
// input in sorted order. Non-finite numbers are left empty.
func frontierCSV(recs []*core.Record) []byte {
	inputs := map[string]bool{}
	for _, r := range recs {
		for k := range r.Inputs {
			inputs[k] = true
		}
	}
	names := make([]string, 0, len(inputs))
	for k := range inputs {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(append(append([]string{}, frontierColumns...), names...))
	for _, r := range recs {
		row := []string{
			strconv.Itoa(r.Index),
			r.IslandID,
			r.Phase,
			strconv.FormatBool(r.Candidate),
			num(r.Objective),
			num(r.WorstHardMargin),
			r.DominantConstraint,
			r.DominantMechanism,
			"",
			"",
		}
		if r.Scenario != nil {
			row[8] = num(r.Scenario.PassFrac)
			row[9] = num(r.Scenario.WorstHardMargin)
		}
		for _, k := range names {
			v, ok := r.Inputs[k]
			if !ok {
				row = append(row, "")
				continue
			}
			row = append(row, num(v))
		}
		_ = w.Write(row)
	}
	w.Flush()
	return buf.Bytes()
}

func num(v float64) string {
	if !core.IsFinite(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
