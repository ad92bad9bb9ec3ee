package artifacts

import (
	"fmt"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/planner"
)

// Problems is the transfer problem report: (source, destination) pairs by
// status.
type Problems struct {
	Missing [][2]string `json:"missing"`
	Error   [][2]string `json:"error"`
}

// NewProblems builds a report from missing and errored pairs.
func NewProblems(missing, failed []archtypes.Pair) Problems {
	p := Problems{Missing: [][2]string{}, Error: [][2]string{}}
	for _, m := range missing {
		p.Missing = append(p.Missing, [2]string{m.Source, m.Destination})
	}
	for _, e := range failed {
		p.Error = append(p.Error, [2]string{e.Source, e.Destination})
	}
	return p
}

// ErrorPairs returns the errored pairs.
func (p Problems) ErrorPairs() []archtypes.Pair {
	return toPairs(p.Error)
}

// MissingPairs returns the pairs whose source was missing.
func (p Problems) MissingPairs() []archtypes.Pair {
	return toPairs(p.Missing)
}

func toPairs(rows [][2]string) []archtypes.Pair {
	out := make([]archtypes.Pair, 0, len(rows))
	for _, r := range rows {
		out = append(out, archtypes.Pair{Source: r[0], Destination: r[1]})
	}
	return out
}

// Plan is a persisted plan.
type Plan struct {
	Refs       map[string]string
	Entities   planner.EntityUpdates
	Attributes planner.AttributeUpdates
}

// SavePlan writes file_map, entity_plan and attr_plan.
func (s *Store) SavePlan(res *planner.Result) error {
	if err := s.Write(FileMap, res.Refs); err != nil {
		return err
	}

	entities := make(map[string]map[string]map[string]any, len(res.Entities))
	for table, recs := range res.Entities {
		rows := make(map[string]map[string]any, len(recs))
		for id, cols := range recs {
			rows[id] = metastore.EncodeRow(cols)
		}
		entities[table] = rows
	}
	if err := s.Write(EntityPlan, entities); err != nil {
		return err
	}
	return s.Write(AttrPlan, metastore.EncodeRow(res.Attributes))
}

// LoadPlan reads a plan written by SavePlan.
func (s *Store) LoadPlan() (*Plan, error) {
	p := &Plan{}
	if err := s.Read(FileMap, &p.Refs); err != nil {
		return nil, err
	}

	var entities map[string]map[string]map[string]any
	if err := s.Read(EntityPlan, &entities); err != nil {
		return nil, err
	}
	p.Entities = planner.EntityUpdates{}
	for table, rows := range entities {
		recs := make(map[string]map[string]metastore.Value, len(rows))
		for id, raw := range rows {
			cols, err := metastore.DecodeRow(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: %s %s/%s: %v", arkerrors.ErrArtifactSchema, EntityPlan, table, id, err)
			}
			recs[id] = cols
		}
		p.Entities[table] = recs
	}

	var attrs map[string]any
	if err := s.Read(AttrPlan, &attrs); err != nil {
		return nil, err
	}
	decoded, err := metastore.DecodeRow(attrs)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", arkerrors.ErrArtifactSchema, AttrPlan, err)
	}
	p.Attributes = decoded
	return p, nil
}

// LoadReferenceMap reads a reference map artifact (file_map or
// misc_file_map). A missing file yields an empty map.
func (s *Store) LoadReferenceMap(name string) (*planner.ReferenceMap, error) {
	if !s.Exists(name) {
		return planner.NewReferenceMap(), nil
	}
	var entries map[string]string
	if err := s.Read(name, &entries); err != nil {
		return nil, err
	}
	return planner.LoadReferenceMap(entries), nil
}

// SaveMissing writes missing_map as source -> destination.
func (s *Store) SaveMissing(missing []archtypes.Pair) error {
	m := make(map[string]string, len(missing))
	for _, p := range missing {
		m[p.Source] = p.Destination
	}
	return s.Write(MissingMap, m)
}

// LoadProblems reads a transfer problem report (migration_problems or
// misc_file_problems).
func (s *Store) LoadProblems(name string) (Problems, error) {
	var p Problems
	if !s.Exists(name) {
		return p, fmt.Errorf("%w: %s", arkerrors.ErrNoProblems, s.Path(name))
	}
	err := s.Read(name, &p)
	return p, err
}
