package shardnode

import (
	"fmt"

	"turbo-tophits/internal/hits"
)

// SortSpec is the JSON form of one sort field. Type is one of "score",
// "id", "string" or "number"; it is inferred for "_score" and "_id".
type SortSpec struct {
	Field   string `json:"field"`
	Type    string `json:"type,omitempty"`
	Reverse bool   `json:"reverse,omitempty"`
}

// SearchRequest is sent by the coordinator to every shard.
type SearchRequest struct {
	Name  string     `json:"name"`
	Query string     `json:"query"`
	From  int        `json:"from"`
	Size  int        `json:"size"`
	Sort  []SortSpec `json:"sort,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ParseSort converts sort specs into a Sort. No specs means score order.
func ParseSort(specs []SortSpec) (*hits.Sort, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	fields := make([]hits.SortField, len(specs))
	for i, spec := range specs {
		f, err := parseSortSpec(spec)
		if err != nil {
			return nil, err
		}
		fields[i] = f
	}
	return hits.NewSort(fields...), nil
}

func parseSortSpec(spec SortSpec) (hits.SortField, error) {
	name := spec.Type
	if name == "" {
		switch spec.Field {
		case "_score":
			name = "score"
		case "_id":
			name = "id"
		default:
			name = "string"
		}
	}
	t, err := hits.ParseSortType(name)
	if err != nil {
		return hits.SortField{}, err
	}

	f := hits.SortField{Field: spec.Field, Type: t, Reverse: spec.Reverse}
	switch t {
	case hits.SortScore:
		f.Field = "_score"
	case hits.SortID:
		f.Field = "_id"
	default:
		if spec.Field == "" || spec.Field[0] == '_' {
			return hits.SortField{}, fmt.Errorf("invalid %s sort field %q", t, spec.Field)
		}
	}
	return f, nil
}

// SortSpecs is the inverse of ParseSort.
func SortSpecs(s *hits.Sort) []SortSpec {
	if s.IsScoreOnly() {
		return nil
	}
	out := make([]SortSpec, len(s.Fields))
	for i, f := range s.Fields {
		out[i] = SortSpec{Field: f.Field, Type: f.Type.String(), Reverse: f.Reverse}
	}
	return out
}
