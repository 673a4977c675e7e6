package merge

import (
	"cmp"
	"strings"

	"turbo-tophits/internal/hits"
)

type criterionKind uint8

const (
	byScore criterionKind = iota
	byFields
)

// criterion is the ranking order used for one reduce call. It is picked once,
// before merging starts.
type criterion struct {
	kind   criterionKind
	fields []hits.SortField
}

func scoreCriterion() criterion {
	return criterion{kind: byScore}
}

func fieldCriterion(s *hits.Sort) criterion {
	return criterion{kind: byFields, fields: s.Fields}
}

func (c criterion) sort() *hits.Sort {
	if c.kind == byScore {
		return nil
	}
	return &hits.Sort{Fields: c.fields}
}

// compare returns a negative number when a ranks before b.
func (c criterion) compare(a, b hits.RankedEntry) int {
	if c.kind == byScore {
		return cmp.Compare(b.Score, a.Score)
	}
	for i, f := range c.fields {
		if r := compareField(f, a.SortKey[i], b.SortKey[i]); r != 0 {
			return r
		}
	}
	return 0
}

// compareField orders two values of one sort field. Missing values go last
// in either direction.
func compareField(f hits.SortField, a, b hits.SortValue) int {
	switch {
	case a.IsNull() && b.IsNull():
		return 0
	case a.IsNull():
		return 1
	case b.IsNull():
		return -1
	}

	r := compareValues(a, b)
	// score is the one field whose natural order is descending
	if f.Type == hits.SortScore {
		r = -r
	}
	if f.Reverse {
		r = -r
	}
	return r
}

func compareValues(a, b hits.SortValue) int {
	an, aNum := a.Number()
	bn, bNum := b.Number()
	switch {
	case aNum && bNum:
		if a.Kind == hits.KindInt && b.Kind == hits.KindInt {
			return cmp.Compare(a.Int, b.Int)
		}
		return cmp.Compare(an, bn)
	case a.Kind == hits.KindString && b.Kind == hits.KindString:
		return strings.Compare(a.Str, b.Str)
	default:
		return cmp.Compare(a.Kind, b.Kind)
	}
}
