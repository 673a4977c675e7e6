package hits

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags the concrete type held by a SortValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
)

// SortValue is one typed component of a sort key. KindNull marks a document
// that has no value for the field.
type SortValue struct {
	Kind  ValueKind
	Str   string
	Int   int64
	Float float64
}

func Null() SortValue            { return SortValue{Kind: KindNull} }
func String(s string) SortValue  { return SortValue{Kind: KindString, Str: s} }
func Int(i int64) SortValue      { return SortValue{Kind: KindInt, Int: i} }
func Float(f float64) SortValue  { return SortValue{Kind: KindFloat, Float: f} }
func (v SortValue) IsNull() bool { return v.Kind == KindNull }

// Number returns the numeric value for KindInt and KindFloat.
func (v SortValue) Number() (float64, bool) {
	switch v.Kind {
	case KindInt:
		return float64(v.Int), true
	case KindFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

func (v SortValue) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	default:
		return "null"
	}
}

// MarshalJSON renders the value the way it appears in a hit's "sort" array.
func (v SortValue) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindFloat:
		return json.Marshal(v.Float)
	default:
		return nil, fmt.Errorf("unknown sort value kind %d", v.Kind)
	}
}

// SortType declares how a sort field is compared.
type SortType uint8

const (
	// SortScore orders by relevance, highest first unless reversed.
	SortScore SortType = iota
	// SortID orders by document identifier.
	SortID
	SortString
	SortNumber
)

var sortTypeNames = map[SortType]string{
	SortScore:  "score",
	SortID:     "id",
	SortString: "string",
	SortNumber: "number",
}

func (t SortType) String() string {
	if name, ok := sortTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("SortType(%d)", t)
}

// ParseSortType maps a request-level type name to a SortType.
func ParseSortType(name string) (SortType, error) {
	for t, n := range sortTypeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown sort type %q", name)
}

// Valid reports whether t is a known sort type.
func (t SortType) Valid() bool {
	_, ok := sortTypeNames[t]
	return ok
}

type SortField struct {
	Field   string
	Type    SortType
	Reverse bool
}

// Sort is an ordered list of sort fields. A nil or empty Sort means ranking
// by score only.
type Sort struct {
	Fields []SortField
}

func NewSort(fields ...SortField) *Sort {
	return &Sort{Fields: fields}
}

func (s *Sort) IsScoreOnly() bool {
	return s == nil || len(s.Fields) == 0
}

func (s *Sort) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Fields)
}

// Equal compares two sorts field by field. Score-only sorts are equal
// regardless of nil-ness.
func (s *Sort) Equal(o *Sort) bool {
	if s.Len() != o.Len() {
		return false
	}
	for i := range s.Len() {
		if s.Fields[i] != o.Fields[i] {
			return false
		}
	}
	return true
}
