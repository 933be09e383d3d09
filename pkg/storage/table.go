package storage

import (
	"regexp"

	"github.com/qazdata/goszakup-etl/pkg/errors"
)

// Mode selects how Persist writes a batch into its table.
type Mode string

const (
	// AppendJSONB stores every item as one jsonb document row in an
	// append-only table.
	AppendJSONB Mode = "append_jsonb"
	// TypedUpsert maps item keys onto typed columns and upserts on the
	// table's conflict columns.
	TypedUpsert Mode = "typed_upsert"
)

// Table describes one persistence target in the public schema.
type Table struct {
	// Name is the table name.
	Name string `yaml:"name" json:"name"`
	// Mode selects the write strategy.
	Mode Mode `yaml:"mode" json:"mode"`
	// ConflictColumns are the upsert key columns. Required for
	// TypedUpsert, not allowed for AppendJSONB.
	ConflictColumns []string `yaml:"conflict_columns,omitempty" json:"conflict_columns,omitempty"`
}

// Append returns an append-mode table description.
func Append(name string) Table {
	return Table{Name: name, Mode: AppendJSONB}
}

// Upsert returns a typed-upsert table description keyed on the given
// columns.
func Upsert(name string, keys ...string) Table {
	return Table{Name: name, Mode: TypedUpsert, ConflictColumns: keys}
}

// identRe matches the identifiers this schema uses. Everything else is
// rejected up front, independent of the quoting applied when SQL is
// built.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the description before any SQL is built from it.
func (t Table) Validate() error {
	if !identRe.MatchString(t.Name) {
		return errors.Newf(errors.ErrorTypeValidation, "storage: invalid table name %q", t.Name)
	}

	switch t.Mode {
	case AppendJSONB:
		if len(t.ConflictColumns) > 0 {
			return errors.Newf(errors.ErrorTypeValidation,
				"storage: table %s: conflict columns are only valid for typed upsert", t.Name)
		}
	case TypedUpsert:
		if len(t.ConflictColumns) == 0 {
			return errors.Newf(errors.ErrorTypeValidation,
				"storage: table %s: typed upsert requires at least one conflict column", t.Name)
		}
		for _, c := range t.ConflictColumns {
			if !identRe.MatchString(c) {
				return errors.Newf(errors.ErrorTypeValidation,
					"storage: table %s: invalid conflict column %q", t.Name, c)
			}
		}
	default:
		return errors.Newf(errors.ErrorTypeValidation, "storage: table %s: unknown mode %q", t.Name, t.Mode)
	}
	return nil
}
