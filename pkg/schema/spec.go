package schema

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// StorageSpec is a declarative description of the tables to provision.
type StorageSpec struct {
	Tables []Table `json:"tables"`
}

// Table describes one table in the storage spec.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// Column describes one column of a table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	PrimaryKey bool   `json:"primary_key"`
	NotNull    bool   `json:"not_null"`
	Default    string `json:"default"`
}

// specSchema constrains storage spec documents. Identifiers are locked to
// a safe character set because they are interpolated into DDL.
const specSchema = `
#Column: {
	name: string & =~"^[a-z][a-z0-9_]*$"
	type: "string" | "text" | "int" | "bigint" | "float" | "bool" | "timestamp" | "json" | "uuid"
	primary_key: bool | *false
	not_null:    bool | *false
	default:     string | *""
}

#Table: {
	name: string & =~"^[a-z][a-z0-9_]*$"
	columns: [...#Column] & [_, ...]
}

#Spec: {
	tables: [...#Table] & [_, ...]
}
`

// columnTypes maps spec column types to SQL types.
var columnTypes = map[string]string{
	"string":    "TEXT",
	"text":      "TEXT",
	"int":       "INTEGER",
	"bigint":    "BIGINT",
	"float":     "DOUBLE PRECISION",
	"bool":      "BOOLEAN",
	"timestamp": "TIMESTAMPTZ",
	"json":      "JSONB",
	"uuid":      "UUID",
}

// ParseSpec compiles a CUE storage spec document, validates it against the
// builtin schema, and decodes it.
func ParseSpec(src string) (*StorageSpec, error) {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileString(specSchema)
	if err := schemaVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile spec schema: %w", err)
	}

	specVal := ctx.CompileString(src)
	if err := specVal.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile spec: %w", err)
	}

	unified := schemaVal.LookupPath(cue.ParsePath("#Spec")).Unify(specVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("spec validation failed: %w", err)
	}

	spec := &StorageSpec{}
	if err := unified.Decode(spec); err != nil {
		return nil, fmt.Errorf("failed to decode spec: %w", err)
	}
	return spec, nil
}

// RenderSQL renders the spec to DDL statements, one per table.
func (s *StorageSpec) RenderSQL() ([]string, error) {
	statements := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		stmt, err := renderTable(table)
		if err != nil {
			return nil, err
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func renderTable(table Table) (string, error) {
	var cols []string
	var pks []string

	for _, col := range table.Columns {
		sqlType, ok := columnTypes[col.Type]
		if !ok {
			return "", fmt.Errorf("table %s: unknown column type %q", table.Name, col.Type)
		}

		def := fmt.Sprintf("%s %s", quoteIdent(col.Name), sqlType)
		if col.NotNull || col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.Default != "" {
			def += " DEFAULT " + col.Default
		}
		cols = append(cols, def)

		if col.PrimaryKey {
			pks = append(pks, quoteIdent(col.Name))
		}
	}

	if len(pks) > 0 {
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(pks, ", ")))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);",
		quoteIdent(table.Name), strings.Join(cols, ",\n  ")), nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}
