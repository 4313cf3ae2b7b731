package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nethalo/tableshift/internal/session"
)

// IndexKind classifies an index.
type IndexKind int

const (
	IndexPrimary IndexKind = iota
	IndexUnique
	IndexNonUnique
	IndexFullText
	IndexSpatial
)

func (k IndexKind) String() string {
	switch k {
	case IndexPrimary:
		return "PRIMARY KEY"
	case IndexUnique:
		return "UNIQUE KEY"
	case IndexFullText:
		return "FULLTEXT KEY"
	case IndexSpatial:
		return "SPATIAL KEY"
	default:
		return "KEY"
	}
}

// PartitionKind classifies a partitioning scheme.
type PartitionKind int

const (
	PartitionNone PartitionKind = iota
	PartitionRange
	PartitionList
	PartitionHash
	PartitionKey
)

func (k PartitionKind) String() string {
	switch k {
	case PartitionRange:
		return "RANGE"
	case PartitionList:
		return "LIST"
	case PartitionHash:
		return "HASH"
	case PartitionKey:
		return "KEY"
	default:
		return ""
	}
}

// Column is a normalized column definition.
type Column struct {
	Name          string
	Type          string // lowercase base type, e.g. "int", "varchar"
	Length        int    // -1 when the type carries no length
	Scale         int    // -1 when the type carries no scale
	Unsigned      bool
	Nullable      bool
	Default       *string // SQL literal or expression text, nil when absent
	OnUpdate      string
	AutoIncrement bool
	Charset       string // resolved, lowercase; empty for non-string types
	Collation     string // resolved, lowercase; empty for non-string types
	GeneratedExpr string
	GeneratedStored bool
	EnumValues    []string
	Comment       string
}

// IsGenerated reports whether the column has a generation expression.
func (c *Column) IsGenerated() bool { return c.GeneratedExpr != "" }

// IndexColumn is one column reference inside an index, with an optional
// prefix length (0 when absent).
type IndexColumn struct {
	Name   string
	Prefix int
}

// Index is a normalized index definition.
type Index struct {
	Name    string
	Kind    IndexKind
	Columns []IndexColumn
}

// ColumnNames returns the indexed column names in order.
func (i *Index) ColumnNames() []string {
	names := make([]string, len(i.Columns))
	for j, c := range i.Columns {
		names[j] = c.Name
	}
	return names
}

// Partition is a normalized partitioning descriptor.
type Partition struct {
	Kind        PartitionKind
	Linear      bool
	Expr        string   // expression or column list text
	Num         int      // PARTITIONS n, 0 when unspecified
	Definitions []string // formatted PARTITION ... clauses, in order
}

// Table is the normalized, immutable description of one table.
type Table struct {
	Name      string
	Columns   []*Column
	Indexes   []*Index
	Partition *Partition
	Engine    string
	Charset   string
	Collation string
	RowFormat string
	Comment   string
	Checks    []string // CHECK constraint expression texts
}

// Column returns the column with the given name, or nil.
func (t *Table) Column(name string) *Column {
	for _, c := range t.Columns {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ColumnNames returns all column names in definition order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// PrimaryKey returns the primary key index, or nil.
func (t *Table) PrimaryKey() *Index {
	for _, idx := range t.Indexes {
		if idx.Kind == IndexPrimary {
			return idx
		}
	}
	return nil
}

// UniqueKey returns the first unique index (primary preferred), or nil.
func (t *Table) UniqueKey() *Index {
	if pk := t.PrimaryKey(); pk != nil {
		return pk
	}
	for _, idx := range t.Indexes {
		if idx.Kind == IndexUnique {
			return idx
		}
	}
	return nil
}

// TypeSQL renders the column type with length/precision and modifiers.
func (c *Column) TypeSQL() string {
	var b strings.Builder
	b.WriteString(c.Type)
	switch {
	case len(c.EnumValues) > 0:
		b.WriteString("(")
		b.WriteString(strings.Join(c.EnumValues, ","))
		b.WriteString(")")
	case c.Length >= 0 && c.Scale >= 0:
		fmt.Fprintf(&b, "(%d,%d)", c.Length, c.Scale)
	case c.Length >= 0:
		fmt.Fprintf(&b, "(%d)", c.Length)
	}
	if c.Unsigned {
		b.WriteString(" unsigned")
	}
	return b.String()
}

// ToSQL renders the column definition.
func (c *Column) ToSQL() string {
	var b strings.Builder
	b.WriteString(session.Quote(c.Name))
	b.WriteString(" ")
	b.WriteString(c.TypeSQL())
	if c.Charset != "" {
		b.WriteString(" CHARACTER SET " + c.Charset)
	}
	if c.Collation != "" {
		b.WriteString(" COLLATE " + c.Collation)
	}
	if c.IsGenerated() {
		b.WriteString(" AS (" + c.GeneratedExpr + ")")
		if c.GeneratedStored {
			b.WriteString(" STORED")
		} else {
			b.WriteString(" VIRTUAL")
		}
	}
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.Default != nil {
		b.WriteString(" DEFAULT " + *c.Default)
	}
	if c.OnUpdate != "" {
		b.WriteString(" ON UPDATE " + c.OnUpdate)
	}
	if c.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}
	if c.Comment != "" {
		b.WriteString(" COMMENT '" + strings.ReplaceAll(c.Comment, "'", "''") + "'")
	}
	return b.String()
}

// ToSQL renders the index definition.
func (i *Index) ToSQL() string {
	var b strings.Builder
	b.WriteString(i.Kind.String())
	if i.Kind != IndexPrimary {
		b.WriteString(" " + session.Quote(i.Name))
	}
	parts := make([]string, len(i.Columns))
	for j, c := range i.Columns {
		if c.Prefix > 0 {
			parts[j] = fmt.Sprintf("%s(%d)", session.Quote(c.Name), c.Prefix)
		} else {
			parts[j] = session.Quote(c.Name)
		}
	}
	b.WriteString(" (" + strings.Join(parts, ", ") + ")")
	return b.String()
}

// ToSQL renders the partitioning clause, or "" for an unpartitioned table.
func (p *Partition) ToSQL() string {
	if p == nil || p.Kind == PartitionNone {
		return ""
	}
	var b strings.Builder
	b.WriteString("PARTITION BY ")
	if p.Linear {
		b.WriteString("LINEAR ")
	}
	b.WriteString(p.Kind.String())
	b.WriteString(" (" + p.Expr + ")")
	if len(p.Definitions) > 0 {
		b.WriteString(" (" + strings.Join(p.Definitions, ", ") + ")")
	} else if p.Num > 0 {
		fmt.Fprintf(&b, " PARTITIONS %d", p.Num)
	}
	return b.String()
}

// ToSQL renders a complete CREATE TABLE statement for the table.
func (t *Table) ToSQL() string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + session.Quote(t.Name) + " (\n")
	var defs []string
	for _, c := range t.Columns {
		defs = append(defs, "  "+c.ToSQL())
	}
	for _, i := range t.Indexes {
		defs = append(defs, "  "+i.ToSQL())
	}
	for _, chk := range t.Checks {
		defs = append(defs, "  CHECK ("+chk+")")
	}
	b.WriteString(strings.Join(defs, ",\n"))
	b.WriteString("\n)")
	if t.Engine != "" {
		b.WriteString(" ENGINE=" + t.Engine)
	}
	if t.Charset != "" {
		b.WriteString(" DEFAULT CHARSET=" + t.Charset)
	}
	if t.Collation != "" {
		b.WriteString(" COLLATE=" + t.Collation)
	}
	if t.RowFormat != "" {
		b.WriteString(" ROW_FORMAT=" + t.RowFormat)
	}
	if t.Comment != "" {
		b.WriteString(" COMMENT='" + strings.ReplaceAll(t.Comment, "'", "''") + "'")
	}
	if ps := t.Partition.ToSQL(); ps != "" {
		b.WriteString("\n" + ps)
	}
	return b.String()
}

// Canonical returns the canonical form used for semantic comparison:
// indexes sorted by name, type spellings already normalized by the parser,
// charset/collation resolved, partition clause normalized.
func (t *Table) Canonical() string {
	clone := *t
	clone.Indexes = append([]*Index(nil), t.Indexes...)
	sort.SliceStable(clone.Indexes, func(i, j int) bool {
		return clone.Indexes[i].Name < clone.Indexes[j].Name
	})
	return clone.ToSQL()
}

// WithoutPartition returns a copy of the table with the partitioning
// clause stripped.
func (t *Table) WithoutPartition() *Table {
	clone := *t
	clone.Partition = nil
	return &clone
}

// SemanticallyEqual reports whether two tables have byte-identical
// canonical forms.
func (t *Table) SemanticallyEqual(other *Table) bool {
	if t == nil || other == nil {
		return t == other
	}
	return t.Canonical() == other.Canonical()
}
