// Package diff computes and classifies the difference between two
// normalized table schemas, deciding whether a row-by-row shadow copy
// is well-defined and allowed by policy.
package diff

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/nethalo/tableshift/internal/schema"
)

// Classification is the overall verdict for a schema change.
type Classification int

const (
	// Identical: canonical forms match, nothing to do.
	Identical Classification = iota
	// SafeCopy: a lossless INSERT ... SELECT projection exists.
	SafeCopy
	// Unsafe: at least one column needs a lossy or implicit conversion.
	Unsafe
	// Rejected: disallowed by policy.
	Rejected
)

func (c Classification) String() string {
	switch c {
	case Identical:
		return "identical"
	case SafeCopy:
		return "safe-copy"
	case Unsafe:
		return "unsafe"
	default:
		return "rejected"
	}
}

// ChangeKind tags one entry of the ordered diff.
type ChangeKind int

const (
	ColumnAdd ChangeKind = iota
	ColumnDrop
	ColumnModify
	IndexAdd
	IndexDrop
	OptionChange
	PartitionChange
)

func (k ChangeKind) String() string {
	switch k {
	case ColumnAdd:
		return "add column"
	case ColumnDrop:
		return "drop column"
	case ColumnModify:
		return "modify column"
	case IndexAdd:
		return "add index"
	case IndexDrop:
		return "drop index"
	case OptionChange:
		return "option change"
	default:
		return "partition change"
	}
}

// Change is one entry of the ordered diff.
type Change struct {
	Kind   ChangeKind
	Name   string
	Detail string
}

// Options are the policy switches influencing classification.
type Options struct {
	AllowNoPK           bool
	AllowNewPK          bool
	EliminateDups       bool
	FailForImplicitConv bool
	NoEngineCheck       bool
}

// Result is the immutable outcome of a diff.
type Result struct {
	Classification Classification
	Changes        []Change
	Reasons        []string
	// Projection is the ordered list of column names shared between old
	// and new, used to populate the shadow table. Generated columns are
	// excluded; they are recomputed on load.
	Projection []string
}

// Rejection reason tags surfaced to the user.
const (
	ReasonNoPK                    = "NoPrimaryOrUniqueKey"
	ReasonNewPK                   = "PrimaryKeyChange"
	ReasonCollationChangeCollision = "CollationChangeCollision"
	ReasonImplicitConversion      = "ImplicitConversion"
	ReasonEngineMismatch          = "EngineMismatch"
	ReasonUnsupportedSchema       = "UnsupportedSchema"
)

// integerRank orders integer types by width for narrowing detection.
var integerRank = map[string]int{
	"tinyint":   1,
	"smallint":  2,
	"mediumint": 3,
	"int":       4,
	"bigint":    5,
}

// Compute diffs old against new and classifies the change following the
// policy rules in order: key policy, collation policy, conversion policy,
// engine policy.
func Compute(old, new *schema.Table, opts Options) *Result {
	if old.SemanticallyEqual(new) {
		return &Result{Classification: Identical, Projection: projection(old, new)}
	}

	res := &Result{Projection: projection(old, new)}
	res.Changes = orderedChanges(old, new)

	// Rule 1: the new table must keep a primary or unique key.
	if new.UniqueKey() == nil && !opts.AllowNoPK {
		return reject(res, ReasonNoPK,
			"new schema has no primary or unique key")
	}

	// Rule 2: changing the primary key needs an explicit opt-in.
	if !sameKey(old.PrimaryKey(), new.PrimaryKey()) && !opts.AllowNewPK {
		return reject(res, ReasonNewPK,
			"primary key differs between old and new schema")
	}

	// The open question on CHECK constraints and stored generated columns
	// is resolved by refusing them instead of silently dropping.
	if len(new.Checks) > 0 {
		return reject(res, ReasonUnsupportedSchema,
			"new schema declares CHECK constraints")
	}
	for _, c := range new.Columns {
		if c.IsGenerated() && c.GeneratedStored {
			return reject(res, ReasonUnsupportedSchema,
				fmt.Sprintf("stored generated column %q", c.Name))
		}
	}

	// Rule 3: changing the collation of a key column reinterprets the
	// equivalence classes its unique index is built on, so previously
	// distinct rows may collide. Only allowed with eliminate-dups.
	keyCols := keyColumnSet(old)
	for name := range keyColumnSet(new) {
		keyCols[name] = true
	}
	var implicit []string
	for _, oldCol := range old.Columns {
		newCol := new.Column(oldCol.Name)
		if newCol == nil {
			continue
		}
		if collationCollapses(oldCol, newCol, keyCols) && !opts.EliminateDups {
			return reject(res, ReasonCollationChangeCollision,
				fmt.Sprintf("column %q: collation %s -> %s can collapse distinct values",
					oldCol.Name, oldCol.Collation, newCol.Collation))
		}
		if msg := implicitConversion(oldCol, newCol, opts); msg != "" {
			implicit = append(implicit, msg)
		}
	}

	// Rule 4: implicit conversions are fatal when asked to be.
	if len(implicit) > 0 && opts.FailForImplicitConv {
		res.Reasons = append(res.Reasons, ReasonImplicitConversion)
		res.Reasons = append(res.Reasons, implicit...)
		res.Classification = Rejected
		return res
	}

	// Rule 5: engine changes need an explicit override.
	if !strings.EqualFold(old.Engine, new.Engine) && !opts.NoEngineCheck {
		return reject(res, ReasonEngineMismatch,
			fmt.Sprintf("engine %s -> %s", old.Engine, new.Engine))
	}

	if len(implicit) > 0 {
		res.Reasons = append(res.Reasons, implicit...)
		res.Classification = Unsafe
		return res
	}
	res.Classification = SafeCopy
	return res
}

func reject(res *Result, reason, detail string) *Result {
	res.Classification = Rejected
	res.Reasons = append(res.Reasons, reason, detail)
	return res
}

// projection lists the columns shared by old and new, in new order,
// excluding generated columns.
func projection(old, new *schema.Table) []string {
	var cols []string
	for _, c := range new.Columns {
		if c.IsGenerated() {
			continue
		}
		if src := old.Column(c.Name); src != nil && !src.IsGenerated() {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

func sameKey(a, b *schema.Index) bool {
	if a == nil || b == nil {
		return a == b
	}
	return reflect.DeepEqual(a.Columns, b.Columns)
}

// keyColumnSet collects every column participating in a primary or
// unique index.
func keyColumnSet(t *schema.Table) map[string]bool {
	cols := make(map[string]bool)
	for _, idx := range t.Indexes {
		if idx.Kind != schema.IndexPrimary && idx.Kind != schema.IndexUnique {
			continue
		}
		for _, ic := range idx.Columns {
			cols[ic.Name] = true
		}
	}
	return cols
}

// collationCollapses reports whether the column's collation change can
// merge values a unique index needs to keep distinct. Collation changes
// on non-key columns are metadata-only and always safe.
func collationCollapses(oldCol, newCol *schema.Column, keyCols map[string]bool) bool {
	if oldCol.Collation == "" || newCol.Collation == "" {
		return false
	}
	if oldCol.Collation == newCol.Collation {
		return false
	}
	return keyCols[oldCol.Name]
}

// implicitConversion describes a lossy or implicit conversion between
// the two column definitions, or "" when the copy is lossless.
func implicitConversion(oldCol, newCol *schema.Column, opts Options) string {
	oldRank, oldIsInt := integerRank[oldCol.Type]
	newRank, newIsInt := integerRank[newCol.Type]
	switch {
	case oldIsInt && newIsInt:
		if newRank < oldRank {
			return fmt.Sprintf("column %q: narrowing %s -> %s",
				oldCol.Name, oldCol.Type, newCol.Type)
		}
		if oldCol.Unsigned && !newCol.Unsigned && newRank <= oldRank {
			return fmt.Sprintf("column %q: unsigned %s -> signed %s",
				oldCol.Name, oldCol.Type, newCol.Type)
		}
	case oldCol.Type != newCol.Type && (oldIsInt || newIsInt):
		return fmt.Sprintf("column %q: type %s -> %s",
			oldCol.Name, oldCol.Type, newCol.Type)
	}

	switch oldCol.Type {
	case "varchar", "char":
		if newCol.Type == oldCol.Type && newCol.Length >= 0 &&
			oldCol.Length >= 0 && newCol.Length < oldCol.Length &&
			!opts.EliminateDups {
			return fmt.Sprintf("column %q: %s(%d) -> %s(%d) truncates",
				oldCol.Name, oldCol.Type, oldCol.Length, newCol.Type, newCol.Length)
		}
	}

	if oldCol.Charset != "" && newCol.Charset != "" &&
		oldCol.Charset != newCol.Charset &&
		!charsetWidens(oldCol.Charset, newCol.Charset) {
		return fmt.Sprintf("column %q: charset %s -> %s",
			oldCol.Name, oldCol.Charset, newCol.Charset)
	}
	return ""
}

// charsetWidens reports whether every code point of the source charset
// is representable in the target.
func charsetWidens(from, to string) bool {
	switch {
	case to == "utf8mb4":
		return true
	case (to == "utf8" || to == "utf8mb3") && (from == "ascii" || from == "latin1"):
		return true
	default:
		return false
	}
}

// orderedChanges builds the ordered change list: columns first, then
// indexes, then options, then partitioning.
func orderedChanges(old, new *schema.Table) []Change {
	var changes []Change
	for _, c := range old.Columns {
		if new.Column(c.Name) == nil {
			changes = append(changes, Change{Kind: ColumnDrop, Name: c.Name})
		}
	}
	for _, c := range new.Columns {
		oldCol := old.Column(c.Name)
		switch {
		case oldCol == nil:
			changes = append(changes, Change{Kind: ColumnAdd, Name: c.Name, Detail: c.ToSQL()})
		case !reflect.DeepEqual(oldCol, c):
			changes = append(changes, Change{Kind: ColumnModify, Name: c.Name, Detail: c.ToSQL()})
		}
	}

	oldIdx := indexByName(old)
	newIdx := indexByName(new)
	for _, idx := range old.Indexes {
		if _, ok := newIdx[idx.Name]; !ok {
			changes = append(changes, Change{Kind: IndexDrop, Name: idx.Name})
		}
	}
	for _, idx := range new.Indexes {
		prev, ok := oldIdx[idx.Name]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: IndexAdd, Name: idx.Name, Detail: idx.ToSQL()})
		case !reflect.DeepEqual(prev, idx):
			changes = append(changes,
				Change{Kind: IndexDrop, Name: idx.Name},
				Change{Kind: IndexAdd, Name: idx.Name, Detail: idx.ToSQL()})
		}
	}

	for _, opt := range [][3]string{
		{"engine", old.Engine, new.Engine},
		{"charset", old.Charset, new.Charset},
		{"collate", old.Collation, new.Collation},
		{"row_format", old.RowFormat, new.RowFormat},
		{"comment", old.Comment, new.Comment},
	} {
		if !strings.EqualFold(opt[1], opt[2]) {
			changes = append(changes, Change{
				Kind: OptionChange, Name: opt[0],
				Detail: fmt.Sprintf("%s -> %s", opt[1], opt[2]),
			})
		}
	}

	if !reflect.DeepEqual(old.Partition, new.Partition) {
		changes = append(changes, Change{Kind: PartitionChange, Name: new.Name})
	}
	return changes
}

func indexByName(t *schema.Table) map[string]*schema.Index {
	m := make(map[string]*schema.Index, len(t.Indexes))
	for _, idx := range t.Indexes {
		m[idx.Name] = idx
	}
	return m
}
