package schema

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"vitess.io/vitess/go/vt/sqlparser"

	"github.com/nethalo/tableshift/internal/oscerr"
)

// Pre-pass regex: MySQL wraps partition clauses (and some options) in
// version-gated comments like /*!50100 PARTITION BY HASH(id) */ in
// SHOW CREATE TABLE output. Vitess skips the whole comment, so we unwrap
// the payload before parsing.
var reVersionComment = regexp.MustCompile(`(?s)/\*!\d{5}\s?(.*?)\*/`)

var (
	parserOnce      sync.Once
	globalParser    *sqlparser.Parser
	globalParserErr error
)

func getParser() (*sqlparser.Parser, error) {
	parserOnce.Do(func() {
		globalParser, globalParserErr = sqlparser.New(sqlparser.Options{})
	})
	return globalParser, globalParserErr
}

// charsetDefaultCollation maps a character set to its default collation.
// Covers the charsets we expect to meet on 5.7/8.0 servers.
var charsetDefaultCollation = map[string]string{
	"latin1":  "latin1_swedish_ci",
	"utf8":    "utf8_general_ci",
	"utf8mb3": "utf8mb3_general_ci",
	"utf8mb4": "utf8mb4_general_ci",
	"binary":  "binary",
	"ascii":   "ascii_general_ci",
	"ucs2":    "ucs2_general_ci",
	"utf16":   "utf16_general_ci",
	"utf32":   "utf32_general_ci",
}

// integer types whose display width is dropped during normalization,
// so that int(11) and int compare equal.
var integerTypes = map[string]bool{
	"tinyint":   true,
	"smallint":  true,
	"mediumint": true,
	"int":       true,
	"integer":   true,
	"bigint":    true,
}

// stringTypes participate in charset/collation resolution.
var stringTypes = map[string]bool{
	"char": true, "varchar": true,
	"tinytext": true, "text": true, "mediumtext": true, "longtext": true,
	"enum": true, "set": true,
}

// Parse turns a CREATE TABLE statement into a normalized Table. The input
// may contain multiple statements (as dump files often do); statements
// other than CREATE TABLE are skipped, and exactly one CREATE TABLE must
// remain.
func Parse(input string) (*Table, error) {
	input = reVersionComment.ReplaceAllString(input, "$1")

	p, err := getParser()
	if err != nil {
		return nil, oscerr.Wrap(oscerr.ParseError, err, "creating parser")
	}

	var create *sqlparser.CreateTable
	for _, stmt := range SplitStatements(input) {
		parsed, err := p.Parse(stmt)
		if err != nil {
			return nil, positionedParseError(stmt, err)
		}
		ct, ok := parsed.(*sqlparser.CreateTable)
		if !ok {
			continue
		}
		if create != nil {
			return nil, oscerr.New(oscerr.ParseError,
				"more than one CREATE TABLE statement in input")
		}
		create = ct
	}
	if create == nil {
		return nil, oscerr.New(oscerr.ParseError,
			"no CREATE TABLE statement found in input")
	}
	if create.TableSpec == nil {
		return nil, oscerr.New(oscerr.ParseError,
			"CREATE TABLE ... LIKE/AS is not supported")
	}
	return fromCreateTable(create)
}

// SplitStatements splits SQL text on semicolons outside single-quoted
// strings and backticked identifiers.
func SplitStatements(input string) []string {
	var stmts []string
	var current strings.Builder
	var inQuote, inIdent bool
	for i := 0; i < len(input); i++ {
		c := input[i]
		switch {
		case c == '\'' && !inIdent:
			if inQuote && i+1 < len(input) && input[i+1] == '\'' {
				current.WriteByte(c)
				current.WriteByte(c)
				i++
				continue
			}
			inQuote = !inQuote
			current.WriteByte(c)
		case c == '`' && !inQuote:
			inIdent = !inIdent
			current.WriteByte(c)
		case c == ';' && !inQuote && !inIdent:
			if s := strings.TrimSpace(current.String()); s != "" {
				stmts = append(stmts, s)
			}
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		stmts = append(stmts, s)
	}
	return stmts
}

// rePosition finds the byte offset in a parse error message that no
// longer carries the PositionedErr type.
var rePosition = regexp.MustCompile(`at position (\d+)`)

// positionedParseError converts a vitess parse failure into a ParseError
// with a line/column computed from the byte offset, taken from a
// PositionedErr or else from the "at position N" text of the message.
func positionedParseError(stmt string, err error) error {
	line, col := 1, 1
	pos := 0
	var perr sqlparser.PositionedErr
	if errors.As(err, &perr) {
		pos = perr.Pos
	} else if m := rePosition.FindStringSubmatch(err.Error()); m != nil {
		pos, _ = strconv.Atoi(m[1])
	}
	if pos > 0 {
		for _, r := range stmt[:min(pos-1, len(stmt))] {
			if r == '\n' {
				line++
				col = 1
			} else {
				col++
			}
		}
	}
	return oscerr.NewParse(line, col, "%v", err)
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func fromCreateTable(create *sqlparser.CreateTable) (*Table, error) {
	t := &Table{Name: create.Table.Name.String()}
	spec := create.TableSpec

	for _, opt := range spec.Options {
		val := opt.String
		if val == "" && opt.Value != nil {
			val = opt.Value.Val
		}
		switch strings.ToUpper(opt.Name) {
		case "ENGINE":
			t.Engine = val
		case "CHARSET", "CHARACTER SET":
			t.Charset = strings.ToLower(val)
		case "COLLATE":
			t.Collation = strings.ToLower(val)
		case "ROW_FORMAT":
			t.RowFormat = strings.ToUpper(val)
		case "COMMENT":
			t.Comment = val
		}
	}
	resolveTableCharset(t)

	for _, col := range spec.Columns {
		c, err := fromColumnDefinition(col, t)
		if err != nil {
			return nil, err
		}
		t.Columns = append(t.Columns, c)
		if col.Type.Options != nil {
			switch col.Type.Options.KeyOpt {
			case sqlparser.ColKeyPrimary:
				t.Indexes = append(t.Indexes, &Index{
					Name:    "PRIMARY",
					Kind:    IndexPrimary,
					Columns: []IndexColumn{{Name: c.Name}},
				})
			case sqlparser.ColKeyUnique, sqlparser.ColKeyUniqueKey:
				t.Indexes = append(t.Indexes, &Index{
					Name:    c.Name,
					Kind:    IndexUnique,
					Columns: []IndexColumn{{Name: c.Name}},
				})
			}
		}
	}

	for _, idx := range spec.Indexes {
		t.Indexes = append(t.Indexes, fromIndexDefinition(idx))
	}

	for _, cons := range spec.Constraints {
		switch details := cons.Details.(type) {
		case *sqlparser.CheckConstraintDefinition:
			t.Checks = append(t.Checks, sqlparser.String(details.Expr))
		case *sqlparser.ForeignKeyDefinition:
			return nil, oscerr.New(oscerr.ValidationError,
				"foreign key %q is not supported for online schema change",
				cons.Name.String())
		}
	}

	if create.TableSpec.PartitionOption != nil {
		t.Partition = fromPartitionOption(create.TableSpec.PartitionOption)
	}
	return t, nil
}

func fromColumnDefinition(col *sqlparser.ColumnDefinition, t *Table) (*Column, error) {
	c := &Column{
		Name:     col.Name.String(),
		Type:     strings.ToLower(col.Type.Type),
		Length:   -1,
		Scale:    -1,
		Unsigned: col.Type.Unsigned,
		Nullable: true,
	}
	if col.Type.Length != nil {
		c.Length = *col.Type.Length
	}
	if col.Type.Scale != nil {
		c.Scale = *col.Type.Scale
	}
	for _, v := range col.Type.EnumValues {
		c.EnumValues = append(c.EnumValues, v)
	}

	// Integer display widths carry no semantics; dropping them makes
	// int(11) and int canonically equal.
	if integerTypes[c.Type] {
		c.Length = -1
	}
	if c.Type == "integer" {
		c.Type = "int"
	}

	if opts := col.Type.Options; opts != nil {
		if opts.Null != nil {
			c.Nullable = *opts.Null
		}
		if opts.Default != nil {
			d := sqlparser.String(opts.Default)
			c.Default = &d
		}
		if opts.OnUpdate != nil {
			c.OnUpdate = sqlparser.String(opts.OnUpdate)
		}
		c.AutoIncrement = opts.Autoincrement
		if opts.As != nil {
			c.GeneratedExpr = sqlparser.String(opts.As)
			c.GeneratedStored = opts.Storage == sqlparser.StoredStorage
		}
		if opts.Comment != nil {
			c.Comment = opts.Comment.Val
		}
		if opts.Collate != "" {
			c.Collation = strings.ToLower(opts.Collate)
		}
	}
	if col.Type.Charset.Name != "" {
		c.Charset = strings.ToLower(col.Type.Charset.Name)
	}

	if stringTypes[c.Type] {
		resolveColumnCharset(c, t)
	} else {
		c.Charset = ""
		c.Collation = ""
	}
	return c, nil
}

// resolveColumnCharset applies the collation resolution rules: a column
// with neither charset nor collation inherits both from the table; an
// explicit charset without a collation gets the charset's default
// collation; an explicit collation implies its charset.
func resolveColumnCharset(c *Column, t *Table) {
	if c.Charset == "" && c.Collation == "" {
		c.Charset, c.Collation = t.Charset, t.Collation
		return
	}
	if c.Charset == "" {
		c.Charset = charsetOfCollation(c.Collation)
	}
	if c.Collation == "" {
		c.Collation = charsetDefaultCollation[c.Charset]
	}
}

// resolveTableCharset fills the table charset/collation pair from
// whichever side was declared.
func resolveTableCharset(t *Table) {
	if t.Charset == "" && t.Collation != "" {
		t.Charset = charsetOfCollation(t.Collation)
	}
	if t.Collation == "" && t.Charset != "" {
		t.Collation = charsetDefaultCollation[t.Charset]
	}
}

// charsetOfCollation derives the charset from a collation name, e.g.
// latin1_general_cs -> latin1.
func charsetOfCollation(collation string) string {
	if idx := strings.IndexByte(collation, '_'); idx > 0 {
		return collation[:idx]
	}
	return collation
}

func fromIndexDefinition(idx *sqlparser.IndexDefinition) *Index {
	out := &Index{Name: idx.Info.Name.String()}
	switch idx.Info.Type {
	case sqlparser.IndexTypePrimary:
		out.Kind = IndexPrimary
		out.Name = "PRIMARY"
	case sqlparser.IndexTypeUnique:
		out.Kind = IndexUnique
	case sqlparser.IndexTypeFullText:
		out.Kind = IndexFullText
	case sqlparser.IndexTypeSpatial:
		out.Kind = IndexSpatial
	default:
		out.Kind = IndexNonUnique
	}
	for _, col := range idx.Columns {
		ic := IndexColumn{Name: col.Column.String()}
		if col.Length != nil {
			ic.Prefix = *col.Length
		}
		out.Columns = append(out.Columns, ic)
	}
	if out.Name == "" && len(out.Columns) > 0 && out.Kind != IndexPrimary {
		out.Name = out.Columns[0].Name
	}
	return out
}

func fromPartitionOption(opt *sqlparser.PartitionOption) *Partition {
	p := &Partition{Linear: opt.IsLinear}
	switch opt.Type {
	case sqlparser.HashType:
		p.Kind = PartitionHash
	case sqlparser.KeyType:
		p.Kind = PartitionKey
	case sqlparser.RangeType:
		p.Kind = PartitionRange
	case sqlparser.ListType:
		p.Kind = PartitionList
	}
	if opt.Expr != nil {
		p.Expr = sqlparser.String(opt.Expr)
	} else if len(opt.ColList) > 0 {
		names := make([]string, len(opt.ColList))
		for i, col := range opt.ColList {
			names[i] = col.String()
		}
		p.Expr = strings.Join(names, ", ")
	}
	if opt.Partitions != 0 {
		p.Num = opt.Partitions
	}
	for _, def := range opt.Definitions {
		p.Definitions = append(p.Definitions, sqlparser.String(def))
	}
	return p
}
