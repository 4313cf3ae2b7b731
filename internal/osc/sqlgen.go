package osc

import (
	"fmt"
	"strings"

	"github.com/nethalo/tableshift/internal/schema"
	"github.com/nethalo/tableshift/internal/session"
)

// createShadowTableSQL renders the new schema under the shadow name.
func createShadowTableSQL(newTable *schema.Table, shadowName string) string {
	clone := *newTable
	clone.Name = shadowName
	return clone.ToSQL()
}

// createDeltaTableSQL builds the change-capture log: an auto-increment
// id assigning the total order, the DML type, the primary-key columns of
// the source copied by value, and a timestamp for observability only.
func createDeltaTableSQL(deltaName string, pkCols []*schema.Column) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE " + session.Quote(deltaName) + " (")
	b.WriteString(session.Quote(deltaIDCol) + " BIGINT UNSIGNED NOT NULL AUTO_INCREMENT, ")
	b.WriteString(session.Quote(deltaTypeCol) + " TINYINT NOT NULL, ")
	for _, col := range pkCols {
		b.WriteString(session.Quote(col.Name) + " " + col.TypeSQL())
		if !col.Nullable {
			b.WriteString(" NOT NULL")
		}
		b.WriteString(", ")
	}
	b.WriteString(session.Quote(deltaTSCol) + " TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP, ")
	b.WriteString("PRIMARY KEY (" + session.Quote(deltaIDCol) + ")")
	b.WriteString(") ENGINE=InnoDB")
	return b.String()
}

// pkMatchClause builds "`L`.`c` = `R`.`c` AND ..." for trigger bodies.
func pkMatchClause(left, right string, pkList []string, separator string) string {
	parts := make([]string, len(pkList))
	for i, col := range pkList {
		parts[i] = session.Quote(left) + "." + session.Quote(col) +
			" = " + session.Quote(right) + "." + session.Quote(col)
	}
	return strings.Join(parts, separator)
}

// createInsertTriggerSQL records the new PK after each insert.
func createInsertTriggerSQL(n Names, pkList []string) string {
	return fmt.Sprintf(
		"CREATE TRIGGER %s AFTER INSERT ON %s FOR EACH ROW "+
			"INSERT INTO %s (%s, %s) VALUES (%d, %s)",
		session.Quote(n.TriggerIns), session.Quote(n.Table),
		session.Quote(n.Delta),
		session.Quote(deltaTypeCol), session.QuoteList(pkList),
		dmlInsert, session.QuotePrefixed("NEW", pkList))
}

// createDeleteTriggerSQL records the old PK after each delete.
func createDeleteTriggerSQL(n Names, pkList []string) string {
	return fmt.Sprintf(
		"CREATE TRIGGER %s AFTER DELETE ON %s FOR EACH ROW "+
			"INSERT INTO %s (%s, %s) VALUES (%d, %s)",
		session.Quote(n.TriggerDel), session.Quote(n.Table),
		session.Quote(n.Delta),
		session.Quote(deltaTypeCol), session.QuoteList(pkList),
		dmlDelete, session.QuotePrefixed("OLD", pkList))
}

// createUpdateTriggerSQL records a single update-new row when the PK is
// unchanged; a PK-changing update decomposes into delete-old plus
// insert-new so replay converges from the source state.
func createUpdateTriggerSQL(n Names, pkList []string) string {
	return fmt.Sprintf(
		"CREATE TRIGGER %s AFTER UPDATE ON %s FOR EACH ROW "+
			"IF (%s) THEN "+
			"INSERT INTO %s (%s, %s) VALUES (%d, %s); "+
			"ELSE "+
			"INSERT INTO %s (%s, %s) VALUES (%d, %s), (%d, %s); "+
			"END IF",
		session.Quote(n.TriggerUpd), session.Quote(n.Table),
		pkMatchClause("OLD", "NEW", pkList, " AND "),
		session.Quote(n.Delta),
		session.Quote(deltaTypeCol), session.QuoteList(pkList),
		dmlUpdate, session.QuotePrefixed("NEW", pkList),
		session.Quote(n.Delta),
		session.Quote(deltaTypeCol), session.QuoteList(pkList),
		dmlDelete, session.QuotePrefixed("OLD", pkList),
		dmlInsert, session.QuotePrefixed("NEW", pkList))
}

// Chunk boundaries travel through two session-variable sets: the dump
// statement assigns the chunk-end PK into the end vars while its WHERE
// reads the start vars, and a refresh between chunks copies end into
// start. One shared set would be read and written inside the same
// statement, which MySQL leaves undefined.

// rangeStartVar names the session variable holding boundary column i of
// the previous chunk.
func rangeStartVar(i int) string {
	return fmt.Sprintf("@tableshift_range_start_%d", i)
}

// rangeEndVar names the session variable the dump assigns boundary
// column i into.
func rangeEndVar(i int) string {
	return fmt.Sprintf("@tableshift_range_end_%d", i)
}

// refreshRangeStartSQL copies the end vars into the start vars.
func refreshRangeStartSQL(pkCount int) string {
	ends := make([]string, pkCount)
	starts := make([]string, pkCount)
	for i := 0; i < pkCount; i++ {
		ends[i] = rangeEndVar(i)
		starts[i] = rangeStartVar(i)
	}
	return "SELECT " + strings.Join(ends, ", ") + " INTO " + strings.Join(starts, ", ")
}

// rangeStartCondition expands the lexicographic tuple comparison
// (pk1, pk2, ...) > (v1, v2, ...) into index-friendly conjunctions:
// (pk1 > v1) OR (pk1 = v1 AND pk2 > v2) OR ...
func rangeStartCondition(pkList []string) string {
	var terms []string
	for i := range pkList {
		var clauses []string
		for j := 0; j < i; j++ {
			clauses = append(clauses,
				fmt.Sprintf("%s = %s", session.Quote(pkList[j]), rangeStartVar(j)))
		}
		clauses = append(clauses,
			fmt.Sprintf("%s > %s", session.Quote(pkList[i]), rangeStartVar(i)))
		terms = append(terms, "( "+strings.Join(clauses, " AND ")+" )")
	}
	return strings.Join(terms, " OR ")
}

// selectChunkIntoOutfileSQL dumps one PK-ordered chunk into an outfile,
// assigning the chunk-end PK into session variables as a side effect.
// indexName pins the scan to the chunk key's index; empty means no
// FORCE INDEX (keyless tables).
func selectChunkIntoOutfileSQL(
	n Names, indexName string, pkList, nonPKList []string,
	chunkSize int64, useRange bool, additionalWhere string,
) string {
	assigns := make([]string, len(pkList))
	for i, col := range pkList {
		assigns[i] = fmt.Sprintf("%s:=%s", rangeEndVar(i), session.Quote(col))
	}
	colList := strings.Join(assigns, ", ")
	if len(nonPKList) > 0 {
		colList += ", " + session.QuoteList(nonPKList)
	}

	var where []string
	if useRange {
		where = append(where, "( "+rangeStartCondition(pkList)+" )")
	}
	if additionalWhere != "" {
		where = append(where, "( "+additionalWhere+" )")
	}
	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	forceIndex := ""
	if indexName != "" {
		forceIndex = " FORCE INDEX (" + session.Quote(indexName) + ")"
	}
	return fmt.Sprintf(
		"SELECT %s FROM %s%s%s ORDER BY %s LIMIT %d INTO OUTFILE ?",
		colList, session.Quote(n.Table), forceIndex, whereClause,
		session.QuoteList(pkList), chunkSize)
}


// loadChunkSQL loads an outfile into the shadow table. With
// eliminate-dups, duplicate-key conflicts resolve with REPLACE
// semantics; otherwise they are fatal.
func loadChunkSQL(n Names, columns []string, eliminateDups bool) string {
	mode := ""
	if eliminateDups {
		mode = "REPLACE "
	}
	return fmt.Sprintf(
		"LOAD DATA INFILE ? %sINTO TABLE %s CHARACTER SET binary (%s)",
		mode, session.Quote(n.Shadow), session.QuoteList(columns))
}

// pkEqualsPlaceholders builds "`pk1` <=> ? AND `pk2` <=> ?". Null-safe
// equality, since a unique chunk key may contain nullable columns.
func pkEqualsPlaceholders(pkList []string) string {
	parts := make([]string, len(pkList))
	for i, col := range pkList {
		parts[i] = session.Quote(col) + " <=> ?"
	}
	return strings.Join(parts, " AND ")
}

// replayReplaceSQL re-reads the current source row and writes it into
// the shadow table. Safe to run ahead of the copier: REPLACE is
// deterministic against the chunk loads.
func replayReplaceSQL(n Names, projection, pkList []string) string {
	return fmt.Sprintf(
		"REPLACE INTO %s (%s) SELECT %s FROM %s WHERE %s",
		session.Quote(n.Shadow), session.QuoteList(projection),
		session.QuoteList(projection), session.Quote(n.Table),
		pkEqualsPlaceholders(pkList))
}

// replayDeleteSQL removes a row from the shadow table by PK.
func replayDeleteSQL(n Names, pkList []string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s",
		session.Quote(n.Shadow), pkEqualsPlaceholders(pkList))
}

// fetchDeltaBatchSQL streams the next batch of captured changes above
// the high-water mark, in chg_id order.
func fetchDeltaBatchSQL(n Names, pkList []string, batchSize int64) string {
	return fmt.Sprintf(
		"SELECT %s, %s, %s FROM %s WHERE %s > ? ORDER BY %s LIMIT %d",
		session.Quote(deltaIDCol), session.Quote(deltaTypeCol),
		session.QuoteList(pkList), session.Quote(n.Delta),
		session.Quote(deltaIDCol), session.Quote(deltaIDCol), batchSize)
}

// countDeltaTailSQL counts unconsumed changes above the high-water mark.
func countDeltaTailSQL(n Names) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s > ?",
		session.Quote(n.Delta), session.Quote(deltaIDCol))
}

// purgeDeltaSQL deletes already-consumed changes.
func purgeDeltaSQL(n Names) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s <= ?",
		session.Quote(n.Delta), session.Quote(deltaIDCol))
}

// swapTablesSQL atomically renames source to old and shadow to source.
func swapTablesSQL(n Names) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
		session.Quote(n.Table), session.Quote(n.Old),
		session.Quote(n.Shadow), session.Quote(n.Table))
}

func dropTableSQL(name string) string {
	return "DROP TABLE IF EXISTS " + session.Quote(name)
}

func dropTriggerSQL(name string) string {
	return "DROP TRIGGER IF EXISTS " + session.Quote(name)
}

func analyzeTableSQL(name string) string {
	return "ANALYZE TABLE " + session.Quote(name)
}
