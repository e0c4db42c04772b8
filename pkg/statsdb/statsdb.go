// Package statsdb persists scan-history rows — one summary row per scan and
// one outcome row per rule — to a SQLite database, grounded on
// pkg/store/sqlite.go and pkg/store/schema.go's schema-migration idiom.
// This is ambient/domain-stack tooling (§1 places persistence out of the
// scan core proper); scans run identically with or without a sink wired in.
package statsdb

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/scanforge/yaracore/pkg/scanner"
)

// SchemaVersion is the current statsdb schema version.
const SchemaVersion = 1

// DB persists scan outcomes.
type DB struct {
	db *sql.DB
}

// Open opens (creating if necessary) a statsdb database at path. Use
// ":memory:" for an ephemeral in-process database, handy in tests and for
// one-off CLI invocations that don't want a file left behind.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("statsdb: opening database: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("statsdb: creating schema: %w", err)
	}
	return &DB{db: db}, nil
}

func createSchema(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)
	`); err != nil {
		return err
	}
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count); err != nil {
		return err
	}
	if count == 0 {
		if _, err := db.Exec("INSERT INTO schema_version (version) VALUES (?)", SchemaVersion); err != nil {
			return err
		}
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scans (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			total_rules INTEGER NOT NULL,
			matched_rules INTEGER NOT NULL,
			aborted INTEGER NOT NULL
		)
	`); err != nil {
		return err
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS rule_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			scan_id INTEGER NOT NULL REFERENCES scans(id),
			rule_id TEXT NOT NULL,
			namespace TEXT NOT NULL,
			matched INTEGER NOT NULL
		)
	`)
	return err
}

// RecordScan persists one scan's outcome and returns its row id.
func (d *DB) RecordScan(source string, result *scanner.ScanResult) (int64, error) {
	abortedInt := 0
	if result.Aborted {
		abortedInt = 1
	}

	res, err := d.db.Exec(
		`INSERT INTO scans (source, total_rules, matched_rules, aborted) VALUES (?, ?, ?, ?)`,
		source, result.Summary.TotalRules, result.Summary.MatchedRules, abortedInt,
	)
	if err != nil {
		return 0, fmt.Errorf("statsdb: inserting scan: %w", err)
	}
	scanID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("statsdb: reading scan id: %w", err)
	}

	for _, rr := range result.Results {
		matchedInt := 0
		if rr.Matched {
			matchedInt = 1
		}
		if _, err := d.db.Exec(
			`INSERT INTO rule_results (scan_id, rule_id, namespace, matched) VALUES (?, ?, ?, ?)`,
			scanID, rr.RuleID, rr.Namespace, matchedInt,
		); err != nil {
			return scanID, fmt.Errorf("statsdb: inserting rule result for %q: %w", rr.RuleID, err)
		}
	}

	return scanID, nil
}

// MatchedRuleIDsFor returns the rule IDs that matched in a given scan.
func (d *DB) MatchedRuleIDsFor(scanID int64) ([]string, error) {
	rows, err := d.db.Query(`SELECT rule_id FROM rule_results WHERE scan_id = ? AND matched = 1`, scanID)
	if err != nil {
		return nil, fmt.Errorf("statsdb: querying rule results: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("statsdb: scanning rule result: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}
