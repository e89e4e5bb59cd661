package downstream

import (
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/mariadb-corp/nosqlbridge/internal/replication"
)

// Catalog is the upstream metadata collaborator: it answers the
// SHOW CREATE TABLE bootstrap query (internal/replication.SchemaFetcher,
// §4.9) and the full-catalog listing Supervisor's load_metadata uses
// at startup (supervisor.MetadataLoader, §4.14), plus the
// @@gtid_binlog_pos lookup replication.FetchStartPosition needs.
type Catalog struct {
	db *sql.DB
}

func NewCatalog(dsn string) (*Catalog, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open catalog connection: %w", err)
	}
	return &Catalog{db: db}, nil
}

// QueryRow adapts *sql.DB to replication.FetchStartPosition's narrow
// RowScanner-returning interface.
func (c *Catalog) QueryRow(query string, args ...interface{}) replication.RowScanner {
	return c.db.QueryRow(query, args...)
}

// ListTables enumerates every base table the catalog user can see,
// excluding the information_schema/performance_schema/mysql/sys
// system databases.
func (c *Catalog) ListTables() (map[string][]string, error) {
	rows, err := c.db.Query(`
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('information_schema', 'performance_schema', 'mysql', 'sys')
	`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var db, table string
		if err := rows.Scan(&db, &table); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		out[db] = append(out[db], table)
	}
	return out, rows.Err()
}

// ShowCreateTable runs SHOW CREATE TABLE and returns the DDL text.
func (c *Catalog) ShowCreateTable(database, table string) (string, error) {
	row := c.db.QueryRow(fmt.Sprintf("SHOW CREATE TABLE `%s`.`%s`", database, table))
	var name, ddl string
	if err := row.Scan(&name, &ddl); err != nil {
		return "", fmt.Errorf("SHOW CREATE TABLE %s.%s: %w", database, table, err)
	}
	return ddl, nil
}

func (c *Catalog) Close() error {
	return c.db.Close()
}
