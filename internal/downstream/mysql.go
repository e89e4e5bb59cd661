// Package downstream implements dispatcher.Downstream against a real
// MariaDB/MySQL connection pool, translating driver-level errors into
// the Reply shape the command handlers branch on (§4.6, §7 "downstream
// engine errors").
package downstream

import (
	"errors"

	mysqlerr "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/mariadb-corp/nosqlbridge/internal/dispatcher"
)

// erNoSuchTable is MariaDB/MySQL error 1146, "Table '...' doesn't
// exist" — the signal TableCreating handlers auto-create on.
const erNoSuchTable = 1146

// MySQL adapts a *sqlx.DB to dispatcher.Downstream.
type MySQL struct {
	DB *sqlx.DB
}

func Open(dsn string) (*MySQL, error) {
	db, err := sqlx.Connect("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return &MySQL{DB: db}, nil
}

func (m *MySQL) Exec(stmt string) (dispatcher.Reply, error) {
	if isSelect(stmt) {
		return m.query(stmt)
	}
	result, err := m.DB.Exec(stmt)
	if err != nil {
		return replyFromError(err)
	}
	affected, _ := result.RowsAffected()
	id, _ := result.LastInsertId()
	return dispatcher.Reply{OK: true, AffectedRows: affected, InsertedID: id}, nil
}

func (m *MySQL) query(stmt string) (dispatcher.Reply, error) {
	rows, err := m.DB.Queryx(stmt)
	if err != nil {
		return replyFromError(err)
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		n++
	}
	return dispatcher.Reply{OK: true, AffectedRows: n}, nil
}

func isSelect(stmt string) bool {
	for _, c := range stmt {
		switch c {
		case ' ', '\t', '\n':
			continue
		default:
			return c == 'S' || c == 's'
		}
	}
	return false
}

func replyFromError(err error) (dispatcher.Reply, error) {
	var myErr *mysqlerr.MySQLError
	if errors.As(err, &myErr) {
		reply := dispatcher.Reply{ErrCode: int(myErr.Number), ErrMsg: myErr.Message}
		if myErr.Number == erNoSuchTable {
			reply.TableNotExist = true
			return reply, nil
		}
		return reply, err
	}
	return dispatcher.Reply{ErrMsg: err.Error()}, err
}

func (m *MySQL) Close() error {
	return m.DB.Close()
}
