package dialect

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
)

// sqliteForeignKeyConstraintErrNo is the extended result code SQLite
// reports for a FOREIGN KEY constraint failure.
const sqliteForeignKeyConstraintErrNo = 787 // SQLITE_CONSTRAINT_FOREIGNKEY

// postgresForeignKeyViolationCode is the SQLSTATE Postgres reports for a
// foreign key violation.
const postgresForeignKeyViolationCode = "23503"

// IsForeignKeyViolation reports whether err represents a FOREIGN KEY
// constraint failure, checking the driver-specific error shape so callers
// never need to sniff message text (see spec's "do not rely on
// message-string sniffing" guidance).
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == postgresForeignKeyViolationCode
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return int(sqliteErr.ExtendedCode) == sqliteForeignKeyConstraintErrNo
	}
	return false
}
