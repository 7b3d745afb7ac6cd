package store

import "github.com/jmoiron/sqlx"

// sqlxIn expands a query's IN (?) placeholder for a slice argument and
// rebinds it to SQLite's ? bindvar style.
func sqlxIn(query string, args ...interface{}) (string, []interface{}, error) {
	q, a, err := sqlx.In(query, args...)
	if err != nil {
		return "", nil, err
	}
	return sqlx.Rebind(sqlx.BindType("sqlite3"), q), a, nil
}
