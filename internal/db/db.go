package db

import "database/sql"

// DB wraps the raw sql.DB so internal packages depend on one type.
type DB struct {
	*sql.DB
}
