package storage

import (
	"database/sql"

	"github.com/GuiaBolso/darwin"
)

// Tables use IF NOT EXISTS so a database created by another tool sharing the
// same file is adopted as-is.
var migrations = []darwin.Migration{
	{
		Version:     1,
		Description: "create scheduled_logs",
		Script: `CREATE TABLE IF NOT EXISTS scheduled_logs (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT    NOT NULL,
			status    TEXT    NOT NULL,
			message   TEXT    NOT NULL
		)`,
	},
	{
		Version:     2,
		Description: "create stats",
		Script: `CREATE TABLE IF NOT EXISTS stats (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	},
	{
		Version:     3,
		Description: "index scheduled_logs by status",
		Script:      `CREATE INDEX IF NOT EXISTS idx_scheduled_logs_status ON scheduled_logs(status)`,
	},
}

func migrate(db *sql.DB) error {
	driver := darwin.NewGenericDriver(db, darwin.SqliteDialect{})
	return darwin.New(driver, migrations, nil).Migrate()
}
