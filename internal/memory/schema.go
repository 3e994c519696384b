package memory

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

const createMemoriesTable = `
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	session_id TEXT,
	scene TEXT,
	emotion TEXT,
	title TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_user_created
	ON memories (user_id, created_at DESC);
`

// migrate brings the schema to the current version. Versioning uses the
// SQLite user_version pragma so a fresh file and an up-to-date file take
// the same path.
func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version >= schemaVersion {
		return nil
	}

	if _, err := db.Exec(createMemoriesTable); err != nil {
		return fmt.Errorf("failed to create memories schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}
