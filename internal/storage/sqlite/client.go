package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/rc-assistant/backend/pkg/logger"
)

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	inMemory := strings.Contains(dbPath, ":memory:")
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Foreign keys are per connection, so they are set through the DSN.
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to :memory: would otherwise see its own database.
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS chat_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		deleted_at INTEGER,
		deleted_by TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON chat_sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON chat_sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		sources TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES chat_sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS jcr_journal_metrics (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_title TEXT NOT NULL,
		normalized_title TEXT NOT NULL,
		issn_print TEXT,
		issn_electronic TEXT,
		category TEXT,
		edition TEXT,
		jif_year INTEGER NOT NULL,
		jif_value REAL,
		jif_quartile TEXT,
		source TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_jcr_title ON jcr_journal_metrics(normalized_title);
	CREATE INDEX IF NOT EXISTS idx_jcr_issn ON jcr_journal_metrics(issn_print);
	CREATE INDEX IF NOT EXISTS idx_jcr_eissn ON jcr_journal_metrics(issn_electronic);

	CREATE TABLE IF NOT EXISTS nature_index_institutions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position INTEGER NOT NULL,
		institution TEXT NOT NULL,
		normalized_name TEXT NOT NULL,
		country TEXT,
		count REAL,
		share REAL,
		year INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_nature_index_name ON nature_index_institutions(normalized_name);
	CREATE INDEX IF NOT EXISTS idx_nature_index_country ON nature_index_institutions(country);

	CREATE TABLE IF NOT EXISTS knowledge_entries (
		id TEXT PRIMARY KEY,
		document_title TEXT NOT NULL,
		section_title TEXT,
		content TEXT NOT NULL,
		tags TEXT,
		department TEXT,
		category TEXT,
		priority TEXT DEFAULT 'standard',
		access_levels TEXT,
		format_type TEXT DEFAULT 'text',
		is_active INTEGER DEFAULT 1,
		status TEXT DEFAULT 'active',
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_knowledge_status ON knowledge_entries(status, is_active);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Databases created before soft delete lack these columns.
	for _, column := range []string{"deleted_at INTEGER", "deleted_by TEXT"} {
		if err := c.ensureColumn("chat_sessions", column); err != nil {
			return err
		}
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) ensureColumn(table, definition string) error {
	name := strings.Fields(definition)[0]

	rows, err := c.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid        int
			column     string
			columnType string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &column, &columnType, &notNull, &defaultVal, &pk); err != nil {
			return fmt.Errorf("failed to inspect %s: %w", table, err)
		}
		if column == name {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to inspect %s: %w", table, err)
	}
	rows.Close()

	if _, err := c.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table, definition)); err != nil {
		return fmt.Errorf("failed to add %s.%s: %w", table, name, err)
	}
	logger.Info("SQLite column added", zap.String("table", table), zap.String("column", name))
	return nil
}
