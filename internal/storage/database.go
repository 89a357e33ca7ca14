package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"ledgerlens/internal/config"
	"ledgerlens/internal/invoice"
)

// Open connects to the configured database.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				prompt TEXT NOT NULL,
				page_count INTEGER NOT NULL,
				raw_text TEXT NOT NULL,
				result TEXT,
				created_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_conversation ON analyses(conversation_id)`,
			`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS analyses (
				id VARCHAR(36) NOT NULL PRIMARY KEY,
				conversation_id VARCHAR(36) NOT NULL,
				prompt MEDIUMTEXT NOT NULL,
				page_count INT NOT NULL,
				raw_text MEDIUMTEXT NOT NULL,
				result MEDIUMTEXT,
				created_at DATETIME NOT NULL,
				INDEX idx_analyses_conversation (conversation_id),
				INDEX idx_analyses_created_at (created_at)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// SaveAnalysis persists one finished analysis. The structured result is
// stored as JSON text, NULL when absent.
func SaveAnalysis(ctx context.Context, db *sql.DB, a *invoice.Analysis) error {
	var result sql.NullString
	if a.Result != nil {
		encoded, err := json.Marshal(a.Result)
		if err != nil {
			return fmt.Errorf("encode analysis result: %w", err)
		}
		result = sql.NullString{String: string(encoded), Valid: true}
	}
	_, err := db.ExecContext(ctx,
		`INSERT INTO analyses (id, conversation_id, prompt, page_count, raw_text, result, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ConversationID, a.Prompt, a.PageCount, a.RawText, result, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// GetAnalysis loads one analysis by id.
func GetAnalysis(ctx context.Context, db *sql.DB, id string) (*invoice.Analysis, error) {
	row := db.QueryRowContext(ctx,
		`SELECT id, conversation_id, prompt, page_count, raw_text, result, created_at
		 FROM analyses WHERE id = ?`, id)
	return scanAnalysis(row)
}

// ListAnalyses returns the most recent analyses, newest first.
func ListAnalyses(ctx context.Context, db *sql.DB, limit int) ([]*invoice.Analysis, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx,
		`SELECT id, conversation_id, prompt, page_count, raw_text, result, created_at
		 FROM analyses ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list analyses: %w", err)
	}
	defer rows.Close()

	var out []*invoice.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnalysis(row rowScanner) (*invoice.Analysis, error) {
	var (
		a       invoice.Analysis
		result  sql.NullString
		created time.Time
	)
	if err := row.Scan(&a.ID, &a.ConversationID, &a.Prompt, &a.PageCount, &a.RawText, &result, &created); err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	a.CreatedAt = created
	if result.Valid {
		var decoded invoice.CategorizationResult
		if err := json.Unmarshal([]byte(result.String), &decoded); err != nil {
			return nil, fmt.Errorf("decode analysis result: %w", err)
		}
		a.Result = &decoded
	}
	return &a, nil
}
