// Package state persists preview sessions between editor restarts.
package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go-live-preview/internal/contracts"
	"go-live-preview/internal/preview"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"
)

var log = commonlog.GetLogger("go-live-preview.state")

var _ preview.StateStore = (*SQLiteStore)(nil)

// SQLiteStore keeps one row per preview slot.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the database at path.
func Open(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 2000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
		}
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// SaveStates replaces every stored session with states.
func (s *SQLiteStore) SaveStates(ctx context.Context, states []preview.State) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM sessions"); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}

	savedAt := s.now().Unix()
	for _, st := range states {
		images, err := json.Marshal(nonNil(st.ImageInfo))
		if err != nil {
			return fmt.Errorf("failed to encode image info: %w", err)
		}

		var line sql.NullFloat64
		if st.Line != nil {
			line = sql.NullFloat64{Float64: *st.Line, Valid: true}
		}

		if _, err := tx.ExecContext(ctx, `
            INSERT INTO sessions (slot, resource, line, image_info, saved_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(slot) DO UPDATE SET
                resource = excluded.resource,
                line = excluded.line,
                image_info = excluded.image_info,
                saved_at = excluded.saved_at
        `, int(st.Slot), st.Resource, line, string(images), savedAt); err != nil {
			return fmt.Errorf("failed to save session in slot %d: %w", st.Slot, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sessions: %w", err)
	}
	log.Debugf("saved %d sessions", len(states))
	return nil
}

// LoadStates returns the stored sessions ordered by slot.
func (s *SQLiteStore) LoadStates(ctx context.Context) ([]preview.State, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT slot, resource, line, image_info FROM sessions ORDER BY slot")
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var states []preview.State
	for rows.Next() {
		var (
			slot   int
			st     preview.State
			line   sql.NullFloat64
			images string
		)
		if err := rows.Scan(&slot, &st.Resource, &line, &images); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		st.Slot = preview.Slot(slot)
		if line.Valid {
			v := line.Float64
			st.Line = &v
		}
		if err := json.Unmarshal([]byte(images), &st.ImageInfo); err != nil {
			log.Warningf("slot %d: discarding unreadable image info: %v", slot, err)
			st.ImageInfo = nil
		}
		states = append(states, st)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return states, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nonNil(images []contracts.ImageInfo) []contracts.ImageInfo {
	if images == nil {
		return []contracts.ImageInfo{}
	}
	return images
}
