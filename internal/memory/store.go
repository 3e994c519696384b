package memory

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"soundscape/pkg/types"
)

// Store persists session keepsakes in SQLite. All writes funnel through a
// single goroutine; reads run concurrently against the WAL.
type Store struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	logger   *logrus.Logger
}

type writeOp struct {
	operation func(*sql.DB) error
	result    chan error
}

func NewStore(path string, logger *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		logger:   logger,
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop serializes writes. A failed write retries once after a short
// backoff before reporting the error.
func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeCh:
			err := op.operation(s.db)
			if err != nil {
				s.logger.WithError(err).Warn("database write failed, retrying")
				time.Sleep(time.Second)
				err = op.operation(s.db)
				if err != nil {
					s.logger.WithError(err).Error("database write failed after retry")
				}
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

func (s *Store) executeWrite(operation func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("memory store is closed")
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return fmt.Errorf("memory store is shutting down")
	}
}

// SaveMemory inserts a keepsake record.
func (s *Store) SaveMemory(ctx context.Context, memory *types.Memory) error {
	return s.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO memories (id, user_id, session_id, scene, emotion, title, content, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`
		_, err := db.ExecContext(ctx, query,
			memory.ID,
			memory.UserID,
			memory.SessionID,
			memory.Scene,
			memory.Emotion,
			memory.Title,
			memory.Content,
			memory.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert memory: %w", err)
		}
		return nil
	})
}

// ListMemories returns a user's keepsakes, newest first.
func (s *Store) ListMemories(ctx context.Context, userID string) ([]*types.Memory, error) {
	query := `
		SELECT id, user_id, session_id, scene, emotion, title, content, created_at
		FROM memories
		WHERE user_id = ?
		ORDER BY created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query memories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var memories []*types.Memory
	for rows.Next() {
		var m types.Memory
		var sessionID, scene, emotion sql.NullString

		err := rows.Scan(
			&m.ID,
			&m.UserID,
			&sessionID,
			&scene,
			&emotion,
			&m.Title,
			&m.Content,
			&m.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory row: %w", err)
		}

		m.SessionID = sessionID.String
		m.Scene = scene.String
		m.Emotion = emotion.String
		memories = append(memories, &m)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memory rows: %w", err)
	}
	return memories, nil
}

// DeleteMemory removes a keepsake by id. Deleting an unknown id is a
// not-found error so the API layer can answer 404.
func (s *Store) DeleteMemory(ctx context.Context, id string) error {
	return s.executeWrite(func(db *sql.DB) error {
		result, err := db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete memory: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read delete result: %w", err)
		}
		if affected == 0 {
			return types.NewNotFoundError("memory not found")
		}
		return nil
	})
}

// HealthCheck validates connectivity and a basic read.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// Close drains the writer and closes the connection. Safe to call twice.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
