// Package store provides storage backends for GreetPipe.
//
// It keeps receipts for outbound lines and a record of every finished
// conversation, in memory, in SQLite or in PostgreSQL.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GreetPipe/internal/models"
)

// DefaultConversationLimit caps ListConversations when no limit is given.
const DefaultConversationLimit = 50

// Store persists receipts and conversation records.
type Store interface {
	AddReceipt(r models.Receipt) error
	GetReceipts() ([]models.Receipt, error)
	SaveConversation(rec models.ConversationRecord) error
	// ListConversations returns the most recently finished conversations first.
	// A limit <= 0 uses DefaultConversationLimit.
	ListConversations(limit int) ([]models.ConversationRecord, error)
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

var postgresKeyValue = regexp.MustCompile(`(^|\s)(host|user|dbname|password|sslmode|port)=`)

// DetectDSNType returns "postgres" for PostgreSQL URLs and key=value connection
// strings, and "sqlite3" for everything else (file paths and file: URIs).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if !strings.HasPrefix(lower, "file:") && postgresKeyValue.MatchString(lower) {
		return "postgres"
	}
	return "sqlite3"
}

// Open picks a backend for dsn. An empty dsn yields an InMemoryStore.
func Open(dsn string) (Store, error) {
	if dsn == "" {
		slog.Debug("Store Open: no DSN, using in-memory store")
		return NewInMemoryStore(), nil
	}
	switch DetectDSNType(dsn) {
	case "postgres":
		return NewPostgresStore(WithPostgresDSN(dsn))
	default:
		return NewSQLiteStore(WithSQLiteDSN(dsn))
	}
}

// InMemoryStore keeps everything in process memory.
type InMemoryStore struct {
	mu            sync.RWMutex
	receipts      []models.Receipt
	conversations []models.ConversationRecord
}

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) AddReceipt(r models.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receipts = append(s.receipts, r)
	return nil
}

func (s *InMemoryStore) GetReceipts() ([]models.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Receipt, len(s.receipts))
	copy(out, s.receipts)
	return out, nil
}

func (s *InMemoryStore) SaveConversation(rec models.ConversationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("conversation ID cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.conversations {
		if s.conversations[i].ID == rec.ID {
			s.conversations[i] = rec
			return nil
		}
	}
	s.conversations = append(s.conversations, rec)
	return nil
}

func (s *InMemoryStore) ListConversations(limit int) ([]models.ConversationRecord, error) {
	s.mu.RLock()
	out := make([]models.ConversationRecord, len(s.conversations))
	copy(out, s.conversations)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].FinishedAt.After(out[j].FinishedAt)
	})
	limit = normalizeLimit(limit)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

// encodeTranscript serializes transcript lines for a TEXT column.
func encodeTranscript(lines []models.TranscriptLine) (string, error) {
	if lines == nil {
		lines = []models.TranscriptLine{}
	}
	data, err := json.Marshal(lines)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transcript: %w", err)
	}
	return string(data), nil
}

func decodeTranscript(data string) ([]models.TranscriptLine, error) {
	if data == "" {
		return nil, nil
	}
	var lines []models.TranscriptLine
	if err := json.Unmarshal([]byte(data), &lines); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transcript: %w", err)
	}
	return lines, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanConversation reads one conversations row; times are stored as Unix milliseconds.
func scanConversation(row rowScanner) (models.ConversationRecord, error) {
	var rec models.ConversationRecord
	var outcome, transcript string
	var startedAt, finishedAt int64
	if err := row.Scan(&rec.ID, &rec.Partner, &rec.Role, &outcome, &transcript, &startedAt, &finishedAt); err != nil {
		return rec, fmt.Errorf("scan conversation failed: %w", err)
	}
	rec.Outcome = models.ConversationOutcome(outcome)
	lines, err := decodeTranscript(transcript)
	if err != nil {
		return rec, err
	}
	rec.Transcript = lines
	rec.StartedAt = time.UnixMilli(startedAt).UTC()
	rec.FinishedAt = time.UnixMilli(finishedAt).UTC()
	return rec, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultConversationLimit
	}
	return limit
}
