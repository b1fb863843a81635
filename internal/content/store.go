package content

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hubenschmidt/lingofit-audio/gateway/internal/level"
	"github.com/hubenschmidt/lingofit-audio/gateway/internal/sqlstore"
)

//go:embed migrations
var migrationFS embed.FS

// ErrNotFound is returned by reads for a row the owner cannot see.
var ErrNotFound = errors.New("generated content not found")

// Outcome reports whether an update hit a row.
type Outcome int

const (
	OutcomeUpdated Outcome = iota
	OutcomeNotFound
)

func (o Outcome) String() string {
	if o == OutcomeNotFound {
		return "not_found"
	}
	return "updated"
}

// GeneratedContent is one persisted lesson.
type GeneratedContent struct {
	ID           int64           `json:"generated_content_id"`
	OwnerID      int64           `json:"owner_id"`
	Title        string          `json:"title"`
	ScriptData   string          `json:"script_data"`
	AudioURL     *string         `json:"audio_url"`
	ResponseJSON json.RawMessage `json:"response_json,omitempty"`
	ScriptVocabs json.RawMessage `json:"script_vocabs,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Summary is the history-list view of a lesson.
type Summary struct {
	ID         int64     `json:"generated_content_id"`
	Title      string    `json:"title"`
	AudioURL   *string   `json:"audio_url"`
	ScriptData string    `json:"script_data"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists generated lessons and learner profiles. Every method is a
// single statement.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open connects with driver ("pgx" or "sqlite") and migrates.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	db, err := sqlstore.Open(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("content open: %w", err)
	}
	if err = sqlstore.Migrate(ctx, db, migrationFS, "migrations", driver, "content_schema_version"); err != nil {
		db.Close()
		return nil, fmt.Errorf("content migrate: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) now() time.Time { return s.clock().UTC() }

// InsertPlaceholder creates a lesson row with no audio yet.
func (s *Store) InsertPlaceholder(ctx context.Context, ownerID int64, title, script string) (int64, error) {
	now := s.now()
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO generated_contents (owner_id, title, script_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		ownerID, title, script, now, now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert placeholder: %w", err)
	}
	return id, nil
}

// Finalize attaches the audio locator and response payload. It never
// touches script_vocabs.
func (s *Store) Finalize(ctx context.Context, id int64, audioURL string, payload any) (Outcome, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutcomeNotFound, fmt.Errorf("encode response payload: %w", err)
	}
	return s.update(ctx,
		`UPDATE generated_contents SET audio_url = $1, response_json = $2, updated_at = $3 WHERE id = $4`,
		audioURL, string(raw), s.now(), id,
	)
}

// UpdateVocab attaches the enrichment payload. It never touches the audio
// columns.
func (s *Store) UpdateVocab(ctx context.Context, id int64, payload any) (Outcome, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutcomeNotFound, fmt.Errorf("encode vocab payload: %w", err)
	}
	return s.update(ctx,
		`UPDATE generated_contents SET script_vocabs = $1, updated_at = $2 WHERE id = $3`,
		string(raw), s.now(), id,
	)
}

func (s *Store) update(ctx context.Context, query string, args ...any) (Outcome, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return OutcomeNotFound, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return OutcomeNotFound, err
	}
	if n == 0 {
		return OutcomeNotFound, nil
	}
	return OutcomeUpdated, nil
}

// ListByOwner returns ownerID's lessons newest first plus the total count.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Summary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM generated_contents WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, audio_url, script_data, created_at, updated_at
		FROM generated_contents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := []Summary{}
	for rows.Next() {
		var it Summary
		var audioURL sql.NullString
		if err = rows.Scan(&it.ID, &it.Title, &audioURL, &it.ScriptData, &it.CreatedAt, &it.UpdatedAt); err != nil {
			return nil, 0, err
		}
		if audioURL.Valid {
			it.AudioURL = &audioURL.String
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// Get returns one of ownerID's lessons.
func (s *Store) Get(ctx context.Context, ownerID, id int64) (*GeneratedContent, error) {
	var c GeneratedContent
	var audioURL, response, vocabs sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, title, script_data, audio_url, response_json, script_vocabs, created_at, updated_at
		FROM generated_contents WHERE id = $1 AND owner_id = $2
	`, id, ownerID).Scan(&c.ID, &c.OwnerID, &c.Title, &c.ScriptData, &audioURL, &response, &vocabs, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if audioURL.Valid {
		c.AudioURL = &audioURL.String
	}
	if response.Valid {
		c.ResponseJSON = json.RawMessage(response.String)
	}
	if vocabs.Valid {
		c.ScriptVocabs = json.RawMessage(vocabs.String)
	}
	return &c, nil
}

// Profile returns learnerID's skill levels; unknown learners start at zero.
func (s *Store) Profile(ctx context.Context, learnerID int64) (level.Profile, error) {
	var p level.Profile
	err := s.db.QueryRowContext(ctx,
		`SELECT lexical_level, syntactic_level, speed_level FROM learner_profiles WHERE learner_id = $1`,
		learnerID,
	).Scan(&p.Lexical, &p.Syntactic, &p.Speed)
	if errors.Is(err, sql.ErrNoRows) {
		return level.Profile{}, nil
	}
	if err != nil {
		return level.Profile{}, fmt.Errorf("read profile: %w", err)
	}
	return p.Clamped(), nil
}

// SaveProfile upserts learnerID's skill levels.
func (s *Store) SaveProfile(ctx context.Context, learnerID int64, p level.Profile) error {
	p = p.Clamped()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO learner_profiles (learner_id, lexical_level, syntactic_level, speed_level, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (learner_id) DO UPDATE SET
			lexical_level = excluded.lexical_level,
			syntactic_level = excluded.syntactic_level,
			speed_level = excluded.speed_level,
			updated_at = excluded.updated_at
	`, learnerID, p.Lexical, p.Syntactic, p.Speed, s.now())
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}
