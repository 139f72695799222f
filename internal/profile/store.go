package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"

	"github.com/arborlabs/arbor/config"
)

// ErrNotFound is returned when a user has no stored profile.
var ErrNotFound = errors.New("profile: not found")

// Repository reads and writes user profiles.
type Repository interface {
	Get(ctx context.Context, userID string) (Profile, error)
	Upsert(ctx context.Context, p Profile) error
	Delete(ctx context.Context, userID string) error
}

// PostgresRepository stores profiles in the user_profiles table.
type PostgresRepository struct {
	db *sql.DB
}

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, cfg config.PostgresConfig) (*PostgresRepository, error) {
	dsn := cfg.DSN()
	if dsn == "" {
		return nil, errors.New("profile: postgres not configured")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	return &PostgresRepository{db: db}, nil
}

// DB exposes the underlying handle for migrations.
func (r *PostgresRepository) DB() *sql.DB { return r.db }

// Close releases the connection pool.
func (r *PostgresRepository) Close() error { return r.db.Close() }

func (r *PostgresRepository) Get(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.db.QueryRowContext(ctx, `
		SELECT user_id, response_detail_level, tone, language, focus,
		       custom_instructions, custom_instructions_mode, updated_at
		FROM user_profiles WHERE user_id = $1`, userID).Scan(
		&p.UserID, &p.ResponseDetailLevel, &p.Tone, &p.Language, &p.Focus,
		&p.CustomInstructions, &p.CustomInstructionsMode, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("failed to load profile: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) Upsert(ctx context.Context, p Profile) error {
	p.Normalize()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_profiles (user_id, response_detail_level, tone, language, focus,
		                           custom_instructions, custom_instructions_mode, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			response_detail_level = EXCLUDED.response_detail_level,
			tone = EXCLUDED.tone,
			language = EXCLUDED.language,
			focus = EXCLUDED.focus,
			custom_instructions = EXCLUDED.custom_instructions,
			custom_instructions_mode = EXCLUDED.custom_instructions_mode,
			updated_at = NOW()`,
		p.UserID, p.ResponseDetailLevel, p.Tone, p.Language, p.Focus,
		p.CustomInstructions, p.CustomInstructionsMode)
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	return nil
}

// Prompter builds system prompts from stored profiles. It fails open: any
// repository failure yields the default profile's prompt so answering never
// stalls on the profile store.
type Prompter struct {
	repo   Repository
	logger *log.Logger
}

// NewPrompter creates a prompter; repo may be nil (defaults only).
func NewPrompter(repo Repository, logger *log.Logger) *Prompter {
	if logger == nil {
		logger = log.New(log.Writer(), "[PROFILE] ", log.LstdFlags)
	}
	return &Prompter{repo: repo, logger: logger}
}

// SystemPrompt implements the prompt-building boundary used by the tools.
func (pr *Prompter) SystemPrompt(ctx context.Context, userID string) string {
	p := DefaultProfile(userID)
	if pr.repo != nil {
		stored, err := pr.repo.Get(ctx, userID)
		switch {
		case err == nil:
			stored.Normalize()
			p = stored
		case errors.Is(err, ErrNotFound):
			// Defaults apply.
		default:
			pr.logger.Printf("profile lookup failed for %s, using defaults: %v", userID, err)
		}
	}
	return p.SystemPrompt()
}
