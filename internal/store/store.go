package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/segmentio/ksuid"
)

var (
	// ErrDuplicate is returned by Add when an identical
	// (server, topic, webhook) rule already exists.
	ErrDuplicate = errors.New("rule already exists")
	// ErrNotFound is returned by Remove for an unknown rule ID.
	ErrNotFound = errors.New("rule not found")
)

// Rule binds one inbound server/topic to one outbound webhook. AuthHeader,
// when non-empty, is a pre-formatted Authorization header value for the
// inbound stream connection.
type Rule struct {
	ID         string
	Server     string
	Topic      string
	WebhookURL string
	AuthHeader string
	CreatedAt  time.Time
}

// Store is the Postgres-backed rule table. The daemon only reads it;
// writes happen through the CLI.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates the rule table when missing. Safe to run on every start.
func (s *Store) Init(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rules (
			id          TEXT PRIMARY KEY,
			server      TEXT NOT NULL,
			topic       TEXT NOT NULL,
			webhook_url TEXT NOT NULL,
			auth_header TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE(server, topic, webhook_url)
		)`)
	if err != nil {
		return fmt.Errorf("init rules table: %w", err)
	}
	return nil
}

// newRuleID generates a K-sortable unique rule identifier.
func newRuleID() string {
	return ksuid.New().String()
}

// Add inserts a new rule and returns it with its generated ID.
func (s *Store) Add(ctx context.Context, server, topic, webhook, authHeader string) (Rule, error) {
	r := Rule{
		ID:         newRuleID(),
		Server:     server,
		Topic:      topic,
		WebhookURL: webhook,
		AuthHeader: authHeader,
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO rules(id, server, topic, webhook_url, auth_header)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		r.ID, r.Server, r.Topic, r.WebhookURL, r.AuthHeader,
	).Scan(&r.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Rule{}, ErrDuplicate
		}
		return Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

// Remove deletes a rule by ID.
func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a full snapshot of the rule table.
func (s *Store) List(ctx context.Context) ([]Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, server, topic, webhook_url, auth_header, created_at
		FROM rules
		ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var r Rule
		if err := rows.Scan(&r.ID, &r.Server, &r.Topic, &r.WebhookURL, &r.AuthHeader, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rules, nil
}
