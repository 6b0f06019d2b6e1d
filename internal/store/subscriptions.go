package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Subscription is one (user, runner) follow with a push delivery token.
// A user following N runners holds N subscriptions.
type Subscription struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	CompetitionID int        `json:"competitionId"`
	ClassName     string     `json:"className"`
	RunnerName    string     `json:"runnerName"`
	Token         string     `json:"token"`
	CreatedAt     time.Time  `json:"createdAt"`
	RaceStart     *time.Time `json:"raceStart,omitempty"`
}

// Pair is one distinct (competition, class) polling target.
type Pair struct {
	CompetitionID int
	ClassName     string
}

// SubscriptionStore persists subscriptions and answers the follower-index
// queries. Lookup methods return empty slices, never errors: a broken
// store means nobody gets notified, not a failed poll.
type SubscriptionStore struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

func NewSubscriptionStore(db *sql.DB, logger *zap.Logger) *SubscriptionStore {
	return &SubscriptionStore{db: db, logger: logger, now: time.Now}
}

// Add persists a subscription, assigning an ID and creation time when
// absent.
func (s *SubscriptionStore) Add(ctx context.Context, sub *Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = s.now()
	}

	var raceStart any
	if sub.RaceStart != nil {
		raceStart = sub.RaceStart.UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions(id, user_id, competition_id, class_name, runner_name, token, created_at, race_start)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.CompetitionID, sub.ClassName, sub.RunnerName, sub.Token,
		sub.CreatedAt.UnixNano(), raceStart)
	if err != nil {
		return fmt.Errorf("inserting subscription: %w", err)
	}
	return nil
}

// Delete removes a subscription by ID.
func (s *SubscriptionStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	return nil
}

// ForUser lists a user's subscriptions.
func (s *SubscriptionStore) ForUser(ctx context.Context, userID string) ([]Subscription, error) {
	return s.query(ctx, `WHERE user_id = ?`, userID)
}

// ForRunner returns every subscription following the given runner. Runner
// names match by exact string equality, case-sensitive.
func (s *SubscriptionStore) ForRunner(ctx context.Context, comp int, class, runner string) []Subscription {
	subs, err := s.query(ctx, `WHERE competition_id = ? AND class_name = ? AND runner_name = ?`, comp, class, runner)
	if err != nil {
		s.logger.Warn("follower lookup failed", zap.Error(err))
		return nil
	}
	return subs
}

// ForClass returns every subscription targeting a class.
func (s *SubscriptionStore) ForClass(ctx context.Context, comp int, class string) []Subscription {
	subs, err := s.query(ctx, `WHERE competition_id = ? AND class_name = ?`, comp, class)
	if err != nil {
		s.logger.Warn("follower lookup failed", zap.Error(err))
		return nil
	}
	return subs
}

// ActivePairs returns the distinct (competition, class) pairs that have at
// least one subscription created within the recency window. Older
// subscriptions are presumed to belong to finished events and are skipped
// by the sweep; the retention job deletes them separately.
func (s *SubscriptionStore) ActivePairs(ctx context.Context, window time.Duration) []Pair {
	cutoff := s.now().Add(-window).UnixNano()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT competition_id, class_name FROM subscriptions WHERE created_at >= ?`, cutoff)
	if err != nil {
		s.logger.Warn("active pair lookup failed", zap.Error(err))
		return nil
	}
	defer rows.Close()

	var pairs []Pair
	for rows.Next() {
		var p Pair
		if err := rows.Scan(&p.CompetitionID, &p.ClassName); err != nil {
			s.logger.Warn("active pair scan failed", zap.Error(err))
			return pairs
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("active pair iteration failed", zap.Error(err))
	}
	return pairs
}

// DeleteOlderThan removes subscriptions past the retention age and returns
// the number removed.
func (s *SubscriptionStore) DeleteOlderThan(ctx context.Context, age time.Duration) int {
	cutoff := s.now().Add(-age).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.Warn("subscription retention failed", zap.Error(err))
		return 0
	}
	n, _ := res.RowsAffected()
	return int(n)
}

func (s *SubscriptionStore) query(ctx context.Context, where string, args ...any) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, competition_id, class_name, runner_name, token, created_at, race_start
		 FROM subscriptions `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		var createdAt int64
		var raceStart sql.NullInt64
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.CompetitionID, &sub.ClassName,
			&sub.RunnerName, &sub.Token, &createdAt, &raceStart); err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		sub.CreatedAt = time.Unix(0, createdAt)
		if raceStart.Valid {
			t := time.Unix(0, raceStart.Int64)
			sub.RaceStart = &t
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscriptions: %w", err)
	}
	return subs, nil
}
