package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"judgeflow/internal/common/db"
	"judgeflow/internal/progress/model"
)

// UpdateFunc maps a topic's current confidence to its next value.
type UpdateFunc func(topic string, old float64) float64

// ConfidenceRepository defines topic confidence persistence.
type ConfidenceRepository interface {
	// ApplyOnce claims the submission's scoring flag and applies update to
	// every topic in one transaction. It reports false, without writing,
	// when the flag was already claimed.
	ApplyOnce(ctx context.Context, submissionID, userID string, topics []string, update UpdateFunc) (bool, error)
	Weakest(ctx context.Context, userID string, n int) ([]model.TopicConfidence, error)
	ListByUser(ctx context.Context, userID string) ([]model.TopicConfidence, error)
}

// MySQLConfidenceRepository implements ConfidenceRepository with MySQL.
type MySQLConfidenceRepository struct {
	db db.Database
}

// NewConfidenceRepository creates a MySQL confidence repository.
func NewConfidenceRepository(database db.Database) *MySQLConfidenceRepository {
	return &MySQLConfidenceRepository{db: database}
}

func (r *MySQLConfidenceRepository) ApplyOnce(ctx context.Context, submissionID, userID string, topics []string, update UpdateFunc) (bool, error) {
	if submissionID == "" || userID == "" {
		return false, errors.New("submissionID and userID are required")
	}
	applied := false
	err := r.db.Transaction(ctx, func(tx db.Transaction) error {
		res, err := tx.Exec(ctx, "UPDATE solutions SET progress_applied = 1 WHERE id = ? AND progress_applied = 0", submissionID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected != 1 {
			return nil
		}
		applied = true
		if len(topics) == 0 {
			return nil
		}

		current, err := lockTopics(ctx, tx, userID, topics)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		for _, topic := range topics {
			old, ok := current[topic]
			if !ok {
				old = model.DefaultConfidence
			}
			next := model.Clamp(update(topic, old))
			if _, err := tx.Exec(ctx, `
				INSERT INTO user_topic_confidence (user_id, topic, confidence, updated_at)
				VALUES (?, ?, ?, ?)
				ON DUPLICATE KEY UPDATE confidence = VALUES(confidence), updated_at = VALUES(updated_at)
			`, userID, topic, next, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func lockTopics(ctx context.Context, tx db.Transaction, userID string, topics []string) (map[string]float64, error) {
	args := make([]interface{}, 0, len(topics)+1)
	args = append(args, userID)
	for _, topic := range topics {
		args = append(args, topic)
	}
	query := "SELECT topic, confidence FROM user_topic_confidence WHERE user_id = ? AND topic IN (" +
		db.Placeholders(len(topics)) + ") FOR UPDATE"
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	current := make(map[string]float64, len(topics))
	for rows.Next() {
		var (
			topic string
			c     float64
		)
		if err := rows.Scan(&topic, &c); err != nil {
			return nil, err
		}
		current[topic] = c
	}
	return current, rows.Err()
}

// Weakest returns the user's n lowest-confidence topics, ascending.
func (r *MySQLConfidenceRepository) Weakest(ctx context.Context, userID string, n int) ([]model.TopicConfidence, error) {
	return r.list(ctx, `
		SELECT user_id, topic, confidence, updated_at
		FROM user_topic_confidence
		WHERE user_id = ?
		ORDER BY confidence ASC, topic ASC
		LIMIT ?
	`, userID, n)
}

// ListByUser returns every topic the user has a confidence for.
func (r *MySQLConfidenceRepository) ListByUser(ctx context.Context, userID string) ([]model.TopicConfidence, error) {
	return r.list(ctx, `
		SELECT user_id, topic, confidence, updated_at
		FROM user_topic_confidence
		WHERE user_id = ?
		ORDER BY topic ASC
	`, userID)
}

func (r *MySQLConfidenceRepository) list(ctx context.Context, query string, args ...interface{}) ([]model.TopicConfidence, error) {
	rows, err := r.db.Query(ctx, strings.TrimSpace(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TopicConfidence
	for rows.Next() {
		var tc model.TopicConfidence
		if err := rows.Scan(&tc.UserID, &tc.Topic, &tc.Confidence, &tc.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}
