package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bobarin/reelsmith/internal/models"
	"github.com/google/uuid"
)

// CreateNotification inserts a notification. A row whose metadata carries a
// dedupe_key already present is silently absorbed, so retried writes are safe.
func (db *DB) CreateNotification(ctx context.Context, n *models.Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, type, is_read, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (dedupe_key) DO NOTHING
		RETURNING created_at
	`

	err := db.QueryRowContext(
		ctx, query,
		n.ID, n.UserID, n.Title, n.Message, n.Type, n.IsRead, n.Metadata,
	).Scan(&n.CreatedAt)

	// ON CONFLICT DO NOTHING returns no row for a duplicate
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, newest first.
func (db *DB) ListNotifications(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error) {
	query := `
		SELECT id, user_id, title, message, type, is_read, metadata, created_at
		FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR is_read = FALSE)
		ORDER BY created_at DESC
		LIMIT $3
	`

	rows, err := db.QueryContext(ctx, query, userID, unreadOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications := []models.Notification{}
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Title, &n.Message, &n.Type,
			&n.IsRead, &n.Metadata, &n.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	return notifications, rows.Err()
}

func (db *DB) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = FALSE`,
		userID).Scan(&count)
	return count, err
}

// MarkNotificationRead flips the read flag. It is the only mutation a
// notification ever sees.
func (db *DB) MarkNotificationRead(ctx context.Context, id uuid.UUID, userID string) error {
	result, err := db.ExecContext(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`,
		id, userID)
	return requireRow(result, err, "notification")
}

func (db *DB) DeleteNotification(ctx context.Context, id uuid.UUID, userID string) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID)
	return requireRow(result, err, "notification")
}

func requireRow(result sql.Result, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}
