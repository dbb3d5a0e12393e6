package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
)

const createNotificationsTable = `
CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	kind TEXT NOT NULL,
	recipient TEXT NOT NULL,
	subject TEXT NOT NULL,
	body TEXT NOT NULL,
	status TEXT NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	sent_at DATETIME NULL
);
`

const selectNotificationColumns = `
SELECT id, kind, recipient, subject, body, status, attempts, last_error, created_at, updated_at, sent_at
FROM notifications`

// NotificationRepository is the sqlite backed notification outbox.
type NotificationRepository struct {
	db *sql.DB
}

func NewNotificationRepository(db *sql.DB) repository.NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createNotificationsTable); err != nil {
		return fmt.Errorf("create notifications table: %w", err)
	}
	return nil
}

func (r *NotificationRepository) Create(ctx context.Context, n *domain.Notification) (int64, error) {
	now := time.Now().UTC()
	n.CreatedAt = now
	n.UpdatedAt = now
	if n.Status == "" {
		n.Status = domain.NotificationStatusPending
	}

	res, err := r.db.ExecContext(ctx, `
INSERT INTO notifications (kind, recipient, subject, body, status, attempts, last_error, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(n.Kind),
		n.Recipient,
		n.Subject,
		n.Body,
		string(n.Status),
		n.Attempts,
		n.LastError,
		n.CreatedAt,
		n.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert notification: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("notification last insert id: %w", err)
	}
	n.ID = id
	return id, nil
}

func (r *NotificationRepository) Get(ctx context.Context, id int64) (*domain.Notification, error) {
	return scanNotification(r.db.QueryRowContext(ctx, selectNotificationColumns+` WHERE id = ?`, id))
}

func (r *NotificationRepository) ListByStatuses(ctx context.Context, statuses ...domain.NotificationStatus) ([]domain.Notification, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	rows, err := r.db.QueryContext(ctx, selectNotificationColumns+`
WHERE status IN (`+placeholders+`)
ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var out []domain.Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return out, nil
}

func (r *NotificationRepository) MarkSent(ctx context.Context, id int64, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE notifications
SET status = ?, attempts = attempts + 1, last_error = '', sent_at = ?, updated_at = ?
WHERE id = ?`,
		string(domain.NotificationStatusSent),
		sentAt.UTC(),
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark notification sent: %w", err)
	}
	return nil
}

func (r *NotificationRepository) MarkFailed(ctx context.Context, id int64, errorMessage string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE notifications
SET status = ?, attempts = attempts + 1, last_error = ?, updated_at = ?
WHERE id = ?`,
		string(domain.NotificationStatusFailed),
		errorMessage,
		time.Now().UTC(),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

func scanNotification(row interface {
	Scan(dest ...any) error
}) (*domain.Notification, error) {
	var (
		n      domain.Notification
		kind   string
		status string
		sentAt sql.NullTime
	)
	if err := row.Scan(
		&n.ID,
		&kind,
		&n.Recipient,
		&n.Subject,
		&n.Body,
		&status,
		&n.Attempts,
		&n.LastError,
		&n.CreatedAt,
		&n.UpdatedAt,
		&sentAt,
	); err != nil {
		return nil, notFound(err, "notification")
	}
	n.Kind = domain.NotificationKind(kind)
	n.Status = domain.NotificationStatus(status)
	if sentAt.Valid {
		t := sentAt.Time
		n.SentAt = &t
	}
	return &n, nil
}
