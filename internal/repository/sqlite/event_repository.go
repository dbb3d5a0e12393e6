package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"eventhub/internal/domain"
	"eventhub/internal/repository"
)

const (
	createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	meeting_link TEXT NOT NULL DEFAULT '',
	starts_at DATETIME NOT NULL,
	ends_at DATETIME NOT NULL,
	registration_deadline DATETIME NULL,
	capacity INTEGER NULL CHECK (capacity IS NULL OR capacity >= 1),
	status TEXT NOT NULL,
	cancel_reason TEXT NOT NULL DEFAULT '',
	cancelled_at DATETIME NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`
	createEventOwnersTable = `
CREATE TABLE IF NOT EXISTS event_owners (
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	PRIMARY KEY (event_id, user_id)
);
`
	createEventRegistrantsTable = `
CREATE TABLE IF NOT EXISTS event_registrants (
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	registered_at DATETIME NOT NULL,
	PRIMARY KEY (event_id, user_id)
);
`
	createRegistrantUserIndex = `CREATE INDEX IF NOT EXISTS idx_event_registrants_user ON event_registrants(user_id);`
)

const selectEventColumns = `
SELECT e.id, e.title, e.description, e.meeting_link, e.starts_at, e.ends_at,
	e.registration_deadline, e.capacity, e.status, e.cancel_reason, e.cancelled_at,
	e.created_at, e.updated_at,
	(SELECT COUNT(*) FROM event_registrants r WHERE r.event_id = e.id)
FROM events e`

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository(db *sql.DB) repository.EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create events table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createEventOwnersTable); err != nil {
		return fmt.Errorf("create event_owners table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createEventRegistrantsTable); err != nil {
		return fmt.Errorf("create event_registrants table: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, createRegistrantUserIndex); err != nil {
		return fmt.Errorf("create event_registrants index: %w", err)
	}
	return nil
}

func (r *EventRepository) Create(ctx context.Context, event *domain.Event) (int64, error) {
	if len(event.Owners) == 0 {
		return 0, fmt.Errorf("event requires at least one owner")
	}

	now := time.Now().UTC()
	event.CreatedAt = now
	event.UpdatedAt = now
	if event.Status == "" {
		event.Status = domain.EventStatusScheduled
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO events (title, description, meeting_link, starts_at, ends_at, registration_deadline, capacity, status, cancel_reason, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.Title,
			event.Description,
			event.MeetingLink,
			event.StartsAt.UTC(),
			event.EndsAt.UTC(),
			nullableTime(event.RegistrationDeadline),
			nullableInt(event.Capacity),
			string(event.Status),
			event.CancelReason,
			event.CreatedAt,
			event.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("event last insert id: %w", err)
		}
		for _, ownerID := range event.Owners {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO event_owners (event_id, user_id) VALUES (?, ?)`, id, ownerID); err != nil {
				return fmt.Errorf("insert event owner %d: %w", ownerID, err)
			}
		}
		event.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return event.ID, nil
}

func (r *EventRepository) Get(ctx context.Context, id int64) (*domain.Event, error) {
	return getEvent(ctx, r.db, id)
}

func (r *EventRepository) AddOwner(ctx context.Context, eventID, userID int64) error {
	_, err := r.db.ExecContext(ctx, `INSERT OR IGNORE INTO event_owners (event_id, user_id) VALUES (?, ?)`, eventID, userID)
	if err != nil {
		return fmt.Errorf("add event owner: %w", err)
	}
	return nil
}

func (r *EventRepository) AddRegistrant(ctx context.Context, eventID, userID int64, registeredAt time.Time, check repository.AdmissionCheck) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		event, err := getEvent(ctx, tx, eventID)
		if err != nil {
			return err
		}

		var registered bool
		if err := tx.QueryRowContext(ctx, `
SELECT EXISTS (SELECT 1 FROM event_registrants WHERE event_id = ? AND user_id = ?)`,
			eventID, userID,
		).Scan(&registered); err != nil {
			return fmt.Errorf("check registrant: %w", err)
		}

		if check != nil {
			if err := check(event, event.RegistrantCount, registered); err != nil {
				return err
			}
		}
		if registered {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
INSERT INTO event_registrants (event_id, user_id, registered_at) VALUES (?, ?, ?)`,
			eventID, userID, registeredAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert registrant: %w", err)
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *EventRepository) RemoveRegistrant(ctx context.Context, eventID, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM event_registrants WHERE event_id = ? AND user_id = ?`, eventID, userID); err != nil {
		return fmt.Errorf("delete registrant: %w", err)
	}
	return nil
}

func (r *EventRepository) ListRegistrants(ctx context.Context, eventID int64) ([]domain.Registrant, error) {
	return listRegistrants(ctx, r.db, eventID)
}

func (r *EventRepository) List(ctx context.Context) ([]domain.Event, error) {
	return r.listEvents(ctx, "list events", selectEventColumns+`
ORDER BY e.starts_at ASC, e.id ASC`)
}

func (r *EventRepository) ListByOwner(ctx context.Context, userID int64) ([]domain.Event, error) {
	return r.listEvents(ctx, "list events by owner", selectEventColumns+`
JOIN event_owners o ON o.event_id = e.id
WHERE o.user_id = ?
ORDER BY e.starts_at ASC, e.id ASC`,
		userID,
	)
}

func (r *EventRepository) ListByRegistrant(ctx context.Context, userID int64) ([]domain.Event, error) {
	return r.listEvents(ctx, "list events by registrant", selectEventColumns+`
JOIN event_registrants reg ON reg.event_id = e.id
WHERE reg.user_id = ?
ORDER BY e.starts_at ASC, e.id ASC`,
		userID,
	)
}

func (r *EventRepository) listEvents(ctx context.Context, op, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, *event)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	rows.Close()

	// owners are loaded after the cursor is closed: the pool holds one connection
	for i := range events {
		owners, err := listOwners(ctx, r.db, events[i].ID)
		if err != nil {
			return nil, err
		}
		events[i].Owners = owners
	}
	return events, nil
}

func (r *EventRepository) Cancel(ctx context.Context, eventID int64, reason string, at time.Time) ([]domain.Registrant, bool, error) {
	var (
		registrants []domain.Registrant
		changed     bool
	)
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE events
SET status = ?, cancel_reason = ?, cancelled_at = ?, updated_at = ?
WHERE id = ? AND status = ?`,
			string(domain.EventStatusCancelled),
			reason,
			at.UTC(),
			at.UTC(),
			eventID,
			string(domain.EventStatusScheduled),
		)
		if err != nil {
			return fmt.Errorf("cancel event: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("cancel event rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		changed = true
		registrants, err = listRegistrants(ctx, tx, eventID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return registrants, changed, nil
}

func listRegistrants(ctx context.Context, q querier, eventID int64) ([]domain.Registrant, error) {
	rows, err := q.QueryContext(ctx, `
SELECT r.event_id, r.user_id, u.username, u.email, r.registered_at
FROM event_registrants r
JOIN users u ON u.id = r.user_id
WHERE r.event_id = ?
ORDER BY r.registered_at ASC, r.user_id ASC`,
		eventID,
	)
	if err != nil {
		return nil, fmt.Errorf("list registrants: %w", err)
	}
	defer rows.Close()

	var registrants []domain.Registrant
	for rows.Next() {
		var reg domain.Registrant
		if err := rows.Scan(&reg.EventID, &reg.UserID, &reg.Username, &reg.Email, &reg.RegisteredAt); err != nil {
			return nil, fmt.Errorf("scan registrant: %w", err)
		}
		registrants = append(registrants, reg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate registrants: %w", err)
	}
	return registrants, nil
}

func getEvent(ctx context.Context, q querier, id int64) (*domain.Event, error) {
	event, err := scanEvent(q.QueryRowContext(ctx, selectEventColumns+` WHERE e.id = ?`, id))
	if err != nil {
		return nil, err
	}
	owners, err := listOwners(ctx, q, id)
	if err != nil {
		return nil, err
	}
	event.Owners = owners
	return event, nil
}

func listOwners(ctx context.Context, q querier, eventID int64) ([]int64, error) {
	rows, err := q.QueryContext(ctx, `SELECT user_id FROM event_owners WHERE event_id = ? ORDER BY user_id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list event owners: %w", err)
	}
	defer rows.Close()

	var owners []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event owner: %w", err)
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event owners: %w", err)
	}
	return owners, nil
}

func scanEvent(row interface {
	Scan(dest ...any) error
}) (*domain.Event, error) {
	var (
		event       domain.Event
		status      string
		deadline    sql.NullTime
		capacity    sql.NullInt64
		cancelledAt sql.NullTime
	)
	if err := row.Scan(
		&event.ID,
		&event.Title,
		&event.Description,
		&event.MeetingLink,
		&event.StartsAt,
		&event.EndsAt,
		&deadline,
		&capacity,
		&status,
		&event.CancelReason,
		&cancelledAt,
		&event.CreatedAt,
		&event.UpdatedAt,
		&event.RegistrantCount,
	); err != nil {
		return nil, notFound(err, "event")
	}

	event.Status = domain.EventStatus(status)
	if deadline.Valid {
		t := deadline.Time
		event.RegistrationDeadline = &t
	}
	if capacity.Valid {
		c := int(capacity.Int64)
		event.Capacity = &c
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time
		event.CancelledAt = &t
	}
	return &event, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}
