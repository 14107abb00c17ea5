package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrBadJoinCode = errors.New("join code does not match")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name FROM users WHERE display_name = $1`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	const insertUser = `
		INSERT INTO users (display_name)
		VALUES ($1)
		RETURNING id, display_name
	`
	if err := s.db.QueryRowContext(ctx, insertUser, name).Scan(&user.ID, &user.DisplayName); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name FROM users WHERE id=$1`, userID).Scan(&user.ID, &user.DisplayName)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// InsertTrip creates a trip row. The join code is bcrypt-hashed at rest;
// the plaintext only travels in share links.
func (s *PostgresStore) InsertTrip(ctx context.Context, trip Trip, joinCode string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(joinCode), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash join code: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trips (id, title, owner_id, planner, status, join_code_hash, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, trip.ID, trip.Title, trip.OwnerID, rawOrEmptyObject(trip.Planner), rawOrEmptyObject(trip.Status), string(hash), trip.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTrip(ctx context.Context, tripID string) (Trip, error) {
	var trip Trip
	var planner, status []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, planner, status, join_code_hash, updated_by, updated_at
		FROM trips
		WHERE id=$1
	`, tripID).Scan(&trip.ID, &trip.Title, &trip.OwnerID, &planner, &status, &trip.JoinCodeHash, &trip.UpdatedBy, &trip.UpdatedAt)
	if err != nil {
		return Trip{}, err
	}
	trip.Planner = json.RawMessage(planner)
	trip.Status = json.RawMessage(status)
	return trip, nil
}

// VerifyJoinCode compares the plaintext code against the stored hash.
func (s *PostgresStore) VerifyJoinCode(ctx context.Context, tripID, joinCode string) error {
	var hash string
	err := s.db.QueryRowContext(ctx, `SELECT join_code_hash FROM trips WHERE id=$1`, tripID).Scan(&hash)
	if err != nil {
		return fmt.Errorf("lookup join code: %w", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(joinCode)) != nil {
		return ErrBadJoinCode
	}
	return nil
}

// UpdateTripPlanner replaces the planner field group, stamping the writer.
func (s *PostgresStore) UpdateTripPlanner(ctx context.Context, tripID string, planner json.RawMessage, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trips
		SET planner=$2, updated_by=$3, updated_at=NOW()
		WHERE id=$1
	`, tripID, rawOrEmptyObject(planner), updatedBy)
	if err != nil {
		return fmt.Errorf("update trip planner: %w", err)
	}
	return requireRow(res)
}

// UpdateTripStatus replaces the status field group, stamping the writer.
func (s *PostgresStore) UpdateTripStatus(ctx context.Context, tripID string, status json.RawMessage, updatedBy string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trips
		SET status=$2, updated_by=$3, updated_at=NOW()
		WHERE id=$1
	`, tripID, rawOrEmptyObject(status), updatedBy)
	if err != nil {
		return fmt.Errorf("update trip status: %w", err)
	}
	return requireRow(res)
}

// EnsureMembership registers a user in a trip. A duplicate membership is
// not an error; joining twice is success.
func (s *PostgresStore) EnsureMembership(ctx context.Context, tripID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trip_memberships (trip_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (trip_id, user_id) DO NOTHING
	`, tripID, userID)
	if err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) HasMembership(ctx context.Context, tripID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM trip_memberships WHERE trip_id=$1 AND user_id=$2)
	`, tripID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) ListMemberships(ctx context.Context, tripID string) ([]Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trip_id, user_id, joined_at
		FROM trip_memberships
		WHERE trip_id=$1
		ORDER BY joined_at
	`, tripID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()

	items := make([]Membership, 0)
	for rows.Next() {
		var m Membership
		if err := rows.Scan(&m.TripID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memberships: %w", err)
	}
	return items, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func rawOrEmptyObject(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
