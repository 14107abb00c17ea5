package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"tripmap/api/internal/auth"
	"tripmap/api/internal/catalog"
	"tripmap/api/internal/config"
	"tripmap/api/internal/notify"
	"tripmap/api/internal/planner"
	"tripmap/api/internal/search"
	"tripmap/api/internal/store"
	"tripmap/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// TripView is the trip row as served to clients. Planner and status are
// raw documents; clients normalize on their side, but the server has
// already normalized on every write so rows never go bad at rest.
type TripView struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	OwnerID   string          `json:"ownerId"`
	Planner   json.RawMessage `json:"planner"`
	Status    json.RawMessage `json:"status"`
	UpdatedBy string          `json:"updatedBy"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// UpdateTripInput carries the field groups a push wants to replace. A nil
// group is untouched.
type UpdateTripInput struct {
	Planner json.RawMessage `json:"planner,omitempty"`
	Status  json.RawMessage `json:"status,omitempty"`
	Origin  string          `json:"origin"`
}

type dataStore interface {
	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	InsertTrip(context.Context, store.Trip, string) error
	GetTrip(context.Context, string) (store.Trip, error)
	VerifyJoinCode(context.Context, string, string) error
	UpdateTripPlanner(context.Context, string, json.RawMessage, string) error
	UpdateTripStatus(context.Context, string, json.RawMessage, string) error
	EnsureMembership(context.Context, string, string) error
	HasMembership(context.Context, string, string) (bool, error)
	Ping(ctx context.Context) error
}

type notifier interface {
	Publish(context.Context, notify.ChangeEvent) error
	Subscribe(context.Context, string) (<-chan notify.ChangeEvent, error)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	notifier notifier
	catalog  *catalog.Catalog
	search   *search.Service
}

func New(cfg config.Config, dataStore dataStore, notifier notifier, cat *catalog.Catalog, searchService *search.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		notifier: notifier,
		catalog:  cat,
		search:   searchService,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Login resolves (or creates) the named user and issues an access token.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Session{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	user, err := s.store.EnsureUserByName(ctx, name)
	if err != nil {
		return Session{}, fmt.Errorf("ensure user: %w", err)
	}
	return s.issueSession(user)
}

func (s *Service) issueSession(user store.User) (Session, error) {
	expiresAt := time.Now().Add(s.accessTTL())
	claims := auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  util.NewID("jti"),
		Exp:  expiresAt.Unix(),
	}
	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), claims)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) accessTTL() time.Duration {
	if s.cfg.AccessTTL > 0 {
		return s.cfg.AccessTTL
	}
	return 15 * time.Minute
}

// SessionFromToken validates a bearer token.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// CreateTrip inserts a fresh trip row owned by the caller, who becomes its
// first member. The plaintext join code is returned once; only its hash is
// stored.
func (s *Service) CreateTrip(ctx context.Context, session Session, title string) (TripView, string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = "Shared trip"
	}
	plannerDoc, _ := json.Marshal(planner.Default())
	statusDoc, _ := json.Marshal(planner.Status{})

	trip := store.Trip{
		ID:        util.NewID("trip"),
		Title:     title,
		OwnerID:   session.UserID,
		Planner:   plannerDoc,
		Status:    statusDoc,
		UpdatedBy: session.UserID,
	}
	joinCode := util.NewJoinCode(6)
	if err := s.store.InsertTrip(ctx, trip, joinCode); err != nil {
		return TripView{}, "", fmt.Errorf("insert trip: %w", err)
	}
	if err := s.store.EnsureMembership(ctx, trip.ID, session.UserID); err != nil {
		return TripView{}, "", fmt.Errorf("owner membership: %w", err)
	}
	stored, err := s.store.GetTrip(ctx, trip.ID)
	if err != nil {
		return TripView{}, "", fmt.Errorf("read back trip: %w", err)
	}
	return tripView(stored), joinCode, nil
}

// JoinTrip verifies the join code and registers membership. Joining a trip
// twice is success.
func (s *Service) JoinTrip(ctx context.Context, session Session, tripID, joinCode string) error {
	if err := s.store.VerifyJoinCode(ctx, tripID, joinCode); err != nil {
		if errors.Is(err, store.ErrBadJoinCode) {
			return domainError(http.StatusForbidden, "BAD_JOIN_CODE", "Join code does not match this trip", nil)
		}
		if errors.Is(err, sql.ErrNoRows) {
			return domainError(http.StatusNotFound, "TRIP_NOT_FOUND", "Trip not found", nil)
		}
		return fmt.Errorf("verify join code: %w", err)
	}
	if err := s.store.EnsureMembership(ctx, tripID, session.UserID); err != nil {
		return fmt.Errorf("ensure membership: %w", err)
	}
	return nil
}

// GetTrip returns the row. Callers must have joined first.
func (s *Service) GetTrip(ctx context.Context, session Session, tripID string) (TripView, error) {
	if err := s.requireMembership(ctx, session, tripID); err != nil {
		return TripView{}, err
	}
	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TripView{}, domainError(http.StatusNotFound, "TRIP_NOT_FOUND", "Trip not found", nil)
		}
		return TripView{}, fmt.Errorf("get trip: %w", err)
	}
	return tripView(trip), nil
}

// UpdateTrip replaces the supplied field groups. Payloads pass through the
// normalizer before storage, so the row at rest is always canonical, and
// an accepted update is broadcast to the trip's subscribers tagged with
// the pushing client's id.
func (s *Service) UpdateTrip(ctx context.Context, session Session, tripID string, input UpdateTripInput) (TripView, error) {
	if err := s.requireMembership(ctx, session, tripID); err != nil {
		return TripView{}, err
	}
	if len(input.Planner) == 0 && len(input.Status) == 0 {
		return TripView{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "at least one of planner or status is required", nil)
	}

	event := notify.ChangeEvent{TripID: tripID, Origin: input.Origin}
	if len(input.Planner) > 0 {
		normalized, _ := json.Marshal(planner.Normalize(input.Planner))
		if err := s.store.UpdateTripPlanner(ctx, tripID, normalized, session.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return TripView{}, domainError(http.StatusNotFound, "TRIP_NOT_FOUND", "Trip not found", nil)
			}
			return TripView{}, fmt.Errorf("update planner: %w", err)
		}
		event.Planner = normalized
	}
	if len(input.Status) > 0 {
		normalized, _ := json.Marshal(planner.NormalizeStatus(input.Status))
		if err := s.store.UpdateTripStatus(ctx, tripID, normalized, session.UserID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return TripView{}, domainError(http.StatusNotFound, "TRIP_NOT_FOUND", "Trip not found", nil)
			}
			return TripView{}, fmt.Errorf("update status: %w", err)
		}
		event.Status = normalized
	}

	trip, err := s.store.GetTrip(ctx, tripID)
	if err != nil {
		return TripView{}, fmt.Errorf("read back trip: %w", err)
	}
	event.UpdatedAt = trip.UpdatedAt
	if s.notifier != nil {
		if err := s.notifier.Publish(ctx, event); err != nil {
			// Best-effort relay; the row is already updated.
			log.Printf("app: publish change event for %s: %v", tripID, err)
		}
	}
	return tripView(trip), nil
}

// SubscribeTrip bridges the notifier to the HTTP layer.
func (s *Service) SubscribeTrip(ctx context.Context, session Session, tripID string) (<-chan notify.ChangeEvent, error) {
	if err := s.requireMembership(ctx, session, tripID); err != nil {
		return nil, err
	}
	if s.notifier == nil {
		return nil, domainError(http.StatusServiceUnavailable, "NOTIFY_UNAVAILABLE", "Change notifications are not configured", nil)
	}
	return s.notifier.Subscribe(ctx, tripID)
}

func (s *Service) requireMembership(ctx context.Context, session Session, tripID string) error {
	member, err := s.store.HasMembership(ctx, tripID, session.UserID)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return domainError(http.StatusForbidden, "NOT_A_MEMBER", "Join the trip before accessing it", nil)
	}
	return nil
}

// Places returns the full catalog.
func (s *Service) Places() *catalog.Catalog {
	return s.catalog
}

// Categories returns the catalog's category counts.
func (s *Service) Categories() []catalog.CategoryCount {
	return s.catalog.Categories()
}

// SearchPlaces runs a catalog search.
func (s *Service) SearchPlaces(q search.Query) search.Response {
	return s.search.Search(q)
}

func tripView(trip store.Trip) TripView {
	return TripView{
		ID:        trip.ID,
		Title:     trip.Title,
		OwnerID:   trip.OwnerID,
		Planner:   trip.Planner,
		Status:    trip.Status,
		UpdatedBy: trip.UpdatedBy,
		UpdatedAt: trip.UpdatedAt,
	}
}
