// Package service implements the server-to-server SSO login flow: a client
// application's backend opens a login session, the user confirms it on the
// broker's frontend, and the application backend polls until it receives a
// one-shot ticket it can verify for the user's identity.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mirpass/internal/audit"
	regmodels "mirpass/internal/registry/models"
	"mirpass/internal/ssologin/models"
	"mirpass/internal/ssologin/store"
	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/sentinel"
)

const defaultLoginTTL = 10 * time.Minute

// AppResolver is the slice of the registry the login flow needs.
type AppResolver interface {
	Resolve(ctx context.Context, clientAppID string) (*regmodels.Application, error)
}

// TicketIssuer mints and verifies the one-shot SSO tickets.
type TicketIssuer interface {
	MintSSOTicket(userID, clientAppID string) (string, error)
	VerifySSOTicket(ticket string) (userID, clientAppID string, err error)
}

// Service orchestrates the SSO login handshake.
type Service struct {
	store    store.Store
	apps     AppResolver
	tickets  TicketIssuer
	logger   *slog.Logger
	auditor  audit.Recorder
	nowTime  func() time.Time
	loginTTL time.Duration
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(rec audit.Recorder) Option {
	return func(s *Service) { s.auditor = rec }
}

func WithNowTime(now func() time.Time) Option {
	return func(s *Service) { s.nowTime = now }
}

func WithLoginTTL(ttl time.Duration) Option {
	return func(s *Service) { s.loginTTL = ttl }
}

// New constructs an SSO login Service.
func New(st store.Store, apps AppResolver, tickets TicketIssuer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		apps:     apps,
		tickets:  tickets,
		logger:   slog.Default(),
		auditor:  audit.NopRecorder{},
		nowTime:  time.Now,
		loginTTL: defaultLoginTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Init opens a pending login session for the already-authenticated
// application (the API key middleware resolved it).
func (s *Service) Init(ctx context.Context, appID string) (*models.LoginSession, error) {
	if _, err := s.apps.Resolve(ctx, appID); err != nil {
		return nil, err
	}

	now := s.nowTime()
	session := &models.LoginSession{
		ID:        uuid.NewString(),
		AppID:     appID,
		Status:    models.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(s.loginTTL),
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create login session")
	}

	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionSSOLoginStarted,
		SessionID:   session.ID,
		ClientAppID: appID,
	})
	s.logger.Info("sso login session opened",
		slog.String("session_id", session.ID),
		slog.String("client_app_id", appID))
	return session, nil
}

// Details returns what the login page shows: which application is asking,
// and whether the session is still actionable.
func (s *Service) Details(ctx context.Context, sessionID string) (*models.Details, error) {
	session, err := s.find(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Expired(s.nowTime()) {
		return nil, dErrors.New(dErrors.CodeSessionExpired, "login session has expired")
	}

	details := &models.Details{
		SessionID: session.ID,
		AppID:     session.AppID,
		Status:    session.Status,
		ExpiresAt: session.ExpiresAt,
	}
	if app, err := s.apps.Resolve(ctx, session.AppID); err == nil {
		details.AppName = app.Name
		details.LogoURL = app.LogoURL
	}
	return details, nil
}

// Confirm binds the authenticated user to the login session. Confirming
// twice as the same user is a no-op; a different user or a spent session
// fails with invalid_state. The application's standing is re-checked here:
// a suspension issued after Init must still block the login.
func (s *Service) Confirm(ctx context.Context, sessionID, userID string) error {
	// Resolve first so a suspended app reads as forbidden, not invalid_state.
	current, err := s.find(ctx, sessionID)
	if err != nil {
		return err
	}
	appID := current.AppID
	if _, err := s.apps.Resolve(ctx, appID); err != nil {
		if dErrors.Is(err, dErrors.CodeInvalidClient) {
			return dErrors.New(dErrors.CodeForbidden, "application is not allowed to log users in")
		}
		return err
	}

	_, err = s.store.Update(ctx, sessionID, func(session *models.LoginSession) error {
		now := s.nowTime()
		if session.Expired(now) {
			return dErrors.New(dErrors.CodeSessionExpired, "login session has expired")
		}
		switch session.Status {
		case models.StatusPending:
			session.Status = models.StatusConfirmed
			session.UserID = userID
			confirmedAt := now
			session.ConfirmedAt = &confirmedAt
			return nil
		case models.StatusConfirmed:
			if session.UserID == userID {
				return store.ErrNoChange
			}
			return dErrors.New(dErrors.CodeInvalidState, "login session confirmed by another user")
		default:
			return dErrors.New(dErrors.CodeInvalidState, "login session already claimed")
		}
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeSessionNotFound, "login session not found")
		}
		return err
	}

	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionSSOLoginApproved,
		SessionID:   sessionID,
		ClientAppID: appID,
		UserID:      userID,
	})
	s.logger.Info("sso login confirmed",
		slog.String("session_id", sessionID),
		slog.String("client_app_id", appID))
	return nil
}

// PollResult is what the application backend receives while polling.
type PollResult struct {
	Status models.Status `json:"status"`
	Ticket string        `json:"ticket,omitempty"`
}

// Poll reports the session state to the owning application. The first poll
// after confirmation claims the session: the ticket is minted inside the
// store's critical section and handed out exactly once.
func (s *Service) Poll(ctx context.Context, sessionID, appID string) (*PollResult, error) {
	var ticket string
	_, err := s.store.Update(ctx, sessionID, func(session *models.LoginSession) error {
		now := s.nowTime()
		if session.AppID != appID {
			// Do not leak that the session exists.
			return dErrors.New(dErrors.CodeSessionNotFound, "login session not found")
		}
		if session.Expired(now) {
			return dErrors.New(dErrors.CodeSessionExpired, "login session has expired")
		}
		switch session.Status {
		case models.StatusPending:
			return store.ErrNoChange
		case models.StatusConfirmed:
			minted, err := s.tickets.MintSSOTicket(session.UserID, session.AppID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint sso ticket")
			}
			ticket = minted
			session.Status = models.StatusClaimed
			return nil
		default:
			return dErrors.New(dErrors.CodeSessionNotFound, "login session already claimed")
		}
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "login session not found")
		}
		return nil, err
	}

	if ticket == "" {
		return &PollResult{Status: models.StatusPending}, nil
	}
	return &PollResult{Status: models.StatusConfirmed, Ticket: ticket}, nil
}

// Verify checks a ticket presented by an application backend and returns the
// user it vouches for. Tickets minted for another application are rejected.
func (s *Service) Verify(ctx context.Context, ticket, appID string) (string, error) {
	userID, ticketAppID, err := s.tickets.VerifySSOTicket(ticket)
	if err != nil {
		return "", err
	}
	if ticketAppID != appID {
		return "", dErrors.New(dErrors.CodeUnauthorized, "ticket was issued to another application")
	}

	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionSSOLoginVerified,
		ClientAppID: appID,
		UserID:      userID,
	})
	return userID, nil
}

// SweepExpired removes login sessions whose deadline passed.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.nowTime())
	if err != nil {
		return deleted, dErrors.Wrap(err, dErrors.CodeInternal, "sweep failed")
	}
	return deleted, nil
}

func (s *Service) find(ctx context.Context, sessionID string) (*models.LoginSession, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "login session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load login session")
	}
	return session, nil
}
