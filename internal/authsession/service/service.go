// Package service implements the session manager: the single owner of the
// authorization session lifecycle. Handlers translate HTTP to these
// operations; stores persist; nothing else mutates session status.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"mirpass/internal/audit"
	"mirpass/internal/authsession/metrics"
	"mirpass/internal/authsession/models"
	"mirpass/internal/authsession/pkce"
	"mirpass/internal/authsession/store"
	"mirpass/internal/credential"
	"mirpass/internal/device"
	regmodels "mirpass/internal/registry/models"
	dErrors "mirpass/pkg/domain-errors"
	"mirpass/pkg/platform/sentinel"
	"mirpass/pkg/random"
)

const (
	defaultSessionTTL   = 15 * time.Minute
	defaultPollInterval = 5 * time.Second

	authCodeBytes   = 32
	deviceCodeBytes = 32

	// userCodeAttempts bounds retries when a freshly minted user code
	// collides with a pending session.
	userCodeAttempts = 5
)

// AppResolver is the slice of the registry the session manager needs.
type AppResolver interface {
	Resolve(ctx context.Context, clientAppID string) (*regmodels.Application, error)
	VerifySecret(ctx context.Context, clientAppID, secret string) error
}

// CredentialMinter issues the bearer credential a consumed session yields.
type CredentialMinter interface {
	Mint(userID, clientAppID string) (*credential.Credential, error)
}

// Service orchestrates session initiation, consent, polling, and redemption.
type Service struct {
	store   store.Store
	apps    AppResolver
	issuer  CredentialMinter
	logger  *slog.Logger
	auditor audit.Recorder
	metrics *metrics.Metrics
	tracer  trace.Tracer
	nowTime func() time.Time

	sessionTTL   time.Duration
	pollInterval time.Duration
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithAuditRecorder(rec audit.Recorder) Option {
	return func(s *Service) { s.auditor = rec }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithNowTime(now func() time.Time) Option {
	return func(s *Service) { s.nowTime = now }
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) { s.sessionTTL = ttl }
}

func WithPollInterval(interval time.Duration) Option {
	return func(s *Service) { s.pollInterval = interval }
}

// New constructs a session manager.
func New(st store.Store, apps AppResolver, issuer CredentialMinter, opts ...Option) *Service {
	s := &Service{
		store:        st,
		apps:         apps,
		issuer:       issuer,
		logger:       slog.Default(),
		auditor:      audit.NopRecorder{},
		tracer:       otel.Tracer("mirpass/authsession"),
		nowTime:      time.Now,
		sessionTTL:   defaultSessionTTL,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitiateAuthCodeRequest carries the /oauth2/authorize parameters.
type InitiateAuthCodeRequest struct {
	ClientAppID         string
	RedirectURI         string
	CodeChallenge       string
	CodeChallengeMethod string
	State               string
	UserAgent           string
}

// InitiateAuthCode validates the client and redirect target and creates a
// pending authorization-code session. Nothing is persisted on validation
// failure: an untrusted redirect must leave no trace.
func (s *Service) InitiateAuthCode(ctx context.Context, req InitiateAuthCodeRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "authsession.InitiateAuthCode",
		trace.WithAttributes(attribute.String("client_app_id", req.ClientAppID)))
	defer span.End()
	start := s.nowTime()

	app, err := s.apps.Resolve(ctx, req.ClientAppID)
	if err != nil {
		return nil, err
	}
	if !app.TrustsURI(req.RedirectURI) {
		return nil, dErrors.New(dErrors.CodeInvalidRedirect, "redirect URI is not registered for this application")
	}
	if req.CodeChallenge == "" {
		// Only confidential clients may skip PKCE; they authenticate with
		// their secret at the token endpoint instead.
		if app.SecretHash == "" {
			return nil, dErrors.New(dErrors.CodeBadRequest, "code_challenge is required")
		}
	} else if req.CodeChallengeMethod != pkce.MethodS256 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "code_challenge_method must be S256")
	}
	if req.CodeChallenge == "" {
		req.CodeChallengeMethod = ""
	}

	now := s.nowTime()
	session := &models.Session{
		ID:                  uuid.NewString(),
		Flow:                models.FlowAuthCode,
		ClientAppID:         app.ID,
		Status:              models.StatusPending,
		DeviceDisplayName:   device.ParseUserAgent(req.UserAgent),
		CreatedAt:           now,
		ExpiresAt:           now.Add(s.sessionTTL),
		RedirectURI:         req.RedirectURI,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		State:               req.State,
	}
	if err := s.store.Create(ctx, session); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create session")
	}

	s.observeInitiate(start)
	s.incrementInitiated(models.FlowAuthCode)
	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionSessionInitiated,
		SessionID:   session.ID,
		ClientAppID: app.ID,
		Flow:        string(models.FlowAuthCode),
	})
	s.logger.Info("authorization session initiated",
		slog.String("session_id", session.ID),
		slog.String("client_app_id", app.ID),
		slog.String("flow", string(models.FlowAuthCode)))
	return session, nil
}

// InitiateDeviceCodeRequest carries the /oauth2/devicecode parameters.
type InitiateDeviceCodeRequest struct {
	ClientAppID string
	UserAgent   string
}

// InitiateDeviceCode creates a pending device-code session with a fresh
// device code and a human-typable user code unique among pending sessions.
func (s *Service) InitiateDeviceCode(ctx context.Context, req InitiateDeviceCodeRequest) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "authsession.InitiateDeviceCode",
		trace.WithAttributes(attribute.String("client_app_id", req.ClientAppID)))
	defer span.End()
	start := s.nowTime()

	app, err := s.apps.Resolve(ctx, req.ClientAppID)
	if err != nil {
		return nil, err
	}
	if !app.DeviceFlowEnabled {
		return nil, dErrors.New(dErrors.CodeForbidden, "device flow is not enabled for this application")
	}

	now := s.nowTime()
	session := &models.Session{
		ID:                uuid.NewString(),
		Flow:              models.FlowDeviceCode,
		ClientAppID:       app.ID,
		Status:            models.StatusPending,
		DeviceDisplayName: device.ParseUserAgent(req.UserAgent),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.sessionTTL),
		DeviceCode:        random.Token(deviceCodeBytes),
		PollInterval:      s.pollInterval,
		// First poll before the interval elapses is already too fast.
		LastPolledAt: now,
	}

	var createErr error
	for attempt := 0; attempt < userCodeAttempts; attempt++ {
		session.UserCode = random.UserCode()
		createErr = s.store.Create(ctx, session)
		if createErr == nil || !errors.Is(createErr, sentinel.ErrConflict) {
			break
		}
	}
	if createErr != nil {
		return nil, dErrors.Wrap(createErr, dErrors.CodeInternal, "failed to create session")
	}

	s.observeInitiate(start)
	s.incrementInitiated(models.FlowDeviceCode)
	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionSessionInitiated,
		SessionID:   session.ID,
		ClientAppID: app.ID,
		Flow:        string(models.FlowDeviceCode),
	})
	s.logger.Info("authorization session initiated",
		slog.String("session_id", session.ID),
		slog.String("client_app_id", app.ID),
		slog.String("flow", string(models.FlowDeviceCode)))
	return session, nil
}

// Decide records the user's consent decision. The authorization code for
// auth-code sessions is minted here, in the same store write that flips the
// status, so readers never observe authorized without a code. Replaying the
// same decision by the same user is a no-op returning the prior outcome;
// a conflicting replay fails with invalid_state.
func (s *Service) Decide(ctx context.Context, sessionID, userID string, approve bool) (*models.Session, error) {
	ctx, span := s.tracer.Start(ctx, "authsession.Decide",
		trace.WithAttributes(
			attribute.String("session_id", sessionID),
			attribute.Bool("approve", approve)))
	defer span.End()

	target := models.StatusDenied
	if approve {
		target = models.StatusAuthorized
	}

	session, err := s.store.Update(ctx, sessionID, func(sess *models.Session) error {
		now := s.nowTime()
		if sess.EffectiveStatus(now) == models.StatusExpired {
			return dErrors.New(dErrors.CodeSessionExpired, "session has expired")
		}
		if sess.Status != models.StatusPending {
			if sess.Status == target && sess.UserID == userID {
				return store.ErrNoChange
			}
			return dErrors.Newf(dErrors.CodeInvalidState, "session already %s", sess.Status)
		}

		sess.UserID = userID
		sess.Status = target
		if approve && sess.Flow == models.FlowAuthCode {
			sess.AuthorizationCode = random.Token(authCodeBytes)
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "session not found")
		}
		if dErrors.CodeOf(err) != dErrors.CodeInternal {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record decision")
	}

	decision := "denied"
	if approve {
		decision = "authorized"
	}
	s.incrementDecision(decision)
	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionDecisionRecorded,
		SessionID:   session.ID,
		ClientAppID: session.ClientAppID,
		UserID:      userID,
		Flow:        string(session.Flow),
		Decision:    decision,
	})
	s.logger.Info("consent decision recorded",
		slog.String("session_id", session.ID),
		slog.String("decision", decision))
	return session, nil
}

// GetStatus returns a read-only projection of a session. Expiry is resolved
// lazily: a session past its deadline reads as expired regardless of what is
// stored.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*models.View, error) {
	session, err := s.store.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	return s.view(ctx, session), nil
}

// GetStatusByUserCode resolves a device-flow user code typed on the
// verification page. Only pending sessions are discoverable this way; an
// expired pending session reads as expired so the page can say so.
func (s *Service) GetStatusByUserCode(ctx context.Context, userCode string) (*models.View, error) {
	session, err := s.store.FindPendingByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeSessionNotFound, "unknown or inactive user code")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if session.Expired(s.nowTime()) {
		return nil, dErrors.New(dErrors.CodeSessionExpired, "session has expired")
	}
	return s.view(ctx, session), nil
}

func (s *Service) view(ctx context.Context, session *models.Session) *models.View {
	v := &models.View{
		SessionID:         session.ID,
		AppID:             session.ClientAppID,
		Flow:              session.Flow,
		Status:            session.EffectiveStatus(s.nowTime()),
		UserID:            session.UserID,
		DeviceDisplayName: session.DeviceDisplayName,
		ExpiresAt:         session.ExpiresAt,
	}
	// Best effort: the view stays useful even if the app was suspended or
	// deleted after the session was created.
	if app, err := s.apps.Resolve(ctx, session.ClientAppID); err == nil {
		v.AppName = app.Name
		v.LogoURL = app.LogoURL
	}
	return v
}

// RedeemAuthCodeRequest carries the authorization_code grant parameters.
type RedeemAuthCodeRequest struct {
	Code         string
	CodeVerifier string
	ClientAppID  string
	ClientSecret string
}

// RedeemAuthCode exchanges an authorization code for a credential. The
// status swap authorized->consumed, the proof check, and the mint all happen
// inside the store's critical section, so exactly one of any number of
// concurrent attempts can win. Unknown codes, replays, client mismatches,
// and failed proofs are indistinguishable to the caller: invalid_grant.
func (s *Service) RedeemAuthCode(ctx context.Context, req RedeemAuthCodeRequest) (*credential.Credential, error) {
	ctx, span := s.tracer.Start(ctx, "authsession.RedeemAuthCode",
		trace.WithAttributes(attribute.String("client_app_id", req.ClientAppID)))
	defer span.End()
	start := s.nowTime()

	secretVerified := false
	if req.ClientSecret != "" {
		if err := s.apps.VerifySecret(ctx, req.ClientAppID, req.ClientSecret); err != nil {
			s.incrementRedemption(models.FlowAuthCode, "invalid_grant")
			return nil, err
		}
		secretVerified = true
	}

	var cred *credential.Credential
	session, err := s.store.UpdateByAuthCode(ctx, req.Code, func(sess *models.Session) error {
		now := s.nowTime()
		if sess.ClientAppID != req.ClientAppID {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code was not issued to this client")
		}
		if sess.Status == models.StatusConsumed {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code already used")
		}
		if sess.Expired(now) {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code has expired")
		}
		if sess.Status != models.StatusAuthorized {
			return dErrors.New(dErrors.CodeInvalidGrant, "authorization code is not redeemable")
		}
		if sess.CodeChallenge != "" {
			if !pkce.Verify(req.CodeVerifier, sess.CodeChallenge) {
				return dErrors.New(dErrors.CodeInvalidGrant, "proof verification failed")
			}
		} else if !secretVerified {
			return dErrors.New(dErrors.CodeInvalidGrant, "client authentication required")
		}

		minted, err := s.issuer.Mint(sess.UserID, sess.ClientAppID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint credential")
		}
		cred = minted
		sess.MarkConsumed()
		return nil
	})
	if err != nil {
		return nil, s.redemptionFailure(ctx, models.FlowAuthCode, req.ClientAppID, err, start)
	}

	s.observeRedemption(start)
	s.incrementRedemption(models.FlowAuthCode, "success")
	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionCodeRedeemed,
		SessionID:   session.ID,
		ClientAppID: session.ClientAppID,
		UserID:      session.UserID,
		Flow:        string(models.FlowAuthCode),
	})
	s.logger.Info("authorization code redeemed",
		slog.String("session_id", session.ID),
		slog.String("client_app_id", session.ClientAppID))
	return cred, nil
}

// RedeemDeviceCode is the device-flow polling endpoint's backend. Expected
// non-terminal outcomes (authorization_pending, slow_down) are returned as
// coded errors; on an authorized session it consumes the code and mints the
// credential atomically.
func (s *Service) RedeemDeviceCode(ctx context.Context, deviceCode, clientAppID string) (*credential.Credential, error) {
	ctx, span := s.tracer.Start(ctx, "authsession.RedeemDeviceCode",
		trace.WithAttributes(attribute.String("client_app_id", clientAppID)))
	defer span.End()
	start := s.nowTime()

	var cred *credential.Credential
	// pending is captured rather than returned as an error: the
	// LastPolledAt write must still commit on a pending poll, and a
	// callback error would abort it.
	pending := false
	session, err := s.store.UpdateByDeviceCode(ctx, deviceCode, func(sess *models.Session) error {
		now := s.nowTime()
		if sess.ClientAppID != clientAppID {
			return dErrors.New(dErrors.CodeInvalidGrant, "device code was not issued to this client")
		}
		if sess.Status == models.StatusConsumed {
			return dErrors.New(dErrors.CodeInvalidGrant, "device code already used")
		}
		// Slow-down is checked before expiry so an impatient client is told
		// to back off rather than handed a terminal error early.
		if now.Before(sess.LastPolledAt.Add(sess.PollInterval)) {
			return dErrors.New(dErrors.CodeSlowDown, "polling too frequently")
		}

		switch sess.EffectiveStatus(now) {
		case models.StatusExpired:
			return dErrors.New(dErrors.CodeExpiredToken, "device code has expired")
		case models.StatusDenied:
			return dErrors.New(dErrors.CodeAccessDenied, "user denied the request")
		case models.StatusPending:
			sess.LastPolledAt = now
			pending = true
			return nil
		case models.StatusAuthorized:
			minted, err := s.issuer.Mint(sess.UserID, sess.ClientAppID)
			if err != nil {
				return dErrors.Wrap(err, dErrors.CodeInternal, "failed to mint credential")
			}
			cred = minted
			sess.MarkConsumed()
			sess.LastPolledAt = now
			return nil
		default:
			return dErrors.Newf(dErrors.CodeInternal, "unexpected session status %s", sess.Status)
		}
	})
	if err != nil {
		return nil, s.redemptionFailure(ctx, models.FlowDeviceCode, clientAppID, err, start)
	}
	if pending {
		err := dErrors.New(dErrors.CodeAuthorizationPending, "user has not decided yet")
		return nil, s.redemptionFailure(ctx, models.FlowDeviceCode, clientAppID, err, start)
	}

	s.observeRedemption(start)
	s.incrementRedemption(models.FlowDeviceCode, "success")
	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionCodeRedeemed,
		SessionID:   session.ID,
		ClientAppID: session.ClientAppID,
		UserID:      session.UserID,
		Flow:        string(models.FlowDeviceCode),
	})
	s.logger.Info("device code redeemed",
		slog.String("session_id", session.ID),
		slog.String("client_app_id", session.ClientAppID))
	return cred, nil
}

func (s *Service) redemptionFailure(ctx context.Context, flow models.Flow, clientAppID string, err error, start time.Time) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		err = dErrors.New(dErrors.CodeInvalidGrant, "unknown code")
	}
	code := dErrors.CodeOf(err)
	s.observeRedemption(start)
	s.incrementRedemption(flow, string(code))

	switch code {
	case dErrors.CodeAuthorizationPending, dErrors.CodeSlowDown:
		if code == dErrors.CodeSlowDown {
			s.incrementSlowDown()
		}
		// Expected poll outcomes, not failures worth an audit trail.
		return err
	}

	s.auditor.Record(ctx, audit.Event{
		Action:      audit.ActionRedemptionFailed,
		ClientAppID: clientAppID,
		Flow:        string(flow),
		Reason:      string(code),
	})
	return err
}

// SweepExpired removes sessions whose deadline passed. Safe to run
// concurrently with request handling; lazy expiry already protects readers.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	deleted, err := s.store.DeleteExpired(ctx, s.nowTime())
	if err != nil {
		return deleted, dErrors.Wrap(err, dErrors.CodeInternal, "sweep failed")
	}
	if deleted > 0 {
		s.addSwept(deleted)
		s.logger.Info("expired sessions swept", slog.Int("deleted", deleted))
	}
	return deleted, nil
}

// RunSweeper runs SweepExpired on a ticker until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := s.SweepExpired(ctx); err != nil {
				s.logger.Error("sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Service) incrementInitiated(flow models.Flow) {
	if s.metrics != nil {
		s.metrics.IncrementInitiated(string(flow))
	}
}

func (s *Service) incrementDecision(decision string) {
	if s.metrics != nil {
		s.metrics.IncrementDecision(decision)
	}
}

func (s *Service) incrementRedemption(flow models.Flow, result string) {
	if s.metrics != nil {
		s.metrics.IncrementRedemption(string(flow), result)
	}
}

func (s *Service) incrementSlowDown() {
	if s.metrics != nil {
		s.metrics.IncrementSlowDown()
	}
}

func (s *Service) addSwept(n int) {
	if s.metrics != nil {
		s.metrics.AddSwept(n)
	}
}

func (s *Service) observeInitiate(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveInitiate(start)
	}
}

func (s *Service) observeRedemption(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveRedemption(start)
	}
}
