package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mirpass/internal/credential"
	regmodels "mirpass/internal/registry/models"
	regservice "mirpass/internal/registry/service"
	regmem "mirpass/internal/registry/store/memory"
	"mirpass/internal/ssologin/models"
	loginmem "mirpass/internal/ssologin/store/memory"
	dErrors "mirpass/pkg/domain-errors"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	now     time.Time
	apps    *regmem.Store
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }

	s.apps = regmem.New()
	registry := regservice.New(s.apps, regservice.WithNowTime(clock))
	issuer := credential.New(testSigningKey, "https://sso.example", 7*24*time.Hour,
		credential.WithNowTime(clock))

	s.service = New(loginmem.New(), registry, issuer, WithNowTime(clock))

	s.Require().NoError(s.apps.Create(s.ctx, &regmodels.Application{
		ID:          "app-1",
		Name:        "Demo App",
		LogoURL:     "https://cdn.example/logo.png",
		TrustedURIs: []string{"https://app.example/callback"},
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}))
}

func (s *ServiceSuite) TestInit() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, session.Status)
	s.Equal("app-1", session.AppID)
	s.Equal(s.now.Add(10*time.Minute), session.ExpiresAt)
}

func (s *ServiceSuite) TestInitUnknownApp() {
	_, err := s.service.Init(s.ctx, "ghost")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidClient))
}

func (s *ServiceSuite) TestDetails() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	details, err := s.service.Details(s.ctx, session.ID)
	s.Require().NoError(err)
	s.Equal("Demo App", details.AppName)
	s.Equal(models.StatusPending, details.Status)
}

func (s *ServiceSuite) TestDetailsExpired() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	s.now = s.now.Add(11 * time.Minute)
	_, err = s.service.Details(s.ctx, session.ID)
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeSessionExpired))
}

func (s *ServiceSuite) TestConfirmAndClaim() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	// Polling before confirmation reports pending.
	result, err := s.service.Poll(s.ctx, session.ID, "app-1")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, result.Status)
	s.Empty(result.Ticket)

	s.Require().NoError(s.service.Confirm(s.ctx, session.ID, "user-1"))

	// First poll after confirmation claims the ticket.
	result, err = s.service.Poll(s.ctx, session.ID, "app-1")
	s.Require().NoError(err)
	s.Equal(models.StatusConfirmed, result.Status)
	s.NotEmpty(result.Ticket)

	// The ticket vouches for the user, but only to the owning app.
	userID, err := s.service.Verify(s.ctx, result.Ticket, "app-1")
	s.Require().NoError(err)
	s.Equal("user-1", userID)

	// The session is spent: no second ticket.
	_, err = s.service.Poll(s.ctx, session.ID, "app-1")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeSessionNotFound))
}

func (s *ServiceSuite) TestConfirmIdempotentSameUser() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	s.Require().NoError(s.service.Confirm(s.ctx, session.ID, "user-1"))
	s.Require().NoError(s.service.Confirm(s.ctx, session.ID, "user-1"))
}

func (s *ServiceSuite) TestConfirmConflictingUser() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	s.Require().NoError(s.service.Confirm(s.ctx, session.ID, "user-1"))
	err = s.service.Confirm(s.ctx, session.ID, "user-2")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeInvalidState))
}

func (s *ServiceSuite) TestConfirmSuspendedApp() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	// Suspend after init; the confirm must still be blocked.
	until := s.now.Add(time.Hour)
	app, err := s.apps.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	app.SuspendedUntil = &until
	s.Require().NoError(s.apps.Update(s.ctx, app))

	err = s.service.Confirm(s.ctx, session.ID, "user-1")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeForbidden))
}

func (s *ServiceSuite) TestConfirmExpired() {
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	s.now = s.now.Add(11 * time.Minute)
	err = s.service.Confirm(s.ctx, session.ID, "user-1")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeSessionExpired))
}

func (s *ServiceSuite) TestPollWrongApp() {
	s.Require().NoError(s.apps.Create(s.ctx, &regmodels.Application{
		ID: "app-2", Name: "Other", CreatedAt: s.now, UpdatedAt: s.now,
	}))
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	_, err = s.service.Poll(s.ctx, session.ID, "app-2")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeSessionNotFound), "foreign sessions must be indistinguishable from missing ones")
}

func (s *ServiceSuite) TestVerifyRejectsForeignTicket() {
	s.Require().NoError(s.apps.Create(s.ctx, &regmodels.Application{
		ID: "app-2", Name: "Other", CreatedAt: s.now, UpdatedAt: s.now,
	}))
	session, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)
	s.Require().NoError(s.service.Confirm(s.ctx, session.ID, "user-1"))
	result, err := s.service.Poll(s.ctx, session.ID, "app-1")
	s.Require().NoError(err)

	_, err = s.service.Verify(s.ctx, result.Ticket, "app-2")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestVerifyRejectsAccessToken() {
	issuer := credential.New(testSigningKey, "https://sso.example", 7*24*time.Hour,
		credential.WithNowTime(func() time.Time { return s.now }))
	cred, err := issuer.Mint("user-1", "app-1")
	s.Require().NoError(err)

	_, err = s.service.Verify(s.ctx, cred.AccessToken, "app-1")
	s.Require().Error(err)
	s.True(dErrors.Is(err, dErrors.CodeUnauthorized))
}

func (s *ServiceSuite) TestSweepExpired() {
	_, err := s.service.Init(s.ctx, "app-1")
	s.Require().NoError(err)

	deleted, err := s.service.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Zero(deleted)

	s.now = s.now.Add(11 * time.Minute)
	deleted, err = s.service.SweepExpired(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, deleted)
}
