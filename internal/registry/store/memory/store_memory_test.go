package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"mirpass/internal/registry/models"
	"mirpass/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	ctx   context.Context
	store *Store
	now   time.Time
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = New()
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *StoreSuite) newApp(id string) *models.Application {
	return &models.Application{
		ID:          id,
		Name:        "Demo App",
		TrustedURIs: []string{"https://app.example/callback"},
		APIKeyHash:  "hash-" + id,
		CreatedAt:   s.now,
		UpdatedAt:   s.now,
	}
}

func (s *StoreSuite) TestCreateAndFind() {
	s.Require().NoError(s.store.Create(s.ctx, s.newApp("app-1")))

	app, err := s.store.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	s.Equal("Demo App", app.Name)

	_, err = s.store.FindByID(s.ctx, "missing")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestCreateDuplicateConflicts() {
	s.Require().NoError(s.store.Create(s.ctx, s.newApp("app-1")))
	s.Require().ErrorIs(s.store.Create(s.ctx, s.newApp("app-1")), sentinel.ErrConflict)
}

func (s *StoreSuite) TestUpdate() {
	s.Require().NoError(s.store.Create(s.ctx, s.newApp("app-1")))

	app, err := s.store.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	app.Name = "Renamed"
	s.Require().NoError(s.store.Update(s.ctx, app))

	found, err := s.store.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	s.Equal("Renamed", found.Name)
}

func (s *StoreSuite) TestUpdateMissing() {
	s.Require().ErrorIs(s.store.Update(s.ctx, s.newApp("ghost")), sentinel.ErrNotFound)
}

func (s *StoreSuite) TestFindByAPIKeyHash() {
	s.Require().NoError(s.store.Create(s.ctx, s.newApp("app-1")))

	app, err := s.store.FindByAPIKeyHash(s.ctx, "hash-app-1")
	s.Require().NoError(err)
	s.Equal("app-1", app.ID)

	_, err = s.store.FindByAPIKeyHash(s.ctx, "nope")
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *StoreSuite) TestReturnedApplicationIsACopy() {
	s.Require().NoError(s.store.Create(s.ctx, s.newApp("app-1")))

	app, err := s.store.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	app.Name = "Mutated"

	again, err := s.store.FindByID(s.ctx, "app-1")
	s.Require().NoError(err)
	s.Equal("Demo App", again.Name)
}
