//go:build integration

package postgres_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"ttkn/internal/ledger/service"
	"ttkn/internal/ledger/store/postgres"
	"ttkn/internal/ledger/store/storetest"
	"ttkn/pkg/platform/sentinel"
	"ttkn/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	storetest.Suite
	postgres *containers.PostgresContainer
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.NewStore = func() service.Store { return postgres.New(s.postgres.DB) }
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"ledger_events", "ledger_recipients", "ledger_accounts", "ledger_meta")
	s.Require().NoError(err)
	s.Suite.SetupTest()
}

// TestOutOfRangeSupplyIsInvalidState verifies a NUMERIC value wider than
// 256 bits is reported instead of truncated.
func (s *PostgresStoreSuite) TestOutOfRangeSupplyIsInvalidState() {
	huge := "9" + strings.Repeat("0", 77)
	err := s.postgres.Exec(s.Ctx,
		`INSERT INTO ledger_meta (id, owner, total_supply) VALUES (1, $1, $2::numeric)`,
		storetest.Owner.Key(), huge)
	s.Require().NoError(err)

	err = s.Store.View(s.Ctx, func(r service.Reader) error {
		_, err := r.TotalSupply(s.Ctx)
		return err
	})
	s.ErrorIs(err, sentinel.ErrInvalidState)
}

// TestCanceledContext verifies a canceled caller never reaches the lock.
func (s *PostgresStoreSuite) TestCanceledContext() {
	ctx, cancel := context.WithCancel(s.Ctx)
	cancel()
	err := s.Store.RunInTx(ctx, func(service.Tx) error { return nil })
	s.ErrorIs(err, context.Canceled)
}
