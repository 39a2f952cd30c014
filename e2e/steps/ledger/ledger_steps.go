package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/cucumber/godog"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	POST(path string, body interface{}) error
	GET(path string, headers map[string]string) error
	GetLastStatus() int
	GetLastBody() string
	GetResponseField(field string) (interface{}, error)
	SetAccessToken(token string)
	GetOwnerToken() string
	GetOtherToken() string
	Account(alias string) (string, bool)
	SetAccount(alias, address string)
	SaveAmount(name, value string)
	SavedAmount(name string) (string, bool)
}

// RegisterSteps registers ledger-related step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &ledgerSteps{tc: tc}

	// Setup steps
	ctx.Step(`^a fresh account "([^"]*)"$`, steps.freshAccount)
	ctx.Step(`^I am authenticated as the owner$`, steps.authenticateAsOwner)
	ctx.Step(`^I am authenticated as another account$`, steps.authenticateAsOther)
	ctx.Step(`^I am not authenticated$`, steps.notAuthenticated)

	// Ledger operations
	ctx.Step(`^"([^"]*)" mints once$`, steps.mintOnce)
	ctx.Step(`^"([^"]*)" mints (\d+) times$`, steps.mintTimes)
	ctx.Step(`^I owner-mint "([^"]*)" base units to "([^"]*)"$`, steps.ownerMint)
	ctx.Step(`^I read the account of "([^"]*)"$`, steps.readAccount)
	ctx.Step(`^I read the events of "([^"]*)"$`, steps.readEvents)
	ctx.Step(`^I remember the total supply as "([^"]*)"$`, steps.rememberSupply)

	// Assertions
	ctx.Step(`^the total supply should have grown by "([^"]*)" base units since "([^"]*)"$`, steps.supplyGrownBy)
	ctx.Step(`^the response should list (\d+) events$`, steps.eventCount)
	ctx.Step(`^event (\d+) should be "([^"]*)"$`, steps.eventKindAt)
}

type ledgerSteps struct {
	tc TestContext
}

func (s *ledgerSteps) freshAccount(ctx context.Context, alias string) error {
	var b [20]byte
	if _, err := rand.Read(b[:]); err != nil {
		return err
	}
	// Lowercase hex carries no checksum, so the server accepts it as-is.
	s.tc.SetAccount(alias, "0x"+hex.EncodeToString(b[:]))
	return nil
}

func (s *ledgerSteps) authenticateAsOwner(ctx context.Context) error {
	token := s.tc.GetOwnerToken()
	if token == "" {
		return godog.ErrPending
	}
	s.tc.SetAccessToken(token)
	return nil
}

func (s *ledgerSteps) authenticateAsOther(ctx context.Context) error {
	token := s.tc.GetOtherToken()
	if token == "" {
		return godog.ErrPending
	}
	s.tc.SetAccessToken(token)
	return nil
}

func (s *ledgerSteps) notAuthenticated(ctx context.Context) error {
	s.tc.SetAccessToken("")
	return nil
}

func (s *ledgerSteps) account(alias string) (string, error) {
	addr, ok := s.tc.Account(alias)
	if !ok {
		return "", fmt.Errorf("unknown account %q; declare it with a fresh account step", alias)
	}
	return addr, nil
}

func (s *ledgerSteps) mintOnce(ctx context.Context, alias string) error {
	addr, err := s.account(alias)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/mint", map[string]string{"recipient": addr})
}

func (s *ledgerSteps) mintTimes(ctx context.Context, alias string, n int) error {
	for i := 0; i < n; i++ {
		if err := s.mintOnce(ctx, alias); err != nil {
			return err
		}
		if status := s.tc.GetLastStatus(); status != 200 {
			return fmt.Errorf("mint %d of %d: status %d: %s", i+1, n, status, s.tc.GetLastBody())
		}
	}
	return nil
}

func (s *ledgerSteps) ownerMint(ctx context.Context, amount, alias string) error {
	addr, err := s.account(alias)
	if err != nil {
		return err
	}
	return s.tc.POST("/v1/owner/mint", map[string]string{"recipient": addr, "amount": amount})
}

func (s *ledgerSteps) readAccount(ctx context.Context, alias string) error {
	addr, err := s.account(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/v1/accounts/"+addr, nil)
}

func (s *ledgerSteps) readEvents(ctx context.Context, alias string) error {
	addr, err := s.account(alias)
	if err != nil {
		return err
	}
	return s.tc.GET("/v1/events?account="+addr, nil)
}

func (s *ledgerSteps) currentSupply() (*big.Int, error) {
	if err := s.tc.GET("/v1/token", nil); err != nil {
		return nil, err
	}
	v, err := s.tc.GetResponseField("total_supply.value")
	if err != nil {
		return nil, err
	}
	supply, ok := new(big.Int).SetString(fmt.Sprint(v), 10)
	if !ok {
		return nil, fmt.Errorf("total supply %v is not a decimal", v)
	}
	return supply, nil
}

func (s *ledgerSteps) rememberSupply(ctx context.Context, name string) error {
	supply, err := s.currentSupply()
	if err != nil {
		return err
	}
	s.tc.SaveAmount(name, supply.String())
	return nil
}

func (s *ledgerSteps) supplyGrownBy(ctx context.Context, delta, name string) error {
	saved, ok := s.tc.SavedAmount(name)
	if !ok {
		return fmt.Errorf("no remembered supply %q", name)
	}
	before, _ := new(big.Int).SetString(saved, 10)
	want, ok := new(big.Int).SetString(delta, 10)
	if !ok {
		return fmt.Errorf("delta %q is not a decimal", delta)
	}
	after, err := s.currentSupply()
	if err != nil {
		return err
	}
	if got := new(big.Int).Sub(after, before); got.Cmp(want) != 0 {
		return fmt.Errorf("supply grew by %s, want %s", got, want)
	}
	return nil
}

func (s *ledgerSteps) events() ([]interface{}, error) {
	v, err := s.tc.GetResponseField("events")
	if err != nil {
		return nil, err
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("events is not a list: %s", s.tc.GetLastBody())
	}
	return list, nil
}

func (s *ledgerSteps) eventCount(ctx context.Context, n int) error {
	list, err := s.events()
	if err != nil {
		return err
	}
	if len(list) != n {
		return fmt.Errorf("expected %d events, got %d", n, len(list))
	}
	return nil
}

func (s *ledgerSteps) eventKindAt(ctx context.Context, index int, kind string) error {
	list, err := s.events()
	if err != nil {
		return err
	}
	if index < 1 || index > len(list) {
		return fmt.Errorf("event %d out of range (have %d)", index, len(list))
	}
	event, _ := list[index-1].(map[string]interface{})
	if got := fmt.Sprint(event["kind"]); got != kind {
		return fmt.Errorf("event %d: expected kind %q, got %q", index, kind, got)
	}
	return nil
}
