package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/redis/go-redis/v9"

	"ttkn/internal/ledger/models"
	"ttkn/internal/ledger/service"
	"ttkn/internal/ledger/store"
	"ttkn/pkg/domain"
	"ttkn/pkg/platform/sentinel"
)

const (
	defaultKeyPrefix  = "ttkn"
	defaultMaxRetries = 16
	eventPageSize     = 256
)

// RedisLedger keeps the ledger in Redis. Every committed transition bumps a
// version key; transitions and views WATCH it, so a concurrent commit aborts
// the EXEC and the attempt is re-run against fresh state.
type RedisLedger struct {
	client     *redis.Client
	prefix     string
	maxRetries int
}

type RedisLedgerOption func(*RedisLedger)

// WithKeyPrefix namespaces every key. Defaults to "ttkn".
func WithKeyPrefix(prefix string) RedisLedgerOption {
	return func(s *RedisLedger) {
		s.prefix = prefix
	}
}

// WithMaxRetries bounds optimistic re-runs before giving up with
// sentinel.ErrConflict.
func WithMaxRetries(n int) RedisLedgerOption {
	return func(s *RedisLedger) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

func New(client *redis.Client, opts ...RedisLedgerOption) *RedisLedger {
	s := &RedisLedger{
		client:     client,
		prefix:     defaultKeyPrefix,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisLedger) key(parts ...string) string {
	k := s.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

func (s *RedisLedger) versionKey() string { return s.key("version") }

func (s *RedisLedger) RunInTx(ctx context.Context, fn func(tx service.Tx) error) error {
	return s.retry(ctx, func(rtx *redis.Tx) error {
		lastSeq, err := rtx.LLen(ctx, s.key("events")).Uint64()
		if err != nil {
			return unavailable(err)
		}
		overlay := store.NewOverlay(snapshot{s: s, c: rtx}, lastSeq)
		if err := fn(overlay); err != nil {
			// A domain rejection only counts if the state it saw was not torn.
			if verr := s.validate(ctx, rtx); verr != nil {
				return verr
			}
			return err
		}

		changes := overlay.Changes()
		if changes.Empty() {
			return s.validate(ctx, rtx)
		}
		payloads, err := encodeEvents(changes.Events)
		if err != nil {
			return err
		}
		_, err = rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.apply(ctx, pipe, changes, payloads)
			pipe.Incr(ctx, s.versionKey())
			return nil
		})
		return err
	})
}

func (s *RedisLedger) View(ctx context.Context, fn func(r service.Reader) error) error {
	return s.retry(ctx, func(rtx *redis.Tx) error {
		if err := fn(snapshot{s: s, c: rtx}); err != nil {
			if verr := s.validate(ctx, rtx); verr != nil {
				return verr
			}
			return err
		}
		return s.validate(ctx, rtx)
	})
}

// retry runs attempt under WATCH until it commits or retries are exhausted.
func (s *RedisLedger) retry(ctx context.Context, attempt func(rtx *redis.Tx) error) error {
	for i := 0; i < s.maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.client.Watch(ctx, attempt, s.versionKey())
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("%w: ledger version changed %d times", sentinel.ErrConflict, s.maxRetries)
}

// validate confirms the watched version is unchanged by running an EXEC
// with a single no-op command.
func (s *RedisLedger) validate(ctx context.Context, rtx *redis.Tx) error {
	_, err := rtx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Ping(ctx)
		return nil
	})
	return err
}

func (s *RedisLedger) apply(ctx context.Context, pipe redis.Pipeliner, c *store.Changes, payloads []any) {
	if c.Owner != nil {
		pipe.Set(ctx, s.key("owner"), c.Owner.Key(), 0)
	}
	if c.Supply != nil {
		pipe.Set(ctx, s.key("supply"), c.Supply.Dec(), 0)
	}
	for account, balance := range c.Balances {
		pipe.Set(ctx, s.key("balance", account.Key()), balance.Dec(), 0)
	}
	for account, minted := range c.Minted {
		pipe.Set(ctx, s.key("minted", account.Key()), minted.Dec(), 0)
	}
	if len(c.Recipients) > 0 {
		members := make([]any, 0, len(c.Recipients))
		for _, account := range c.Recipients {
			members = append(members, account.Key())
		}
		pipe.SAdd(ctx, s.key("recipients"), members...)
	}
	if len(payloads) > 0 {
		pipe.RPush(ctx, s.key("events"), payloads...)
	}
}

// reads is the subset of commands a snapshot issues on the watched connection.
type reads interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SIsMember(ctx context.Context, key string, member interface{}) *redis.BoolCmd
	SCard(ctx context.Context, key string) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

// snapshot reads through the watched connection.
type snapshot struct {
	s *RedisLedger
	c reads
}

func (r snapshot) Owner(ctx context.Context) (domain.Account, error) {
	v, err := r.c.Get(ctx, r.s.key("owner")).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Account{}, sentinel.ErrNotFound
	}
	if err != nil {
		return domain.Account{}, unavailable(err)
	}
	account, err := domain.ParseAccount(v)
	if err != nil {
		return domain.Account{}, fmt.Errorf("%w: stored owner %q: %v", sentinel.ErrInvalidState, v, err)
	}
	return account, nil
}

func (r snapshot) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	return r.amount(ctx, r.s.key("supply"))
}

func (r snapshot) BalanceOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	return r.amount(ctx, r.s.key("balance", account.Key()))
}

func (r snapshot) MintedOf(ctx context.Context, account domain.Account) (*uint256.Int, error) {
	return r.amount(ctx, r.s.key("minted", account.Key()))
}

func (r snapshot) amount(ctx context.Context, key string) (*uint256.Int, error) {
	v, err := r.c.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return new(uint256.Int), nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return parseAmount(v)
}

func (r snapshot) IsRecipient(ctx context.Context, account domain.Account) (bool, error) {
	ok, err := r.c.SIsMember(ctx, r.s.key("recipients"), account.Key()).Result()
	if err != nil {
		return false, unavailable(err)
	}
	return ok, nil
}

func (r snapshot) RecipientCount(ctx context.Context) (uint64, error) {
	n, err := r.c.SCard(ctx, r.s.key("recipients")).Result()
	if err != nil {
		return 0, unavailable(err)
	}
	return uint64(n), nil
}

// Events walks the list from the cursor in pages. Seq n is stored at index n-1.
func (r snapshot) Events(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	filter.Normalize()
	out := make([]models.Event, 0)
	start := int64(filter.AfterSeq)
	for len(out) < filter.Limit {
		raw, err := r.c.LRange(ctx, r.s.key("events"), start, start+eventPageSize-1).Result()
		if err != nil {
			return nil, unavailable(err)
		}
		for _, item := range raw {
			e, err := decodeEvent(item)
			if err != nil {
				return nil, err
			}
			if filter.Matches(e) {
				out = append(out, e)
				if len(out) >= filter.Limit {
					break
				}
			}
		}
		if len(raw) < eventPageSize {
			break
		}
		start += eventPageSize
	}
	return out, nil
}

// eventRecord is the JSON form stored in the events list.
type eventRecord struct {
	Seq          uint64    `json:"seq"`
	TransitionID uuid.UUID `json:"transition_id"`
	Kind         string    `json:"kind"`
	Account      string    `json:"account"`
	Amount       string    `json:"amount,omitempty"`
	TotalMinted  string    `json:"total_minted,omitempty"`
	PersonCount  uint64    `json:"person_count,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func encodeEvents(events []models.Event) ([]any, error) {
	out := make([]any, 0, len(events))
	for _, e := range events {
		rec := eventRecord{
			Seq:          e.Seq,
			TransitionID: e.TransitionID,
			Kind:         string(e.Kind),
			Account:      e.Account.Key(),
			PersonCount:  e.PersonCount,
			Timestamp:    e.Timestamp,
		}
		if e.Kind == models.EventTokensMinted {
			rec.Amount = e.Amount.Dec()
			rec.TotalMinted = e.TotalMinted.Dec()
		}
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		out = append(out, string(b))
	}
	return out, nil
}

func decodeEvent(raw string) (models.Event, error) {
	var rec eventRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return models.Event{}, fmt.Errorf("%w: decode event: %v", sentinel.ErrInvalidState, err)
	}
	account, err := domain.ParseAccount(rec.Account)
	if err != nil {
		return models.Event{}, fmt.Errorf("%w: stored event account %q", sentinel.ErrInvalidState, rec.Account)
	}
	e := models.Event{
		Seq:          rec.Seq,
		TransitionID: rec.TransitionID,
		Kind:         models.EventKind(rec.Kind),
		Account:      account,
		PersonCount:  rec.PersonCount,
		Timestamp:    rec.Timestamp.UTC(),
	}
	if rec.Amount != "" {
		a, err := parseAmount(rec.Amount)
		if err != nil {
			return models.Event{}, err
		}
		e.Amount = *a
	}
	if rec.TotalMinted != "" {
		tm, err := parseAmount(rec.TotalMinted)
		if err != nil {
			return models.Event{}, err
		}
		e.TotalMinted = *tm
	}
	return e, nil
}

func parseAmount(text string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(text)
	if err != nil {
		return nil, fmt.Errorf("%w: stored amount %q: %v", sentinel.ErrInvalidState, text, err)
	}
	return v, nil
}

func unavailable(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: redis: %v", sentinel.ErrUnavailable, err)
}

var _ service.Store = (*RedisLedger)(nil)
