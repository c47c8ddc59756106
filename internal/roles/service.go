package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/reembolso/internal/shared"
)

// Source looks up role names and principal details for a user.
type Source interface {
	Roles(ctx context.Context, userID int64) ([]Role, error)
	Principal(ctx context.Context, userID int64) (shared.Principal, error)
}

// Resolver maps a principal to its role set.
type Resolver interface {
	Resolve(ctx context.Context, p shared.Principal) Set
}

// Service resolves roles and principals on top of a Source.
type Service struct {
	source  Source
	logger  *slog.Logger
	timeout time.Duration
}

// NewService builds a Service. timeout bounds each source call.
func NewService(source Source, logger *slog.Logger, timeout time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger, timeout: timeout}
}

// Resolve returns the roles held by p. Unauthenticated principals and lookup
// failures both yield the empty set.
func (s *Service) Resolve(ctx context.Context, p shared.Principal) Set {
	if s == nil || s.source == nil || !p.Authenticated() {
		return Set{}
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	list, err := s.source.Roles(ctx, p.UserID)
	if err != nil {
		s.logger.Warn("resolve roles", slog.Int64("user_id", p.UserID), slog.Any("error", err))
		return Set{}
	}
	return NewSet(list...)
}

// HasRole is a convenience over Resolve.
func (s *Service) HasRole(ctx context.Context, p shared.Principal, role Role) bool {
	return s.Resolve(ctx, p).Has(role)
}

// Principal loads the principal snapshot for userID.
func (s *Service) Principal(ctx context.Context, userID int64) (shared.Principal, error) {
	if s == nil || s.source == nil {
		return shared.Principal{}, errors.New("roles: source not configured")
	}
	if userID == 0 {
		return shared.Principal{}, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	p, err := s.source.Principal(ctx, userID)
	if err != nil {
		return shared.Principal{}, shared.Unavailable("roles: load principal", err)
	}
	return p, nil
}

func (s *Service) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Options selects and configures the role source.
type Options struct {
	Source      string
	FixturePath string
	CacheTTL    time.Duration
	Timeout     time.Duration
}

// Source names accepted by NewFromOptions.
const (
	SourcePostgres = "postgres"
	SourceFixture  = "fixture"
)

// NewFromOptions wires the configured source, optionally behind a Redis cache.
func NewFromOptions(opts Options, pool *pgxpool.Pool, client *redis.Client, logger *slog.Logger) (*Service, error) {
	var source Source
	switch opts.Source {
	case SourcePostgres, "":
		if pool == nil {
			return nil, errors.New("roles: postgres source requires a pool")
		}
		source = NewRepository(pool)
	case SourceFixture:
		fixture, err := LoadFixtureFile(opts.FixturePath)
		if err != nil {
			return nil, err
		}
		source = fixture
	default:
		return nil, fmt.Errorf("roles: unknown source %q", opts.Source)
	}
	if client != nil && opts.CacheTTL > 0 {
		source = NewCachedSource(source, client, opts.CacheTTL)
	}
	return NewService(source, logger, opts.Timeout), nil
}
