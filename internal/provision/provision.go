// Package provision creates working disposable accounts on the provider,
// retrying with a fresh local part whenever the address is already taken.
package provision

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"net/http"

	"tempmailproxy/internal/domain"
)

const (
	// MaxAttempts bounds the create/token/me sequence per request.
	MaxAttempts = 4

	LocalPartLength = 10

	passwordPrefix       = "P@"
	passwordRandomLength = 14

	localPartAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// Provider is the subset of the mail.tm client the provisioner drives.
type Provider interface {
	ListDomains(ctx context.Context) ([]json.RawMessage, error)
	CreateAccount(ctx context.Context, address, password string) (json.RawMessage, error)
	GetToken(ctx context.Context, address, password string) (json.RawMessage, error)
	GetAccountInfo(ctx context.Context, token string) (json.RawMessage, error)
}

// StatsRecorder receives provisioning outcomes. Errors are logged and dropped.
type StatsRecorder interface {
	RecordProvisioned(ctx context.Context, emailDomain string) error
	RecordConflict(ctx context.Context, emailDomain string) error
	RecordFailure(ctx context.Context, status int) error
}

type Provisioner struct {
	provider  Provider
	stats     StatsRecorder
	logger    *slog.Logger
	localPart func(n int) string
}

type Option func(*Provisioner)

// WithStats attaches a StatsRecorder.
func WithStats(s StatsRecorder) Option {
	return func(p *Provisioner) {
		p.stats = s
	}
}

// WithLocalPartGenerator overrides RandomLocalPart, mostly for tests.
func WithLocalPartGenerator(fn func(n int) string) Option {
	return func(p *Provisioner) {
		p.localPart = fn
	}
}

func New(provider Provider, logger *slog.Logger, opts ...Option) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provisioner{
		provider:  provider,
		logger:    logger,
		localPart: RandomLocalPart,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RandomLocalPart returns n characters drawn from lowercase letters and digits.
func RandomLocalPart(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = localPartAlphabet[rand.IntN(len(localPartAlphabet))]
	}
	return string(b)
}

// Create resolves the domain, local part and password, then runs up to
// MaxAttempts create/token/me sequences. A conflict regenerates the local part;
// any other failure is returned immediately. Accounts created by abandoned
// attempts stay upstream.
func (p *Provisioner) Create(ctx context.Context, req domain.NewAccountRequest) (*domain.AccountBundle, error) {
	emailDomain, err := p.resolveDomain(ctx, req.Domain)
	if err != nil {
		p.recordFailure(ctx, err)
		return nil, err
	}

	local := valueOr(req.Local, func() string { return p.localPart(LocalPartLength) })
	password := valueOr(req.Password, func() string { return passwordPrefix + p.localPart(passwordRandomLength) })
	address := local + "@" + emailDomain

	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		bundle, err := p.attempt(ctx, address, password)
		if err == nil {
			p.logger.InfoContext(ctx, "account provisioned",
				slog.String("address", address),
				slog.Int("attempt", attempt),
			)
			p.record(ctx, "provisioned", func(s StatsRecorder) error { return s.RecordProvisioned(ctx, emailDomain) })
			return bundle, nil
		}

		lastErr = err
		if !domain.IsConflict(err) {
			p.logger.WarnContext(ctx, "account provisioning failed",
				slog.String("address", address),
				slog.Int("attempt", attempt),
				slog.Int("status", domain.StatusOf(err)),
			)
			p.recordFailure(ctx, err)
			return nil, err
		}

		p.logger.InfoContext(ctx, "address taken, regenerating local part",
			slog.String("address", address),
			slog.Int("attempt", attempt),
		)
		p.record(ctx, "conflict", func(s StatsRecorder) error { return s.RecordConflict(ctx, emailDomain) })
		local = p.localPart(LocalPartLength)
		address = local + "@" + emailDomain
	}

	if lastErr == nil {
		lastErr = domain.NewError(domain.KindInternal, http.StatusInternalServerError, "Failed to create account", nil)
	}
	p.recordFailure(ctx, lastErr)
	return nil, lastErr
}

func (p *Provisioner) resolveDomain(ctx context.Context, override *string) (string, error) {
	domains, err := p.provider.ListDomains(ctx)
	if err != nil {
		return "", err
	}
	if len(domains) == 0 {
		return "", domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"No domains available from mail.tm", nil)
	}
	if override != nil && *override != "" {
		return *override, nil
	}

	var first struct {
		Domain string `json:"domain"`
	}
	if err := json.Unmarshal(domains[0], &first); err != nil || first.Domain == "" {
		return "", domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"Invalid domain from provider", err)
	}
	return first.Domain, nil
}

func (p *Provisioner) attempt(ctx context.Context, address, password string) (*domain.AccountBundle, error) {
	if _, err := p.provider.CreateAccount(ctx, address, password); err != nil {
		return nil, err
	}

	payload, err := p.provider.GetToken(ctx, address, password)
	if err != nil {
		return nil, err
	}
	var tok struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(payload, &tok); err != nil || tok.Token == "" {
		return nil, domain.NewError(domain.KindUpstreamUnavailable, http.StatusBadGateway,
			"Invalid token payload from provider", err)
	}

	account, err := p.provider.GetAccountInfo(ctx, tok.Token)
	if err != nil {
		return nil, err
	}

	return &domain.AccountBundle{
		Address:  address,
		Password: password,
		Token:    tok.Token,
		Account:  account,
	}, nil
}

func (p *Provisioner) recordFailure(ctx context.Context, err error) {
	status := domain.StatusOf(err)
	p.record(ctx, "failure", func(s StatsRecorder) error { return s.RecordFailure(ctx, status) })
}

func (p *Provisioner) record(ctx context.Context, outcome string, fn func(StatsRecorder) error) {
	if p.stats == nil {
		return
	}
	if err := fn(p.stats); err != nil {
		p.logger.WarnContext(ctx, "recording provisioning stats failed",
			slog.String("outcome", outcome),
			slog.Any("error", err),
		)
	}
}

func valueOr(v *string, fallback func() string) string {
	if v != nil && *v != "" {
		return *v
	}
	return fallback()
}
