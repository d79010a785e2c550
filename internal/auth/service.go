package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"TopEquations/pkg/logger"
)

const (
	grantTypePassword = "password"
	defaultTTL        = time.Hour
)

// Service 负责策展人接口的认证与授权。
type Service struct {
	mode   Mode
	store  Store
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	audit  *slog.Logger
}

// Option 定义可选配置。
type Option func(*Service)

// WithClock 替换签发与校验令牌使用的时钟。
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithAuditLogger 指定审计日志。
func WithAuditLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

// NewService 构造认证服务。JWT 模式要求账户目录与签名密钥。
func NewService(ctx context.Context, cfg Config, store Store, opts ...Option) (*Service, error) {
	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeDisabled
	}
	svc := &Service{
		mode:   mode,
		store:  store,
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    time.Now,
		audit:  logger.Audit(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}

	switch mode {
	case ModeDisabled:
		return svc, nil
	case ModeJWT:
		if store == nil {
			return nil, errors.New("jwt mode requires a curator store")
		}
		if strings.TrimSpace(cfg.Secret) == "" {
			return nil, errors.New("jwt secret must be configured")
		}
		svc.secret = []byte(cfg.Secret)
		if svc.ttl <= 0 {
			svc.ttl = defaultTTL
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode: %s", cfg.Mode)
	}

	if len(cfg.Seeds) > 0 {
		if writer, ok := store.(interface {
			ApplySeed(context.Context, Seed) error
		}); ok {
			for _, seed := range cfg.Seeds {
				if err := writer.ApplySeed(ctx, seed); err != nil {
					return nil, fmt.Errorf("apply seed %s: %w", seed.Username, err)
				}
			}
		}
	}
	return svc, nil
}

// Mode 返回当前工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// Enabled 判断是否需要认证。
func (s *Service) Enabled() bool { return s.Mode() != ModeDisabled }

// Authenticate 以用户名密码换取访问令牌。
func (s *Service) Authenticate(ctx context.Context, req TokenRequest) (*Token, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	grant := strings.ToLower(strings.TrimSpace(req.GrantType))
	if grant != "" && grant != grantTypePassword {
		return nil, ErrUnsupportedGrant
	}
	username := strings.TrimSpace(req.Username)
	user, err := s.store.FindUserByUsername(ctx, username)
	if err != nil {
		s.audit.Warn("login_failed", slog.String("user", username), slog.String("reason", "unknown user"))
		return nil, ErrInvalidCredentials
	}
	if user.Disabled {
		s.audit.Warn("login_failed", slog.String("user", username), slog.String("reason", "disabled"))
		return nil, ErrSubjectRevoked
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		s.audit.Warn("login_failed", slog.String("user", username), slog.String("reason", "bad password"))
		return nil, ErrInvalidCredentials
	}
	subject, err := s.store.LoadSubject(ctx, user.Username)
	if err != nil {
		return nil, fmt.Errorf("load subject: %w", err)
	}
	token, err := s.issue(subject)
	if err != nil {
		return nil, err
	}
	s.audit.Info("login", slog.String("user", subject.Username))
	return token, nil
}

// AuthenticateRequest 校验 Authorization 头并返回主体。
func (s *Service) AuthenticateRequest(ctx context.Context, authorization string) (*Subject, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	parts := strings.SplitN(strings.TrimSpace(authorization), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return nil, ErrMissingToken
	}
	raw := strings.TrimSpace(parts[1])
	if raw == "" {
		return nil, ErrMissingToken
	}
	claims, err := s.verify(raw)
	if err != nil {
		return nil, err
	}
	subject, err := s.store.LoadSubject(ctx, claims.Subject)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subject.Disabled {
		return nil, ErrSubjectRevoked
	}
	subject.normalise()
	return subject, nil
}

type claims struct {
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

func (s *Service) issue(subject *Subject) (*Token, error) {
	now := s.now()
	c := claims{
		Permissions: subject.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.Username,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	return &Token{
		AccessToken: signed,
		ExpiresIn:   int64(s.ttl.Seconds()),
		TokenType:   "Bearer",
		Permissions: subject.Permissions,
		Subject:     subject.Clone(),
	}, nil
}

func (s *Service) verify(raw string) (*claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !token.Valid || c.Subject == "" {
		return nil, ErrInvalidToken
	}
	return &c, nil
}

// HashPassword 使用 bcrypt 计算密码哈希，供配置策展人账户时使用。
func HashPassword(password string) (string, error) {
	if strings.TrimSpace(password) == "" {
		return "", errors.New("password cannot be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func verifyPassword(hashed, password string) bool {
	if hashed == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
}
