package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	xerrors "TopEquations/internal/errors"
)

// 认证子系统返回的通用错误。
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSubjectRevoked     = errors.New("subject is disabled")
)

// Code 将认证错误映射为领域错误码。
func Code(err error) xerrors.Code {
	switch {
	case errors.Is(err, ErrPermissionDenied), errors.Is(err, ErrSubjectRevoked):
		return xerrors.CodePermissionDenied
	case errors.Is(err, ErrUnsupportedGrant):
		return xerrors.CodeInvalidArgument
	case errors.Is(err, ErrDisabled):
		return xerrors.CodeNotFound
	default:
		return xerrors.CodeUnauthenticated
	}
}

// 策展人权限。
const (
	PermissionScore   = "submissions:score"
	PermissionPromote = "submissions:promote"
	PermissionPublish = "ledger:publish"
)

// AllPermissions 是未显式配置权限的策展人获得的权限集合。
var AllPermissions = []string{PermissionScore, PermissionPromote, PermissionPublish}

// Store 是策展人账户目录，实现必须并发安全。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, username string) (*Subject, error)
}

// User 是带凭据的账户。
type User struct {
	Username     string
	PasswordHash string
	Disabled     bool
}

// Subject 是写入令牌并通过上下文传递给处理器的身份信息。
type Subject struct {
	Username    string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断主体是否具备指定权限。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 确认主体具备全部所需权限。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone 复制主体。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		Username:    s.Username,
		Permissions: slices.Clone(s.Permissions),
		Disabled:    s.Disabled,
	}
	clone.normalise()
	return clone
}

// TokenRequest 是令牌端点接受的请求体。
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// Token 是签发的访问令牌。
type Token struct {
	AccessToken string   `json:"access_token"`
	ExpiresIn   int64    `json:"expires_in"`
	TokenType   string   `json:"token_type"`
	Permissions []string `json:"permissions,omitempty"`
	Subject     *Subject `json:"-"`
}

// Mode 是认证工作模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// Config 配置认证服务。
type Config struct {
	Mode   Mode
	Secret string
	Issuer string
	TTL    time.Duration
	Seeds  []Seed
}

// Seed 描述启动时导入的策展人账户。PasswordHash 为 bcrypt 哈希，为空时使用 Password 现场计算。
type Seed struct {
	Username     string
	Password     string
	PasswordHash string
	Permissions  []string
	Disabled     bool
}
