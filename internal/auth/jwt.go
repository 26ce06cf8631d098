package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenRevoked = errors.New("令牌已失效")
	ErrTokenInvalid = errors.New("无效的令牌")
)

// JWTService JWT 令牌服务，登出黑名单存 Redis，未配置时存进程内
type JWTService struct {
	secretKey   []byte
	issuer      string
	accessTTL   time.Duration
	redisClient redis.UniversalClient
	now         func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token -> 过期时间
}

// NewJWTService 创建 JWT 服务，redisClient 为 nil 时黑名单仅在本进程有效
func NewJWTService(secretKey, issuer string, accessTTL time.Duration, redisClient redis.UniversalClient) *JWTService {
	if accessTTL <= 0 {
		accessTTL = 2 * time.Hour
	}
	return &JWTService{
		secretKey:   []byte(secretKey),
		issuer:      issuer,
		accessTTL:   accessTTL,
		redisClient: redisClient,
		now:         time.Now,
		revoked:     make(map[string]time.Time),
	}
}

// TokenClaims JWT 声明
type TokenClaims struct {
	UserID   string `json:"uid"`
	UserRole string `json:"urole"`
	jwt.RegisteredClaims
}

// IssuedToken 登录返回的令牌
type IssuedToken struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Issue 为用户签发访问令牌
func (s *JWTService) Issue(userID, userRole string) (*IssuedToken, error) {
	now := s.now()
	expires := now.Add(s.accessTTL)
	claims := &TokenClaims{
		UserID:   userID,
		UserRole: userRole,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secretKey)
	if err != nil {
		return nil, fmt.Errorf("签名令牌失败: %w", err)
	}
	return &IssuedToken{AccessToken: signed, TokenType: "Bearer", ExpiresAt: expires}, nil
}

// Validate 校验签名、有效期与黑名单
func (s *JWTService) Validate(ctx context.Context, tokenString string) (*TokenClaims, error) {
	if s.isRevoked(ctx, tokenString) {
		return nil, ErrTokenRevoked
	}

	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("无效的签名算法: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// Revoke 将令牌加入黑名单直至其过期
func (s *JWTService) Revoke(ctx context.Context, tokenString string) error {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &TokenClaims{})
	if err != nil {
		return fmt.Errorf("解析令牌失败: %w", err)
	}
	claims, ok := token.Claims.(*TokenClaims)
	if !ok || claims.ExpiresAt == nil {
		return ErrTokenInvalid
	}

	ttl := claims.ExpiresAt.Time.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if s.redisClient == nil {
		s.revokeLocal(tokenString, claims.ExpiresAt.Time)
		return nil
	}
	if err := s.redisClient.Set(ctx, blacklistKey(tokenString), "revoked", ttl).Err(); err != nil {
		return fmt.Errorf("加入黑名单失败: %w", err)
	}
	return nil
}

func (s *JWTService) revokeLocal(tokenString string, expires time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for token, exp := range s.revoked {
		if !exp.After(now) {
			delete(s.revoked, token)
		}
	}
	s.revoked[tokenString] = expires
}

func (s *JWTService) isRevoked(ctx context.Context, tokenString string) bool {
	if s.redisClient == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		exp, ok := s.revoked[tokenString]
		return ok && exp.After(s.now())
	}
	exists, err := s.redisClient.Exists(ctx, blacklistKey(tokenString)).Result()
	if err != nil {
		// Redis 故障时放行，避免所有请求失败
		return false
	}
	return exists > 0
}

func blacklistKey(token string) string {
	return "mdm:blacklist:token:" + token
}

// ExtractTokenFromBearer 从 Authorization 头中提取令牌
func ExtractTokenFromBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return strings.TrimSpace(header)
}
