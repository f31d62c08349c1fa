package middleware

import (
	"context"
	"fmt"
	"strings"
	"time"

	"freight_server/pkg/apperr"
	"freight_server/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

// Roles carried in the "role" claim.
const (
	RoleOperator = "operator"
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// TokenBlacklist manages revoked tokens
type TokenBlacklist struct {
	redis  *redis.Client
	prefix string
}

var tokenBlacklist *TokenBlacklist

// InitTokenBlacklist initializes the token blacklist with Redis
func InitTokenBlacklist(redisClient *redis.Client) {
	if redisClient == nil {
		logger.Warn("Redis client not provided, token blacklist disabled")
		return
	}
	tokenBlacklist = &TokenBlacklist{
		redis:  redisClient,
		prefix: "token:blacklist:",
	}
}

// RevokeToken adds a token to the blacklist
func RevokeToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if tokenBlacklist == nil || tokenBlacklist.redis == nil {
		return nil
	}
	return tokenBlacklist.redis.Set(ctx, tokenBlacklist.prefix+tokenID, "1", expiry).Err()
}

// IsTokenRevoked checks if a token is blacklisted
func IsTokenRevoked(ctx context.Context, tokenID string) bool {
	if tokenBlacklist == nil || tokenBlacklist.redis == nil {
		return false
	}
	exists, _ := tokenBlacklist.redis.Exists(ctx, tokenBlacklist.prefix+tokenID).Result()
	return exists > 0
}

// OperatorClaims are the claims issued to operators and reviewers.
type OperatorClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuth validates HS256 operator tokens and stores the subject and role in locals.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		var tokenString string
		if authHeader := c.Get("Authorization"); authHeader != "" {
			parts := strings.Split(authHeader, " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return apperr.Unauthorized("missing authorization")
		}

		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("JWT secret not configured")
			}
			return []byte(secret), nil
		}, jwt.WithLeeway(time.Minute), jwt.WithIssuedAt())
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return apperr.InvalidToken("invalid token")
		}

		if claims.ID != "" && IsTokenRevoked(c.Context(), claims.ID) {
			return apperr.InvalidToken("token has been revoked")
		}
		if claims.Subject == "" {
			return apperr.InvalidToken("missing subject in token")
		}

		role := claims.Role
		if role == "" {
			role = RoleOperator
		}

		c.Locals("operator", claims.Subject)
		c.Locals("role", role)
		return c.Next()
	}
}

// RequireRole rejects callers whose role is not one of roles. Admin passes every check.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals("role").(string)
		if role == RoleAdmin {
			return c.Next()
		}
		for _, r := range roles {
			if role == r {
				return c.Next()
			}
		}
		return apperr.New(apperr.CodeForbidden, "insufficient role", fiber.StatusForbidden)
	}
}

// Operator returns the authenticated subject, or "" when auth is disabled.
func Operator(c *fiber.Ctx) string {
	op, _ := c.Locals("operator").(string)
	return op
}
