package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims carried by analytics API tokens
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type AuthorizationConfig struct {
	Secret string
	Issuer string
}

// ContextSubject is the gin context key holding the token subject
const ContextSubject = "subject"

// ParseToken validates an HS256 token and returns its claims
func ParseToken(cfg AuthorizationConfig, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// IssueToken signs a token for subject valid for ttl
func IssueToken(cfg AuthorizationConfig, subject, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
}

// Middleware rejects requests without a valid bearer token
func Middleware(log *zap.Logger, cfg AuthorizationConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || tokenString == "" {
			abort(c, "missing bearer token")
			return
		}
		claims, err := ParseToken(cfg, tokenString)
		if err != nil {
			log.Debug("rejected bearer token", zap.Error(err))
			abort(c, "JWT is invalid.")
			return
		}
		c.Set(ContextSubject, claims.Subject)
		c.Set("role", claims.Role)
		c.Next()
	}
}

func abort(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"status":      "error",
		"error":       "unauthorized",
		"message":     message,
		"status_code": http.StatusUnauthorized,
	})
}

// RBAC enforcement: requireRole checks if user has required role
func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		userRole, ok := c.Get("role")
		roleStr, _ := userRole.(string)
		if !ok || roleStr == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "role not found"})
			return
		}
		if roleStr != requiredRole && roleStr != "admin" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"message": "insufficient role"})
			return
		}
		c.Next()
	}
}
