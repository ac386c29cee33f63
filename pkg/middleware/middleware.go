package middleware

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/LeeeWayyy/execution-core/internal/auth"
	"github.com/LeeeWayyy/execution-core/pkg/response"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	visitors = make(map[string]*visitor)
	mu       sync.RWMutex

	// Configure limits per endpoint type
	authLimit    = rate.Limit(10.0 / 60.0)   // 10 requests per minute
	tradingLimit = rate.Limit(100.0 / 60.0)  // 100 requests per minute
	statusLimit  = rate.Limit(1000.0 / 60.0) // 1000 requests per minute
)

// Cleanup old visitors periodically
func init() {
	go cleanupVisitors()
}

func getLimiter(path, clientIP string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	key := clientIP + ":" + path
	v, exists := visitors[key]

	if !exists {
		var limit rate.Limit
		switch {
		case strings.HasPrefix(path, "/api/v1/auth"):
			limit = authLimit
		case strings.HasPrefix(path, "/api/v1/orders"):
			limit = tradingLimit
		case strings.HasPrefix(path, "/api/v1/positions"):
			limit = statusLimit
		default:
			limit = rate.Inf // No limit for other paths
		}

		v = &visitor{
			limiter:  rate.NewLimiter(limit, 1), // burst of 1
			lastSeen: time.Now(),
		}
		visitors[key] = v
	}

	v.lastSeen = time.Now()
	return v.limiter
}

func cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		mu.Lock()
		for ip, v := range visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(visitors, ip)
			}
		}
		mu.Unlock()
	}
}

func RateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientID := c.GetString("client_id")
		if clientID == "" {
			clientID = c.ClientIP()
		}

		limiter := getLimiter(c.FullPath(), clientID)
		if !limiter.Allow() {
			response.BadRequest(c, "Rate limit exceeded. Please try again later.")
			c.Abort()
			return
		}

		c.Next()
	}
}

// JWTAuth validates the bearer token and places client_id and role into the
// request context.
func JWTAuth(authService *auth.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validateToken(c, authService)
		if err != nil {
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// OperatorAuth requires the token to carry the given role. Used for the
// kill-switch disengage route, which only operator admins may call.
func OperatorAuth(authService *auth.Service, requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := validateToken(c, authService)
		if err != nil {
			return
		}

		if claims.Role != requiredRole {
			response.Forbidden(c, fmt.Sprintf("Requires %s role", requiredRole))
			c.Abort()
			return
		}

		setClaims(c, claims)
		c.Next()
	}
}

// InternalAuth guards internal-only routes such as the circuit-breaker
// heartbeat with a shared secret header instead of a client token.
func InternalAuth(internalSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if internalSecret == "" || c.GetHeader("X-Internal-Secret") != internalSecret {
			response.Unauthorized(c, "Invalid internal credentials")
			c.Abort()
			return
		}
		c.Next()
	}
}

func setClaims(c *gin.Context, claims *auth.Claims) {
	c.Set("claims", claims)
	c.Set("client_id", claims.ClientID)
	c.Set("role", claims.Role)
}

func validateToken(c *gin.Context, authService *auth.Service) (*auth.Claims, error) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		response.Unauthorized(c, "Authorization header required")
		c.Abort()
		return nil, fmt.Errorf("authorization header required")
	}

	bearerToken := strings.Split(authHeader, " ")
	if len(bearerToken) != 2 || strings.ToLower(bearerToken[0]) != "bearer" {
		response.Unauthorized(c, "Invalid authorization header format")
		c.Abort()
		return nil, fmt.Errorf("invalid authorization header format")
	}

	claims, err := authService.ValidateToken(bearerToken[1])
	if err != nil {
		response.Unauthorized(c, "Invalid token")
		c.Abort()
		return nil, fmt.Errorf("invalid token: %w", err)
	}

	if claims.ClientID == "" {
		response.Unauthorized(c, "Missing required claim: client_id")
		c.Abort()
		return nil, fmt.Errorf("missing client_id claim")
	}

	return claims, nil
}
