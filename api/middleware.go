package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/cargolane/notify-core/internal/token"
)

const (
	authorizationHeaderKey  = "Authorization"
	authorizationTypeBearer = "Bearer"
	authorizationPayloadKey = "authPayload"
	bearerTokenKey          = "bearerToken"
)

// authMiddleware authenticates the user. The bearer arrives either in the
// Authorization header or, for stream subscriptions where headers are not
// available to the browser EventSource, in the token query parameter.
func authMiddleware(tokenMaker token.Maker) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		accessToken := ctx.Query("token")

		if accessToken == "" {
			authorizationHeader := ctx.GetHeader(authorizationHeaderKey)
			if authorizationHeader == "" {
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(ErrMissingBearerToken))
				return
			}

			fields := strings.Fields(authorizationHeader)
			if len(fields) != 2 {
				err := errors.New("invalid authorization header format")
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(err))
				return
			}

			if fields[0] != authorizationTypeBearer {
				err := errors.New("unsupported authorization header type")
				ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(err))
				return
			}

			accessToken = fields[1]
		}

		payload, err := tokenMaker.VerifyToken(accessToken)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(err))
			return
		}

		ctx.Set(authorizationPayloadKey, payload)
		ctx.Set(bearerTokenKey, accessToken)
		ctx.Next()
	}
}

// rateLimiterStore holds a map of user IDs to their rate limiters.
type rateLimiterStore struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
}

var limiterStore = &rateLimiterStore{
	limiters: make(map[string]*rate.Limiter),
}

// getLimiter returns the rate limiter for a user, creating one if it doesn't exist.
func (s *rateLimiterStore) getLimiter(userID string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	limiter, exists := s.limiters[userID]
	if !exists {
		// 10 requests per second with burst capacity of 20.
		limiter = rate.NewLimiter(rate.Every(time.Second/10), 20)
		s.limiters[userID] = limiter
	}
	return limiter
}

// rateLimitMiddleware limits REST requests per authenticated user.
func rateLimitMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		authPayload := ctx.MustGet(authorizationPayloadKey).(*token.Payload)

		limiter := limiterStore.getLimiter(authPayload.Subject)
		if !limiter.Allow() {
			log.Warn().Str("user_id", authPayload.Subject).Msg("rate limit exceeded")
			err := errors.New("rate limit exceeded, try again later")
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(err))
			return
		}
		ctx.Next()
	}
}
