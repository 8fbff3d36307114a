package server

import (
	"math"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/homeledger/internal/outcome"
	"go.uber.org/zap"
)

// ThrottleWithdrawals applies the per-agent withdrawal rate limit. When the
// limiter itself fails the request is let through.
func (s *Server) ThrottleWithdrawals() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Enabled() {
			c.Next()
			return
		}

		agentID := c.Param("agent_id")
		res, err := s.limiter.AllowAgent(c.Request.Context(), agentID)
		if err != nil {
			s.log.Warn("withdrawal rate limiter unavailable", zap.String("agent_id", agentID), zap.Error(err))
			c.Next()
			return
		}
		if res.Allowed {
			c.Next()
			return
		}

		if res.RetryAfter > 0 {
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(res.RetryAfter.Seconds()))))
		}
		respondError(c, outcome.New(outcome.KindRateLimited, "too many withdrawal requests").WithAgent(agentID))
	}
}
