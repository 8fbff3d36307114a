package server

import (
	"time"

	"github.com/gin-gonic/gin"
	analyticsdomain "github.com/smallbiznis/homeledger/internal/analytics/domain"
	"github.com/smallbiznis/homeledger/internal/outcome"
)

const messageAnalyticsAggregated = "Commission analytics aggregated"

type analyticsView struct {
	Date               string `json:"date"`
	TotalCommission    string `json:"totalCommission"`
	PlatformCommission string `json:"platformCommission"`
	AgentCommission    string `json:"agentCommission"`
	TotalTransactions  int64  `json:"totalTransactions"`
}

// RunCommissionAnalytics re-runs the nightly rollup. The date defaults to
// yesterday in UTC; rerunning a date replaces its row.
func (s *Server) RunCommissionAnalytics(c *gin.Context) {
	date, err := parseOptionalDate(c.Query("date"))
	if err != nil {
		respondError(c, invalidRequest("date must be YYYY-MM-DD"))
		return
	}
	target := analyticsdomain.Yesterday(s.clock.Now())
	if date != nil {
		target = *date
	}

	row, err := s.aggregator.Aggregate(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, outcome.SuccessWith(messageAnalyticsAggregated, toAnalyticsView(row)), nil)
}

func toAnalyticsView(row *analyticsdomain.CommissionAnalytics) analyticsView {
	return analyticsView{
		Date:               time.Time(row.Date).UTC().Format(dateOnlyLayout),
		TotalCommission:    row.TotalCommission.StringFixed(2),
		PlatformCommission: row.PlatformCommission.StringFixed(2),
		AgentCommission:    row.AgentCommission.StringFixed(2),
		TotalTransactions:  row.TotalTransactions,
	}
}
