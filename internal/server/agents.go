package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/internal/outcome"
	withdrawaldomain "github.com/smallbiznis/homeledger/internal/withdrawal/domain"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
)

const (
	messageWithdrawalRequested = "Withdrawal requested"
	messageAgentBalance        = "Agent balance"
	messageWithdrawals         = "Withdrawals"
)

type withdrawalRequest struct {
	Amount decimal.NullDecimal `json:"amount"`
}

type withdrawalView struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

type balanceView struct {
	AgentID        string `json:"agentId"`
	TotalEarnings  string `json:"totalEarnings"`
	TotalWithdrawn string `json:"totalWithdrawn"`
	Available      string `json:"available"`
}

type withdrawalListView struct {
	Withdrawals []withdrawalView    `json:"withdrawals"`
	PageInfo    pagination.PageInfo `json:"pageInfo"`
}

func (s *Server) RequestWithdrawal(c *gin.Context) {
	agentID, ok := s.agentIDParam(c)
	if !ok {
		return
	}

	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest("malformed withdrawal payload"))
		return
	}
	amount, ok := parseAmount(req.Amount)
	if !ok {
		respondError(c, outcome.New(outcome.KindInvalidAmount, "amount is required").WithAgent(agentID.String()))
		return
	}

	withdrawal, err := s.withdrawals.RequestWithdrawal(c.Request.Context(), agentID, amount)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, outcome.SuccessWith(messageWithdrawalRequested, toWithdrawalView(*withdrawal)), nil)
}

func (s *Server) AgentBalance(c *gin.Context) {
	agentID, ok := s.agentIDParam(c)
	if !ok {
		return
	}

	balance, err := s.withdrawals.Balance(c.Request.Context(), agentID)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, outcome.SuccessWith(messageAgentBalance, balanceView{
		AgentID:        balance.AgentID.String(),
		TotalEarnings:  balance.TotalEarnings.StringFixed(2),
		TotalWithdrawn: balance.TotalWithdrawn.StringFixed(2),
		Available:      balance.Available.StringFixed(2),
	}), nil)
}

func (s *Server) ListWithdrawals(c *gin.Context) {
	agentID, ok := s.agentIDParam(c)
	if !ok {
		return
	}
	pageSize, err := parseOptionalInt(c.Query("page_size"))
	if err != nil {
		respondError(c, invalidRequest("page_size must be a non-negative integer"))
		return
	}

	resp, err := s.withdrawals.List(c.Request.Context(), withdrawaldomain.ListRequest{
		AgentID:   agentID,
		PageToken: c.Query("page_token"),
		PageSize:  pageSize,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	view := withdrawalListView{
		Withdrawals: make([]withdrawalView, 0, len(resp.Withdrawals)),
		PageInfo:    resp.PageInfo,
	}
	for _, withdrawal := range resp.Withdrawals {
		view.Withdrawals = append(view.Withdrawals, toWithdrawalView(withdrawal))
	}
	respond(c, outcome.SuccessWith(messageWithdrawals, view), nil)
}

func (s *Server) agentIDParam(c *gin.Context) (snowflake.ID, bool) {
	agentID, err := parseSnowflakeID(c.Param("agent_id"))
	if err != nil {
		respondError(c, invalidRequest("agent_id must be a snowflake id"))
		return 0, false
	}
	return agentID, true
}

func toWithdrawalView(withdrawal withdrawaldomain.Withdrawal) withdrawalView {
	return withdrawalView{
		ID:        withdrawal.ID.String(),
		AgentID:   withdrawal.AgentID.String(),
		Amount:    withdrawal.Amount.StringFixed(2),
		Status:    string(withdrawal.Status),
		CreatedAt: withdrawal.CreatedAt.UTC().Format(timestampLayout),
	}
}
