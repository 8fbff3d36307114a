package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/homeledger/pkg/db/pagination"
)

var (
	ErrInvalidAgent        = errors.New("invalid_agent")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrWithdrawalBusy      = errors.New("withdrawal_in_progress")
)

type Service interface {
	RequestWithdrawal(ctx context.Context, agentID snowflake.ID, amount decimal.Decimal) (*Withdrawal, error)
	Balance(ctx context.Context, agentID snowflake.ID) (Balance, error)
	List(ctx context.Context, req ListRequest) (ListResponse, error)
}

type ListRequest struct {
	AgentID   snowflake.ID
	PageToken string
	PageSize  int
}

type ListResponse struct {
	Withdrawals []Withdrawal        `json:"withdrawals"`
	PageInfo    pagination.PageInfo `json:"pageInfo"`
}
