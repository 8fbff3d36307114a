package server

import (
	"encoding/json"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/homeledger/internal/booking/domain"
	commissiondomain "github.com/smallbiznis/homeledger/internal/commission/domain"
	diasporaservice "github.com/smallbiznis/homeledger/internal/diaspora/service"
	"github.com/smallbiznis/homeledger/internal/outcome"
)

// paymentConfirmedRequest keeps the ids raw: a payment that is not
// confirmed is skipped whatever its ids hold. Amount and method are part of
// the event but commissions are priced from the booking, so they are not
// bound.
type paymentConfirmedRequest struct {
	ID        json.RawMessage `json:"id"`
	BookingID json.RawMessage `json:"bookingId"`
	Status    string          `json:"status"`
}

type bookingCreatedRequest struct {
	ID              string              `json:"id"`
	UserID          string              `json:"userId"`
	PropertyID      string              `json:"propertyId"`
	Price           decimal.NullDecimal `json:"price"`
	TransactionType string              `json:"transactionType"`
}

type commissionView struct {
	ID              string  `json:"id"`
	BookingID       string  `json:"bookingId"`
	AgentID         *string `json:"agentId"`
	Amount          string  `json:"amount"`
	TransactionType string  `json:"type"`
	CommissionFor   string  `json:"commissionFor"`
}

type paymentRunView struct {
	PaymentID   string           `json:"paymentId"`
	BookingID   string           `json:"bookingId"`
	State       string           `json:"state"`
	Inserted    int              `json:"inserted"`
	Commissions []commissionView `json:"commissions"`
}

func (s *Server) PaymentConfirmed(c *gin.Context) {
	var req paymentConfirmedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest("malformed payment payload"))
		return
	}

	event := commissiondomain.PaymentEvent{Status: bookingdomain.PaymentStatus(req.Status)}
	paymentID, paymentErr := parseRawID(req.ID)
	bookingID, bookingErr := parseRawID(req.BookingID)
	if event.Status == bookingdomain.PaymentStatusConfirmed && (paymentErr != nil || bookingErr != nil) {
		respondError(c, invalidRequest("payment ids must be snowflake ids"))
		return
	}
	event.PaymentID, event.BookingID = paymentID, bookingID

	run, err := s.commissions.OnPaymentConfirmed(c.Request.Context(), event)
	if err != nil {
		respondError(c, err)
		return
	}
	if run.State == commissiondomain.StageSkipped {
		respond(c, outcome.Success(run.Message), nil)
		return
	}
	respond(c, outcome.SuccessWith(run.Message, toPaymentRunView(run)), nil)
}

func (s *Server) BookingCreated(c *gin.Context) {
	var req bookingCreatedRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidRequest("malformed booking payload"))
		return
	}

	ids, err := parseIDs(req.ID, req.UserID, req.PropertyID)
	if err != nil {
		respondError(c, invalidRequest("booking ids must be snowflake ids"))
		return
	}
	price, ok := parseAmount(req.Price)
	if !ok {
		respondError(c, outcome.New(outcome.KindInvalidAmount, "price is required"))
		return
	}

	result, err := s.fees.OnBookingCreated(c.Request.Context(), diasporaservice.BookingEvent{
		ID:              ids[0],
		UserID:          ids[1],
		PropertyID:      ids[2],
		Price:           price,
		TransactionType: bookingdomain.TransactionType(req.TransactionType),
	})
	respond(c, result, err)
}

// parseRawID accepts an id sent as a JSON string or number. Absent and null
// ids are zero. On error the id is zero too.
func parseRawID(raw json.RawMessage) (snowflake.ID, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return 0, nil
	}
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, err
		}
	}
	id, err := parseOptionalSnowflakeID(text)
	if err != nil || id == nil {
		return 0, err
	}
	return *id, nil
}

// parseIDs parses each raw id. Blank ids become zero and are left for the
// handler to reject with its own message.
func parseIDs(raw ...string) ([]snowflake.ID, error) {
	ids := make([]snowflake.ID, len(raw))
	for i, value := range raw {
		id, err := parseOptionalSnowflakeID(value)
		if err != nil {
			return nil, err
		}
		if id != nil {
			ids[i] = *id
		}
	}
	return ids, nil
}

func toPaymentRunView(run commissiondomain.Run) paymentRunView {
	view := paymentRunView{
		PaymentID:   run.PaymentID.String(),
		BookingID:   run.BookingID.String(),
		State:       string(run.State),
		Inserted:    run.Inserted,
		Commissions: make([]commissionView, 0, len(run.Commissions)),
	}
	for _, commission := range run.Commissions {
		item := commissionView{
			ID:              commission.ID.String(),
			BookingID:       commission.BookingID.String(),
			Amount:          commission.Amount.StringFixed(2),
			TransactionType: string(commission.TransactionType),
			CommissionFor:   string(commission.CommissionFor),
		}
		if commission.AgentID != nil {
			agentID := commission.AgentID.String()
			item.AgentID = &agentID
		}
		view.Commissions = append(view.Commissions, item)
	}
	return view
}
