package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog/log"

	"twap-core/internal/order"
	"twap-core/pkg/tokens"
)

type createOrderRequest struct {
	TokenIn         string `json:"token_in" binding:"required"`
	TokenOut        string `json:"token_out" binding:"required"`
	TotalAmountIn   string `json:"total_amount_in" binding:"required"`
	Intervals       uint64 `json:"intervals" binding:"required,gt=0"`
	IntervalSeconds uint64 `json:"interval_seconds" binding:"required,gt=0"`
	MinAmountOut    string `json:"min_amount_out"`
	PrepaidFee      string `json:"prepaid_fee"`
}

type approveRequest struct {
	Token  string `json:"token" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

type faucetRequest struct {
	Token string `json:"token"`
}

type listAttemptsQuery struct {
	Limit int `form:"limit"`
}

func (q *listAttemptsQuery) normalize() {
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if q.Limit > 500 {
		q.Limit = 500
	}
}

type tokenView struct {
	Symbol   string `json:"symbol"`
	Address  string `json:"address"`
	Decimals int32  `json:"decimals"`
}

type orderView struct {
	ID                   uint64    `json:"id"`
	Owner                string    `json:"owner"`
	TokenIn              tokenView `json:"token_in"`
	TokenOut             tokenView `json:"token_out"`
	TotalAmountIn        string    `json:"total_amount_in"`
	Intervals            uint64    `json:"intervals"`
	AmountPerInterval    string    `json:"amount_per_interval"`
	IntervalSeconds      uint64    `json:"interval_seconds"`
	RemainingIntervals   uint64    `json:"remaining_intervals"`
	ExecutedAmount       string    `json:"executed_amount"`
	AmountOutTotal       string    `json:"amount_out_total"`
	AveragePrice         string    `json:"average_price,omitempty"`
	MinAmountOut         string    `json:"min_amount_out"`
	LastExecutionTime    int64     `json:"last_execution_time"`
	IsActive             bool      `json:"is_active"`
	Status               string    `json:"status"`
	ExecutionFeeReserved string    `json:"execution_fee_reserved"`
	FeePaid              string    `json:"fee_paid"`
	CreatedAt            int64     `json:"created_at"`
	Version              uint64    `json:"version"`
}

type summaryView struct {
	OrderID            uint64  `json:"order_id"`
	ProgressPct        float64 `json:"progress_pct"`
	NextEligibleTime   int64   `json:"next_eligible_time"`
	SecondsUntilNext   int64   `json:"seconds_until_next"`
	IsActive           bool    `json:"is_active"`
	Status             string  `json:"status"`
	RemainingIntervals uint64  `json:"remaining_intervals"`
}

type receiptView struct {
	AttemptID          string `json:"attempt_id"`
	OrderID            uint64 `json:"order_id"`
	Keeper             string `json:"keeper"`
	AmountIn           string `json:"amount_in"`
	AmountOut          string `json:"amount_out"`
	KeeperFee          string `json:"keeper_fee"`
	RemainingIntervals uint64 `json:"remaining_intervals"`
	ExecutedAt         int64  `json:"executed_at"`
	Completed          bool   `json:"completed"`
}

type attemptView struct {
	ID        string `json:"id"`
	OrderID   uint64 `json:"order_id"`
	Keeper    string `json:"keeper"`
	Outcome   string `json:"outcome"`
	AmountIn  string `json:"amount_in"`
	AmountOut string `json:"amount_out"`
	Error     string `json:"error,omitempty"`
	At        int64  `json:"at"`
	LatencyMs int64  `json:"latency_ms"`
}

type balanceView struct {
	tokenView
	Balance      string `json:"balance"`
	BalanceRaw   string `json:"balance_raw"`
	Allowance    string `json:"allowance,omitempty"`
	AllowanceRaw string `json:"allowance_raw,omitempty"`
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// errorStatus maps engine errors to an HTTP status and a stable code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, order.ErrInvalidParameters), errors.Is(err, tokens.ErrInvalidAmount), errors.Is(err, tokens.ErrUnknownToken):
		return http.StatusBadRequest, "INVALID_PARAMETERS"
	case errors.Is(err, order.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "INSUFFICIENT_BALANCE"
	case errors.Is(err, order.ErrInsufficientApproval):
		return http.StatusBadRequest, "INSUFFICIENT_APPROVAL"
	case errors.Is(err, order.ErrOrderNotFound):
		return http.StatusNotFound, "ORDER_NOT_FOUND"
	case errors.Is(err, order.ErrNotOwner):
		return http.StatusForbidden, "NOT_OWNER"
	case errors.Is(err, order.ErrOrderNotExecutable):
		return http.StatusConflict, "ORDER_NOT_EXECUTABLE"
	case errors.Is(err, order.ErrOrderNotActive):
		return http.StatusConflict, "ORDER_NOT_ACTIVE"
	case errors.Is(err, order.ErrOrderBusy):
		return http.StatusConflict, "ORDER_BUSY"
	case errors.Is(err, order.ErrSlippageExceeded):
		return http.StatusUnprocessableEntity, "SLIPPAGE_EXCEEDED"
	case errors.Is(err, order.ErrVenueUnavailable):
		return http.StatusServiceUnavailable, "VENUE_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func respondErr(c *gin.Context, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
	}
	respondError(c, status, code, err.Error())
}

func parseOrderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", "order id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) token(asset order.Asset) tokenView {
	if t, ok := s.tokens.ByAddress(asset.Address()); ok {
		return tokenView{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals}
	}
	return tokenView{Address: asset.String(), Decimals: s.tokens.Decimals(asset.Address())}
}

func (s *Server) orderView(o *order.Order) orderView {
	in, out := s.token(o.TokenIn), s.token(o.TokenOut)
	native := s.tokens.Decimals(common.Address{})
	v := orderView{
		ID:                   o.ID,
		Owner:                o.Owner.Hex(),
		TokenIn:              in,
		TokenOut:             out,
		TotalAmountIn:        tokens.FormatAmount(&o.TotalAmountIn, in.Decimals),
		Intervals:            o.Intervals,
		AmountPerInterval:    tokens.FormatAmount(&o.AmountPerInterval, in.Decimals),
		IntervalSeconds:      o.IntervalSeconds,
		RemainingIntervals:   o.RemainingIntervals,
		ExecutedAmount:       tokens.FormatAmount(&o.ExecutedAmount, in.Decimals),
		AmountOutTotal:       tokens.FormatAmount(&o.AmountOutTotal, out.Decimals),
		MinAmountOut:         tokens.FormatAmount(&o.MinAmountOut, out.Decimals),
		LastExecutionTime:    o.LastExecutionTime,
		IsActive:             o.IsActive,
		Status:               string(o.Status),
		ExecutionFeeReserved: tokens.FormatAmount(&o.ExecutionFeeReserved, native),
		FeePaid:              tokens.FormatAmount(&o.FeePaid, native),
		CreatedAt:            o.CreatedAt,
		Version:              o.Version,
	}
	if !o.ExecutedAmount.IsZero() {
		spent := tokens.FromBaseUnits(&o.ExecutedAmount, in.Decimals)
		got := tokens.FromBaseUnits(&o.AmountOutTotal, out.Decimals)
		v.AveragePrice = got.Div(spent).String()
	}
	return v
}

func toSummaryView(sum order.Summary) summaryView {
	return summaryView{
		OrderID:            sum.OrderID,
		ProgressPct:        sum.ProgressPct,
		NextEligibleTime:   sum.NextEligibleTime,
		SecondsUntilNext:   sum.SecondsUntilNext,
		IsActive:           sum.IsActive,
		Status:             string(sum.Status),
		RemainingIntervals: sum.RemainingIntervals,
	}
}

func (s *Server) listTokens(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tokens": s.tokens.All()})
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	params, err := s.createParams(CurrentWallet(c), req)
	if err != nil {
		respondErr(c, err)
		return
	}

	o, err := s.manager.CreateOrder(c.Request.Context(), params)
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementOrdersCreated()
	}
	c.JSON(http.StatusCreated, s.orderView(&o))
}

// createParams converts human or "wei:" amounts into base units of the right token.
func (s *Server) createParams(owner common.Address, req createOrderRequest) (order.CreateParams, error) {
	in, err := s.tokens.Resolve(req.TokenIn)
	if err != nil {
		return order.CreateParams{}, err
	}
	out, err := s.tokens.Resolve(req.TokenOut)
	if err != nil {
		return order.CreateParams{}, err
	}
	total, err := tokens.ParseAmount(req.TotalAmountIn, in.Decimals)
	if err != nil {
		return order.CreateParams{}, err
	}
	minOut := new(uint256.Int)
	if req.MinAmountOut != "" {
		if minOut, err = tokens.ParseAmount(req.MinAmountOut, out.Decimals); err != nil {
			return order.CreateParams{}, err
		}
	}
	fee := new(uint256.Int)
	if req.PrepaidFee != "" {
		if fee, err = tokens.ParseAmount(req.PrepaidFee, s.tokens.Decimals(common.Address{})); err != nil {
			return order.CreateParams{}, err
		}
	}
	return order.CreateParams{
		Owner:           owner,
		TokenIn:         order.Asset(in.Address),
		TokenOut:        order.Asset(out.Address),
		TotalAmountIn:   total,
		Intervals:       req.Intervals,
		IntervalSeconds: req.IntervalSeconds,
		MinAmountOut:    minOut,
		PrepaidFee:      fee,
	}, nil
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	o, err := s.manager.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, s.orderView(&o))
}

func (s *Server) getOrderSummary(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	sum, err := s.query.GetOrderSummary(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toSummaryView(sum))
}

func (s *Server) getOrderAttempts(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	var q listAttemptsQuery
	_ = c.ShouldBindQuery(&q)
	q.normalize()

	ctx := c.Request.Context()
	o, err := s.manager.GetOrder(ctx, id)
	if err != nil {
		respondErr(c, err)
		return
	}
	views := []attemptView{}
	if s.attempts != nil {
		attempts, err := s.attempts.ByOrder(ctx, id, q.Limit)
		if err != nil {
			respondErr(c, err)
			return
		}
		in, out := s.token(o.TokenIn), s.token(o.TokenOut)
		for i := range attempts {
			a := &attempts[i]
			views = append(views, attemptView{
				ID:        a.ID,
				OrderID:   a.OrderID,
				Keeper:    a.Keeper.Hex(),
				Outcome:   string(a.Outcome),
				AmountIn:  tokens.FormatAmount(&a.AmountIn, in.Decimals),
				AmountOut: tokens.FormatAmount(&a.AmountOut, out.Decimals),
				Error:     a.Error,
				At:        a.At,
				LatencyMs: a.LatencyMs,
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"order_id": id, "attempts": views})
}

func (s *Server) listExecutable(c *gin.Context) {
	ids, err := s.query.ListExecutableNow(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	if ids == nil {
		ids = []uint64{}
	}
	c.JSON(http.StatusOK, gin.H{"order_ids": ids, "now": s.clock.Now()})
}

func (s *Server) listMyOrders(c *gin.Context) {
	ctx := c.Request.Context()
	owner := CurrentWallet(c)
	ids, err := s.manager.GetUserOrders(ctx, owner)
	if err != nil {
		respondErr(c, err)
		return
	}

	now := s.clock.Now()
	type item struct {
		Order   orderView   `json:"order"`
		Summary summaryView `json:"summary"`
	}
	items := make([]item, 0, len(ids))
	for _, id := range ids {
		o, err := s.manager.GetOrder(ctx, id)
		if err != nil {
			respondErr(c, err)
			return
		}
		items = append(items, item{Order: s.orderView(&o), Summary: toSummaryView(order.Summarize(&o, now))})
	}
	c.JSON(http.StatusOK, gin.H{"owner": owner.Hex(), "order_ids": ids, "orders": items})
}

// executeOrder runs one interval with the caller as keeper; the keeper fee goes to the caller.
func (s *Server) executeOrder(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	keeper := CurrentWallet(c)
	now := s.clock.Now()

	start := time.Now()
	receipt, err := s.engine.ExecuteInterval(c.Request.Context(), id, keeper, now)
	s.recordExecution(time.Since(start), err)
	if err != nil {
		respondErr(c, err)
		return
	}

	o, err := s.manager.GetOrder(c.Request.Context(), id)
	if err != nil {
		respondErr(c, err)
		return
	}
	in, out := s.token(o.TokenIn), s.token(o.TokenOut)
	native := s.tokens.Decimals(common.Address{})
	c.JSON(http.StatusOK, receiptView{
		AttemptID:          receipt.AttemptID,
		OrderID:            receipt.OrderID,
		Keeper:             receipt.Keeper.Hex(),
		AmountIn:           tokens.FormatAmount(&receipt.AmountIn, in.Decimals),
		AmountOut:          tokens.FormatAmount(&receipt.AmountOut, out.Decimals),
		KeeperFee:          tokens.FormatAmount(&receipt.KeeperFee, native),
		RemainingIntervals: receipt.RemainingIntervals,
		ExecutedAt:         receipt.ExecutedAt,
		Completed:          receipt.Completed,
	})
}

func (s *Server) recordExecution(elapsed time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.IncrementIntervals()
		s.metrics.ExecutionLatency.RecordDuration(elapsed)
	case errors.Is(err, order.ErrSlippageExceeded), errors.Is(err, order.ErrVenueUnavailable):
		s.metrics.IncrementExecutionFailures()
	}
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := parseOrderID(c)
	if !ok {
		return
	}
	o, err := s.engine.CancelOrder(c.Request.Context(), id, CurrentWallet(c))
	if err != nil {
		respondErr(c, err)
		return
	}
	if s.metrics != nil {
		s.metrics.IncrementOrdersCancelled()
	}
	c.JSON(http.StatusOK, s.orderView(&o))
}

func (s *Server) getBalances(c *gin.Context) {
	ctx := c.Request.Context()
	owner := CurrentWallet(c)

	all := s.tokens.All()
	views := make([]balanceView, 0, len(all))
	for _, t := range all {
		asset := order.Asset(t.Address)
		bal, err := s.ledger.BalanceOf(ctx, asset, owner)
		if err != nil {
			respondErr(c, err)
			return
		}
		v := balanceView{
			tokenView:  tokenView{Symbol: t.Symbol, Address: t.Address.Hex(), Decimals: t.Decimals},
			Balance:    tokens.FormatAmount(bal, t.Decimals),
			BalanceRaw: bal.Dec(),
		}
		if !t.IsNative() {
			allowance := s.ledger.Allowance(ctx, asset, owner)
			v.Allowance = tokens.FormatAmount(allowance, t.Decimals)
			v.AllowanceRaw = allowance.Dec()
		}
		views = append(views, v)
	}
	c.JSON(http.StatusOK, gin.H{"address": owner.Hex(), "escrow": s.ledger.Escrow().Hex(), "balances": views})
}

// approve sets the caller's allowance toward escrow. "max" approves the full uint256 range.
func (s *Server) approve(c *gin.Context) {
	var req approveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", err.Error())
		return
	}
	t, err := s.tokens.Resolve(req.Token)
	if err != nil {
		respondErr(c, err)
		return
	}
	var amount *uint256.Int
	if strings.EqualFold(req.Amount, "max") {
		amount = new(uint256.Int).SetAllOne()
	} else if amount, err = tokens.ParseAmount(req.Amount, t.Decimals); err != nil {
		respondErr(c, err)
		return
	}

	owner := CurrentWallet(c)
	if err := s.ledger.Approve(c.Request.Context(), order.Asset(t.Address), owner, amount); err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":         t.Symbol,
		"owner":         owner.Hex(),
		"spender":       s.ledger.Escrow().Hex(),
		"allowance_raw": amount.Dec(),
	})
}

// faucet mints each faucet-enabled token (or only the requested one) to the caller.
func (s *Server) faucet(c *gin.Context) {
	if !s.enableFaucet {
		respondError(c, http.StatusForbidden, "FAUCET_DISABLED", "faucet is disabled")
		return
	}
	var req faucetRequest
	_ = c.ShouldBindJSON(&req)

	list := s.tokens.All()
	if req.Token != "" {
		t, err := s.tokens.Resolve(req.Token)
		if err != nil {
			respondErr(c, err)
			return
		}
		list = []tokens.Token{t}
	}

	owner := CurrentWallet(c)
	minted := make(map[string]string)
	for _, t := range list {
		if t.Faucet == "" {
			continue
		}
		amount, err := tokens.ParseAmount(t.Faucet, t.Decimals)
		if err != nil {
			respondErr(c, err)
			return
		}
		if err := s.ledger.Mint(c.Request.Context(), order.Asset(t.Address), owner, amount); err != nil {
			respondErr(c, err)
			return
		}
		minted[t.Symbol] = t.Faucet
	}
	if len(minted) == 0 {
		respondError(c, http.StatusBadRequest, "INVALID_PARAMETERS", "no faucet configured for the requested token")
		return
	}
	log.Info().Str("address", owner.Hex()).Interface("minted", minted).Msg("faucet")
	c.JSON(http.StatusOK, gin.H{"address": owner.Hex(), "minted": minted})
}

func (s *Server) getMetrics(c *gin.Context) {
	if s.metrics == nil {
		respondError(c, http.StatusServiceUnavailable, "METRICS_DISABLED", "metrics not configured")
		return
	}
	c.JSON(http.StatusOK, s.metrics.GetSnapshot())
}

// getReconciliation returns the last escrow audit, running one when none exists or
// refresh=true is passed.
func (s *Server) getReconciliation(c *gin.Context) {
	if s.reconciler == nil {
		respondError(c, http.StatusServiceUnavailable, "RECONCILIATION_DISABLED", "reconciliation not configured")
		return
	}
	report := s.reconciler.Last()
	if report == nil || c.Query("refresh") == "true" {
		var err error
		if report, err = s.reconciler.Reconcile(c.Request.Context()); err != nil {
			respondErr(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, report)
}
