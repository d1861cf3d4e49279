package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"wallet_ledger/internal/casino"
	"wallet_ledger/internal/logger"
	"wallet_ledger/internal/otp"
	"wallet_ledger/internal/requests"
	"wallet_ledger/internal/wallet"
)

// CodeIssuer hands out authorization codes.
type CodeIssuer interface {
	Issue(ctx context.Context, userID string) (*otp.AuthCode, error)
}

type Handler struct {
	wallet   *wallet.Service
	requests *requests.Service
	casino   *casino.Engine
	codes    CodeIssuer
	tokens   *Tokens
}

func NewHandler(w *wallet.Service, r *requests.Service, e *casino.Engine, codes CodeIssuer, tokens *Tokens) *Handler {
	return &Handler{wallet: w, requests: r, casino: e, codes: codes, tokens: tokens}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api", h.tokens.Authenticate())

	api.GET("/account", h.getAccount)
	api.GET("/account/exposure", h.getExposure)
	api.POST("/otp", h.issueCode)
	api.GET("/transactions", h.listTransactions)

	api.POST("/deposits", h.createDeposit)
	api.GET("/deposits", h.listDeposits)
	api.POST("/withdrawals", h.createWithdrawal)
	api.GET("/withdrawals", h.listWithdrawals)

	games := api.Group("/casino")
	games.POST("/dice", h.playDice)
	games.POST("/coinflip", h.playCoinFlip)
	games.POST("/mines", h.startMines)
	games.GET("/mines/:round", h.getMinesRound)
	games.POST("/mines/:round/reveal", h.revealMine)
	games.POST("/mines/:round/cashout", h.cashOutMines)
	games.POST("/mines/:round/forfeit", h.forfeitMines)
	games.GET("/bets", h.listBets)

	admin := api.Group("/admin", RequireRole(RoleAdmin))
	admin.POST("/deposits/:id/approve", h.approveDeposit)
	admin.POST("/deposits/:id/reject", h.rejectDeposit)
	admin.POST("/withdrawals/:id/approve", h.approveWithdrawal)
	admin.POST("/withdrawals/:id/reject", h.rejectWithdrawal)
}

type codeAmountRequest struct {
	Code   string          `json:"otp"`
	Amount decimal.Decimal `json:"amount"`
}

type diceRequest struct {
	Choice casino.DiceChoice `json:"choice" binding:"required"`
	Amount decimal.Decimal   `json:"amount"`
}

type coinFlipRequest struct {
	Call   casino.CoinSide `json:"call" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type minesStartRequest struct {
	Mines  int             `json:"mines" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type revealRequest struct {
	Cell *int `json:"cell" binding:"required"`
}

type cashOutRequest struct {
	Winnings decimal.Decimal `json:"winnings"`
}

func (h *Handler) getAccount(c *gin.Context) {
	p := principal(c)
	a, err := h.wallet.GetOrCreateAccount(c.Request.Context(), p.UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"account_id": a.AccountID, "balance": a.Balance.StringFixed(2)})
}

func (h *Handler) getExposure(c *gin.Context) {
	total, err := h.requests.Exposure(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending_withdrawals": total.StringFixed(2)})
}

func (h *Handler) issueCode(c *gin.Context) {
	ctx := c.Request.Context()
	userID := principal(c).UserID
	if _, err := h.wallet.GetOrCreateAccount(ctx, userID); err != nil {
		writeError(c, err)
		return
	}
	ac, err := h.codes.Issue(ctx, userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"otp": ac.Code, "expires_at": ac.ExpiresAt})
}

func (h *Handler) listTransactions(c *gin.Context) {
	var kinds []wallet.TransactionKind
	for _, k := range c.QueryArray("kind") {
		kinds = append(kinds, wallet.TransactionKind(k))
	}
	txs, err := h.wallet.History(c.Request.Context(), principal(c).UserID, kinds...)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

func (h *Handler) createDeposit(c *gin.Context) {
	var req codeAmountRequest
	if !bind(c, &req) {
		return
	}
	dep, err := h.requests.CreateDeposit(c.Request.Context(), principal(c).UserID, req.Code, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dep)
}

func (h *Handler) listDeposits(c *gin.Context) {
	deps, err := h.requests.ListDeposits(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deposits": deps})
}

func (h *Handler) createWithdrawal(c *gin.Context) {
	var req codeAmountRequest
	if !bind(c, &req) {
		return
	}
	wd, err := h.requests.CreateWithdrawal(c.Request.Context(), principal(c).UserID, req.Code, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, wd)
}

func (h *Handler) listWithdrawals(c *gin.Context) {
	wds, err := h.requests.ListWithdrawals(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": wds})
}

func (h *Handler) approveDeposit(c *gin.Context) {
	v, err := h.requests.ApproveDeposit(c.Request.Context(), c.Param("id"))
	respond(c, v, err)
}

func (h *Handler) rejectDeposit(c *gin.Context) {
	v, err := h.requests.RejectDeposit(c.Request.Context(), c.Param("id"))
	respond(c, v, err)
}

func (h *Handler) approveWithdrawal(c *gin.Context) {
	v, err := h.requests.ApproveWithdrawal(c.Request.Context(), c.Param("id"))
	respond(c, v, err)
}

func (h *Handler) rejectWithdrawal(c *gin.Context) {
	v, err := h.requests.RejectWithdrawal(c.Request.Context(), c.Param("id"))
	respond(c, v, err)
}

func (h *Handler) playDice(c *gin.Context) {
	var req diceRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.casino.PlayDice(c.Request.Context(), principal(c).UserID, req.Choice, req.Amount)
	respond(c, v, err)
}

func (h *Handler) playCoinFlip(c *gin.Context) {
	var req coinFlipRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.casino.PlayCoinFlip(c.Request.Context(), principal(c).UserID, req.Call, req.Amount)
	respond(c, v, err)
}

func (h *Handler) startMines(c *gin.Context) {
	var req minesStartRequest
	if !bind(c, &req) {
		return
	}
	round, err := h.casino.StartMines(c.Request.Context(), principal(c).UserID, req.Mines, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, round.View())
}

func (h *Handler) getMinesRound(c *gin.Context) {
	round, err := h.casino.GetMinesRound(c.Request.Context(), principal(c).UserID, c.Param("round"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, round.View())
}

func (h *Handler) revealMine(c *gin.Context) {
	var req revealRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.casino.RevealMine(c.Request.Context(), principal(c).UserID, c.Param("round"), *req.Cell)
	respond(c, v, err)
}

func (h *Handler) cashOutMines(c *gin.Context) {
	var req cashOutRequest
	if !bind(c, &req) {
		return
	}
	v, err := h.casino.CashOutMines(c.Request.Context(), principal(c).UserID, c.Param("round"), req.Winnings)
	respond(c, v, err)
}

func (h *Handler) forfeitMines(c *gin.Context) {
	v, err := h.casino.ForfeitMines(c.Request.Context(), principal(c).UserID, c.Param("round"))
	respond(c, v, err)
}

func (h *Handler) listBets(c *gin.Context) {
	bets, err := h.casino.History(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bets": bets})
}

func bind(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// respond writes v as 200 or maps err.
func respond(c *gin.Context, v interface{}, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(c.Request.Context()).Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, wallet.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, wallet.ErrInvalidAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, wallet.ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, wallet.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, wallet.ErrConcurrencyTimeout):
		return http.StatusConflict
	case errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}
