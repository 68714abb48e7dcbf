package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"reward_ledger/internal/economy"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/notify"
	"reward_ledger/internal/withdrawal"
)

type Handlers struct {
	engine *economy.Engine
	hub    *notify.Hub
}

// NewHandlers builds the route handlers. hub may be nil, in which case the
// notification stream is disabled.
func NewHandlers(engine *economy.Engine, hub *notify.Hub) *Handlers {
	return &Handlers{engine: engine, hub: hub}
}

type onboardRequest struct {
	ReferralCode string `json:"referral_code"`
}

func (h *Handlers) Onboard(c *gin.Context) {
	var req onboardRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	out, err := h.engine.Onboard(c.Request.Context(), currentUser(c), req.ReferralCode)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) AcknowledgeWelcome(c *gin.Context) {
	if err := h.engine.AcknowledgeWelcome(c.Request.Context(), currentUser(c)); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handlers) Balance(c *gin.Context) {
	b, err := h.engine.GetBalance(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *Handlers) History(c *gin.Context) {
	cursor, err := queryInt(c, "cursor", 0)
	if err != nil {
		writeError(c, err)
		return
	}
	limit, err := queryInt(c, "limit", ledger.DefaultHistoryLimit)
	if err != nil {
		writeError(c, err)
		return
	}
	txs, next, err := h.engine.History(c.Request.Context(), currentUser(c), ledger.Kind(c.Query("kind")), cursor, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	views := make([]ledger.TransactionView, 0, len(txs))
	for i := range txs {
		views = append(views, txs[i].View())
	}
	resp := gin.H{"transactions": views}
	if next >= 0 {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

type spinRequest struct {
	TableID string `json:"table_id"`
}

func (h *Handlers) Spin(c *gin.Context) {
	var req spinRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	out, err := h.engine.Spin(c.Request.Context(), currentUser(c), req.TableID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handlers) LoginBonus(c *gin.Context) {
	res, err := h.engine.ClaimLoginBonus(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transaction_id": res.Transaction.TransactionID,
		"amount":         res.Transaction.Amount,
		"balance":        res.Transaction.BalanceAfter,
	})
}

func (h *Handlers) ListTasks(c *gin.Context) {
	tasks, err := h.engine.ListTasks(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (h *Handlers) StartTask(c *gin.Context) {
	claim, err := h.engine.StartTask(c.Request.Context(), currentUser(c), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, claim)
}

func (h *Handlers) TaskStatus(c *gin.Context) {
	st, err := h.engine.TaskStatus(c.Request.Context(), currentUser(c), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) CompleteTask(c *gin.Context) {
	res, err := h.engine.CompleteTask(c.Request.Context(), currentUser(c), c.Param("task_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	resp := gin.H{"task_id": res.TaskID}
	if res.Transaction != nil {
		resp["transaction_id"] = res.Transaction.TransactionID
		resp["amount"] = res.Transaction.Amount
		resp["balance"] = res.Transaction.BalanceAfter
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) Referrals(c *gin.Context) {
	sum, err := h.engine.Referrals.Summary(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

type withdrawalRequest struct {
	Method  string          `json:"method" binding:"required"`
	Account string          `json:"account" binding:"required"`
	Amount  decimal.Decimal `json:"amount"`
}

func (h *Handlers) RequestWithdrawal(c *gin.Context) {
	var req withdrawalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.engine.RequestWithdrawal(c.Request.Context(), currentUser(c), req.Method, req.Account, req.Amount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, w)
}

func (h *Handlers) ListWithdrawals(c *gin.Context) {
	ws, err := h.engine.Withdrawals.ListByUser(c.Request.Context(), currentUser(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws})
}

func (h *Handlers) WithdrawalMethods(c *gin.Context) {
	econ := h.engine.Economy()
	methods := make([]gin.H, 0, len(econ.Withdrawal.Methods))
	for _, m := range econ.Withdrawal.Methods {
		if m.Active {
			methods = append(methods, gin.H{"id": m.ID, "name": m.Name})
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"methods": methods,
		"min":     econ.Withdrawal.Min,
		"max":     econ.Withdrawal.Max,
	})
}

// Admin.

func (h *Handlers) Stats(c *gin.Context) {
	st, err := h.engine.Stats(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handlers) PendingWithdrawals(c *gin.Context) {
	ws, err := h.engine.Withdrawals.ListPending(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawals": ws})
}

func (h *Handlers) TopWithdrawers(c *gin.Context) {
	top, err := h.engine.Withdrawals.TopWithdrawers(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"withdrawers": top})
}

type resolveRequest struct {
	Action withdrawal.Action `json:"action" binding:"required"`
	Note   string            `json:"note"`
}

func (h *Handlers) ResolveWithdrawal(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := h.engine.ResolveWithdrawal(c.Request.Context(), c.Param("request_id"), withdrawal.Decision{
		Action:  req.Action,
		AdminID: currentUser(c),
		Note:    req.Note,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, w)
}

type blockRequest struct {
	Blocked bool `json:"blocked"`
}

func (h *Handlers) SetBlocked(c *gin.Context) {
	var req blockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.SetBlocked(c.Request.Context(), c.Param("user_id"), req.Blocked); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type earningRequest struct {
	Kind        ledger.Kind     `json:"kind" binding:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

func (h *Handlers) RecordEarning(c *gin.Context) {
	var req earningRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	t, err := h.engine.RecordEarning(c.Request.Context(), c.Param("user_id"), req.Kind, req.Amount, req.Description)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t.View())
}

type referralRequest struct {
	NewUserID  string `json:"new_user_id" binding:"required"`
	ReferrerID string `json:"referrer_id" binding:"required"`
}

func (h *Handlers) ProcessReferral(c *gin.Context) {
	var req referralRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.ProcessReferral(c.Request.Context(), req.NewUserID, req.ReferrerID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type featureRequest struct {
	Limit int `json:"limit"`
}

func (h *Handlers) ClaimFeature(c *gin.Context) {
	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.engine.ClaimDailyFeature(c.Request.Context(), c.Param("user_id"), c.Param("feature"), req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) DrawPrize(c *gin.Context) {
	entry, err := h.engine.DrawPrize(c.Param("table_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ledger.Invalid("%s must be an integer", key)
	}
	return n, nil
}
