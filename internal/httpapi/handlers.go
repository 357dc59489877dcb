package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ppiankov/spendgate/internal/directory"
	"github.com/ppiankov/spendgate/internal/model"
	"github.com/ppiankov/spendgate/internal/policy"
	"github.com/ppiankov/spendgate/internal/receipt"
	"github.com/ppiankov/spendgate/internal/store"
	"github.com/ppiankov/spendgate/internal/workflow"
)

const maxReceiptBytes = 1 << 20

type handlers struct {
	svc       *workflow.Service
	log       *zap.Logger
	extractor receipt.Extractor
}

type submitInput struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency"`
	Category    string          `json:"category"`
	Date        string          `json:"date"`
}

type patchInput struct {
	Description *string          `json:"description"`
	Amount      *decimal.Decimal `json:"amount"`
	Currency    *string          `json:"currency"`
	Category    *string          `json:"category"`
	Date        *string          `json:"date"`
}

type decisionInput struct {
	Decision string `json:"decision"`
	Comments string `json:"comments"`
}

func (h *handlers) me(c *gin.Context) {
	caller := CallerID(c)
	dir := h.svc.Directory()
	c.JSON(http.StatusOK, gin.H{
		"id":           caller,
		"manage_rules": dir.Can(caller, directory.PermManageRules),
		"override":     dir.Can(caller, directory.PermOverride),
		"view_all":     dir.Can(caller, directory.PermViewAll),
	})
}

func (h *handlers) submit(c *gin.Context) {
	var in submitInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	date, err := workflow.ParseDate(in.Date)
	if err != nil {
		h.fail(c, err)
		return
	}
	e, err := h.svc.Submit(c.Request.Context(), workflow.SubmitRequest{
		SubmitterID: CallerID(c),
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
		Date:        date,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"expense": e})
}

func (h *handlers) list(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		limit = n
	}
	f, err := workflow.ParseFilter(workflow.FilterParams{
		Status:      c.Query("status"),
		SubmitterID: c.Query("submitter"),
		Category:    c.Query("category"),
		From:        c.Query("from"),
		To:          c.Query("to"),
		Limit:       limit,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	if c.Query("mine") == "true" {
		f.SubmitterID = CallerID(c)
	}
	list, err := h.svc.ListFor(c.Request.Context(), CallerID(c), f)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expenses": nonNil(list)})
}

func (h *handlers) get(c *gin.Context) {
	e, err := h.svc.GetFor(c.Request.Context(), c.Param("id"), CallerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expense": e})
}

func (h *handlers) update(c *gin.Context) {
	var in patchInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	p := workflow.Patch{
		Description: in.Description,
		Amount:      in.Amount,
		Currency:    in.Currency,
		Category:    in.Category,
	}
	if in.Date != nil {
		d, err := workflow.ParseDate(*in.Date)
		if err != nil {
			h.fail(c, err)
			return
		}
		p.Date = &d
	}
	e, err := h.svc.Update(c.Request.Context(), c.Param("id"), CallerID(c), p)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expense": e})
}

func (h *handlers) remove(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), CallerID(c)); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) decide(verb string) gin.HandlerFunc {
	d, _ := model.ParseDecision(verb)
	return func(c *gin.Context) {
		var in decisionInput
		if err := bindOptional(c, &in); err != nil {
			badRequest(c, err)
			return
		}
		e, err := h.svc.Decide(c.Request.Context(), c.Param("id"), CallerID(c), d, in.Comments)
		if err != nil {
			h.fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"expense": e})
	}
}

func (h *handlers) override(c *gin.Context) {
	var in decisionInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	d, ok := model.ParseDecision(in.Decision)
	if !ok {
		h.fail(c, model.Errorf(model.KindValidation, "decision %q is not approve or reject", in.Decision))
		return
	}
	e, err := h.svc.Override(c.Request.Context(), c.Param("id"), CallerID(c), d, in.Comments)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expense": e})
}

func (h *handlers) escalate(c *gin.Context) {
	caller := CallerID(c)
	if !h.svc.Directory().Can(caller, directory.PermOverride) {
		h.fail(c, model.Errorf(model.KindNotAuthorizedApprover, "%s may not escalate expenses", caller))
		return
	}
	e, err := h.svc.Escalate(c.Request.Context(), c.Param("id"), caller)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expense": e})
}

func (h *handlers) pending(c *gin.Context) {
	list, err := h.svc.PendingFor(c.Request.Context(), CallerID(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expenses": nonNil(list)})
}

func (h *handlers) stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context(), store.Filter{SubmitterID: c.Query("submitter")})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stats": st})
}

func (h *handlers) categories(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"categories": h.svc.Categories()})
}

func (h *handlers) addCategory(c *gin.Context) {
	caller := CallerID(c)
	if !h.svc.Directory().Can(caller, directory.PermManageRules) {
		h.fail(c, model.Errorf(model.KindNotAuthorizedApprover, "%s may not manage categories", caller))
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.AddCategory(in.Name); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"categories": h.svc.Categories()})
}

// scan reads OCR'd receipt text from the request body.
func (h *handlers) scan(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxReceiptBytes))
	if err != nil {
		badRequest(c, err)
		return
	}
	ext, err := h.extractor.Extract(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"extraction": ext})
}

func (h *handlers) listRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.svc.Rules(), "fallback": h.svc.Fallback(), "policy_hash": h.svc.PolicyHash()})
}

func (h *handlers) getRule(c *gin.Context) {
	r, err := h.svc.Rule(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rule": r})
}

func (h *handlers) addRule(c *gin.Context) {
	var r policy.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.AddRule(c.Request.Context(), CallerID(c), r); err != nil {
		h.fail(c, err)
		return
	}
	saved, _ := h.svc.Rule(r.ID)
	c.JSON(http.StatusCreated, gin.H{"rule": saved})
}

func (h *handlers) updateRule(c *gin.Context) {
	var r policy.Rule
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	r.ID = c.Param("id")
	if err := h.svc.UpdateRule(c.Request.Context(), CallerID(c), r); err != nil {
		h.fail(c, err)
		return
	}
	saved, _ := h.svc.Rule(r.ID)
	c.JSON(http.StatusOK, gin.H{"rule": saved})
}

func (h *handlers) removeRule(c *gin.Context) {
	if err := h.svc.RemoveRule(c.Request.Context(), CallerID(c), c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) setActive(active bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.svc.SetRuleActive(c.Request.Context(), CallerID(c), id, active); err != nil {
			h.fail(c, err)
			return
		}
		r, _ := h.svc.Rule(id)
		c.JSON(http.StatusOK, gin.H{"rule": r})
	}
}

// bindOptional binds a JSON body when one was sent.
func bindOptional(c *gin.Context, v any) error {
	if c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(v)
}

func nonNil(list []*model.Expense) []*model.Expense {
	if list == nil {
		return []*model.Expense{}
	}
	return list
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": model.KindValidation})
}

// fail writes err with the HTTP status of its kind.
func (h *handlers) fail(c *gin.Context, err error) {
	code := StatusOf(err)
	body := gin.H{"error": err.Error()}
	if kind := model.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	var v policy.Violations
	if errors.As(err, &v) {
		body["violations"] = []string(v)
	}
	if code >= http.StatusInternalServerError {
		h.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(code, body)
}

// StatusOf returns the HTTP status for a workflow error.
func StatusOf(err error) int {
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	switch model.KindOf(err) {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindInvalidRule, model.KindNoRuleMatched:
		return http.StatusUnprocessableEntity
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindNotAuthorizedApprover:
		return http.StatusForbidden
	case model.KindNotPending, model.KindConcurrentModification:
		return http.StatusConflict
	case model.KindRateUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
