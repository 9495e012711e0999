package api

import (
	"net/http"
	"strings"

	"payment-service/internal/money"
	"payment-service/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func (h *Handler) listPlugins(c *gin.Context) {
	plugins, err := h.plugins.List(c.Request.Context(), strings.ToUpper(c.Query("type")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"plugins": plugins})
}

func (h *Handler) registerPlugin(c *gin.Context) {
	var req service.RegisterPluginInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	plugin, err := h.plugins.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plugin)
}

func (h *Handler) activatePlugin(c *gin.Context) {
	plugin, err := h.plugins.Activate(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plugin)
}

func (h *Handler) deactivatePlugin(c *gin.Context) {
	plugin, err := h.plugins.Deactivate(c.Request.Context(), c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, plugin)
}

func (h *Handler) deletePlugin(c *gin.Context) {
	if err := h.plugins.Delete(c.Request.Context(), c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) listRates(c *gin.Context) {
	rates, err := h.exchange.ListRates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"base":  h.exchange.BaseCurrency(),
		"rates": rates,
	})
}

func (h *Handler) getRate(c *gin.Context) {
	target := strings.ToUpper(c.Param("target"))
	rate, err := h.exchange.GetExchangeRate(c.Request.Context(), target)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"base":   h.exchange.BaseCurrency(),
		"target": target,
		"rate":   rate,
	})
}

type setRateRequest struct {
	Base string `json:"base"`
	Rate string `json:"rate" binding:"required"`
}

func (h *Handler) setRate(c *gin.Context) {
	var req setRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rate, err := decimal.NewFromString(req.Rate)
	if err != nil {
		badRequest(c, err)
		return
	}
	base := strings.ToUpper(req.Base)
	if base == "" {
		base = h.exchange.BaseCurrency()
	}

	stored, err := h.exchange.SetRate(c.Request.Context(), base, strings.ToUpper(c.Param("target")), rate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

// convert turns a base-currency amount into the target, which defaults to the
// request currency
func (h *Handler) convert(c *gin.Context) {
	amount, err := money.Parse(c.Query("amount"))
	if err != nil {
		respondError(c, err)
		return
	}
	base := h.exchange.BaseCurrency()
	target := strings.ToUpper(c.Query("target"))
	if target == "" {
		target = requestCurrency(c, base)
	}

	converted, err := h.exchange.Convert(c.Request.Context(), amount, target)
	if err != nil {
		respondError(c, err)
		return
	}
	formatted, err := money.Format(converted, target)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"amount":    amount,
		"base":      base,
		"target":    target,
		"converted": converted,
		"formatted": formatted,
	})
}

func (h *Handler) refreshRates(c *gin.Context) {
	result, err := h.exchange.RefreshRates(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
