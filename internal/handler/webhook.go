package handler

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"campuswallet/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	signatureHeader    = "x-paystack-signature"
	eventChargeSuccess = "charge.success"
	maxWebhookBody     = 1 << 20
	webhookAttempts    = 3
)

type webhookEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// validSignature 网关用 secret key 对原始 body 做 HMAC-SHA512
func validSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := mac.Sum(nil)

	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	return hmac.Equal(expected, got)
}

// PaymentWebhook 网关回调
// POST /api/v1/payment/webhook
//
// 返回非 2xx 时网关会重投，所以只有“暂时没法处理”（锁被占、网关不可用）才返回 5xx，
// 已处理、失败、过期等终态一律 200。
func (h *Handler) PaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}
	if !validSignature(h.webhookSecret, body, c.GetHeader(signatureHeader)) {
		h.logger.Warn("webhook 签名校验失败", zap.String("client_ip", c.ClientIP()))
		c.Status(http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil || event.Data.Reference == "" {
		c.Status(http.StatusBadRequest)
		return
	}
	if event.Event != eventChargeSuccess {
		c.Status(http.StatusOK)
		return
	}

	ctx := c.Request.Context()
	var result *service.SettleResult
	for attempt := 1; ; attempt++ {
		result, err = h.paymentService.Settle(ctx, event.Data.Reference)
		if err == nil || service.KindOf(err) != service.KindBusy || attempt == webhookAttempts {
			break
		}
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	switch {
	case err == nil:
		h.logger.Info("webhook 处理完成",
			zap.String("reference", event.Data.Reference),
			zap.String("outcome", string(result.Outcome)),
		)
		c.Status(http.StatusOK)
	case service.Retryable(err):
		h.logger.Warn("webhook 暂时无法处理", zap.String("reference", event.Data.Reference), zap.Error(err))
		c.Status(http.StatusServiceUnavailable)
	case service.KindOf(err) == service.KindNotFound:
		c.Status(http.StatusNotFound)
	default:
		// 校验不一致、支付失败、已过期：支付单已进入终态，重投没有意义
		h.logger.Info("webhook 支付未入账", zap.String("reference", event.Data.Reference), zap.Error(err))
		c.Status(http.StatusOK)
	}
}
