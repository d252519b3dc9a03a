package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"campuswallet/internal/config"
)

// ErrUnavailable 网关调用失败（超时、非 2xx、报文解析失败）。
// 这只代表“没能核实”，不代表支付失败，支付单保持 pending 可以重试。
var ErrUnavailable = errors.New("支付网关暂不可用")

// 网关交易状态
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
	StatusReversed  = "reversed"
)

type InitRequest struct {
	Reference string
	Email     string
	Amount    int64 // 最小货币单位
	Currency  string
}

type InitResult struct {
	AuthorizationURL string
	AccessCode       string
}

// Verification 网关返回的权威交易信息
type Verification struct {
	Status        string
	Amount        int64 // 最小货币单位
	Currency      string
	PayerEmail    string
	TransactionID string
}

type Client struct {
	http        *resty.Client
	callbackURL string
}

func NewClient(cfg *config.GatewayConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.SecretKey).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")

	return &Client{http: hc, callbackURL: cfg.CallbackURL}
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID        int64  `json:"id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// Initialize 在网关创建交易，返回用户跳转支付的地址
func (c *Client) Initialize(ctx context.Context, req InitRequest) (*InitResult, error) {
	var out envelope[initData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"email":        req.Email,
			"amount":       req.Amount,
			"reference":    req.Reference,
			"currency":     req.Currency,
			"callback_url": c.callbackURL,
		}).
		SetResult(&out).
		Post("/transaction/initialize")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK || !out.Status {
		return nil, fmt.Errorf("%w: initialize status %d %s", ErrUnavailable, resp.StatusCode(), out.Message)
	}

	return &InitResult{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
	}, nil
}

// Verify 向网关查询 reference 对应交易的权威状态
func (c *Client) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out envelope[verifyData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("reference", reference).
		SetResult(&out).
		Get("/transaction/verify/{reference}")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if resp.StatusCode() != http.StatusOK || !out.Status {
		return nil, fmt.Errorf("%w: verify status %d %s", ErrUnavailable, resp.StatusCode(), out.Message)
	}
	if out.Data.Reference != "" && out.Data.Reference != reference {
		return nil, fmt.Errorf("%w: reference mismatch %s", ErrUnavailable, out.Data.Reference)
	}

	return &Verification{
		Status:        out.Data.Status,
		Amount:        out.Data.Amount,
		Currency:      out.Data.Currency,
		PayerEmail:    out.Data.Customer.Email,
		TransactionID: fmt.Sprintf("%d", out.Data.ID),
	}, nil
}
