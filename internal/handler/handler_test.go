package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"creditpay/internal/config"
	"creditpay/internal/handler"
	"creditpay/internal/infrastructure/database"
	"creditpay/internal/limiter"
	"creditpay/internal/model"
	"creditpay/internal/payment"
	"creditpay/internal/service"
	"creditpay/internal/stream"
	"creditpay/pkg/response"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type noopUpstream struct{}

func (noopUpstream) OpenStream(ctx context.Context, model, systemPrompt, content string) (*stream.Reader, error) {
	return nil, http.ErrHandlerTimeout
}

func (noopUpstream) QueryTaskStatus(ctx context.Context, upstreamTaskID string) (string, string, string, error) {
	return "", "", "", nil
}

func newTestRouter(t *testing.T) (http.Handler, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))

	cfg := &config.Config{
		Business: config.BusinessConfig{
			MinRechargeAmount:   1.0,
			ExchangeRate:        100,
			OrderCancelMinutes:  15,
			OrderRateLimit:      100,
			OrderRateWindowSecs: 60,
			TaskCost:            50,
		},
	}

	gateways := payment.NewRegistry(payment.NewWechatGateway(), payment.NewAlipayGateway())
	ledger := service.NewLedgerService(db)
	orderService := service.NewOrderService(db, cfg, gateways, ledger, limiter.NewRateLimiter())
	taskService := service.NewTaskService(db, nil, cfg, ledger, noopUpstream{})

	h := handler.NewHandler(cfg, orderService, taskService, ledger)
	return handler.SetupRouter(h), db
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) response.Response {
	t.Helper()
	var resp response.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}

func TestGetBalance_BadUserID(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/account/balance?user_id=abc", "")
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestGetBalance_ExistingAccount(t *testing.T) {
	router, db := newTestRouter(t)
	require.NoError(t, db.Create(&model.Account{UserID: 1, Balance: 1050}).Error)

	w := doRequest(t, router, http.MethodGet, "/api/v1/account/balance?user_id=1", "")
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1050), data["balance"])
}

func TestGetBalance_UnknownAccount_ZeroNotError(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/account/balance?user_id=404", "")
	resp := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, resp.Code)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(0), data["balance"])
}

func TestCreateOrder_InvalidAmount(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/order/create",
		`{"user_id":1,"amount":"not-a-number","payment_type":"wechat"}`)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, resp.Code)
}

func TestCreateOrder_GatewayNotConfigured_BusinessCode(t *testing.T) {
	// 没有配置支付网关：返回业务错误码而不是 500

	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/order/create",
		`{"user_id":1,"amount":"10.50","payment_type":"wechat"}`)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeGatewayDisabled, resp.Code)
}

func TestCreateOrder_GatewayCreateFails_BusinessCode(t *testing.T) {
	// 网关配置不完整导致下单失败：返回独立业务错误码，便于前端提示重试

	router, db := newTestRouter(t)
	require.NoError(t, db.Create(&model.PaymentConfig{
		PaymentType: model.PaymentTypeWechat,
		IsEnabled:   true,
		ConfigJSON:  `{"app_id":"wx_test","mch_id":"mch_test"}`,
	}).Error)

	w := doRequest(t, router, http.MethodPost, "/api/v1/order/create",
		`{"user_id":1,"amount":"10.50","payment_type":"wechat"}`)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodePaymentCreateFailed, resp.Code)
}

func TestCreateOrder_UnsupportedGateway_BusinessCode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/order/create",
		`{"user_id":1,"amount":"10.50","payment_type":"applepay"}`)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeGatewayNotSupported, resp.Code)
}

func TestSubmitTask_InsufficientBalance_BusinessCode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/task/submit",
		`{"user_id":1,"type":"generation","content":"写一首诗"}`)
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeInsufficientBalance, resp.Code)
}

func TestWechatCallback_InvalidPayload_RespondsFail(t *testing.T) {
	// 微信协议：处理失败回 {"code":"FAIL"}，微信会重试投递

	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/payment/callback/wechat", `{"garbage":true}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"FAIL"`)
}

func TestAlipayCallback_InvalidPayload_RespondsFailure(t *testing.T) {
	// 支付宝协议：纯文本 failure 触发重试

	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodPost, "/api/v1/payment/callback/alipay", "garbage=1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "failure", w.Body.String())
}

func TestGetTask_NotFound_BusinessCode(t *testing.T) {
	router, _ := newTestRouter(t)

	w := doRequest(t, router, http.MethodGet, "/api/v1/task/detail?task_id=9999", "")
	resp := parseResponse(t, w)
	assert.Equal(t, response.CodeTaskNotFound, resp.Code)
}
