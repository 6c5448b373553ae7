package payment

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"creditpay/internal/model"

	"github.com/shopspring/decimal"
)

// 支付宝（表单回调）
//
// 回调为表单键值对，携带 out_trade_no / trade_status / total_amount（单位：元），
// sign 字段为对除 sign/sign_type 外全部参数按 key 排序拼接后的摘要。
// 金额为小数元，允许 0.01 元以内的精度差。

// 金额容差：0.01 元
var alipayAmountTolerance = decimal.NewFromFloat(0.01)

type alipayConfig struct {
	AppID      string `json:"app_id"`
	PrivateKey string `json:"private_key"`
	GatewayURL string `json:"gateway_url"`
}

type AlipayGateway struct{}

func NewAlipayGateway() *AlipayGateway {
	return &AlipayGateway{}
}

func (g *AlipayGateway) Type() string {
	return model.PaymentTypeAlipay
}

func parseAlipayConfig(configJSON string) (*alipayConfig, error) {
	var cfg alipayConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("解析支付宝配置失败: %w", err)
	}
	if cfg.PrivateKey == "" {
		return nil, fmt.Errorf("支付宝配置缺少 private_key")
	}
	return &cfg, nil
}

// CreatePayment 生成收银台跳转链接
func (g *AlipayGateway) CreatePayment(orderNo string, amount decimal.Decimal, subject, configJSON string) (string, map[string]string, error) {
	cfg, err := parseAlipayConfig(configJSON)
	if err != nil {
		return "", nil, err
	}

	thirdPartyOrderNo := fmt.Sprintf("ALI%d", time.Now().UnixMilli())

	bizParams := map[string]string{
		"app_id":       cfg.AppID,
		"out_trade_no": orderNo,
		"total_amount": amount.StringFixed(2),
		"subject":      subject,
		"timestamp":    time.Now().Format("2006-01-02 15:04:05"),
	}
	bizParams["sign"] = signAlipayParams(bizParams, cfg.PrivateKey)

	values := url.Values{}
	for k, v := range bizParams {
		values.Set(k, v)
	}

	gatewayURL := cfg.GatewayURL
	if gatewayURL == "" {
		gatewayURL = "https://openapi.alipay.com/gateway.do"
	}

	params := map[string]string{
		"orderId": thirdPartyOrderNo,
		"payUrl":  gatewayURL + "?" + values.Encode(),
	}

	return thirdPartyOrderNo, params, nil
}

// ParseCallback 验签并解析表单回调
func (g *AlipayGateway) ParseCallback(body []byte, headers map[string]string, configJSON string) (*CallbackData, error) {
	cfg, err := parseAlipayConfig(configJSON)
	if err != nil {
		return nil, err
	}

	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrCallbackMalformed
	}

	fields := make(map[string]string, len(values))
	for k := range values {
		fields[k] = values.Get(k)
	}

	sign := fields["sign"]
	if sign == "" {
		return nil, ErrSignatureInvalid
	}
	expected := signAlipayParams(fields, cfg.PrivateKey)
	if !hmac.Equal([]byte(expected), []byte(sign)) {
		return nil, ErrSignatureInvalid
	}

	orderNo := fields["out_trade_no"]
	if orderNo == "" {
		return nil, ErrCallbackMalformed
	}

	// 老接口用 trade_status，部分渠道用 result_code
	status := fields["trade_status"]
	if status == "" {
		status = fields["result_code"]
	}

	return &CallbackData{
		OrderNo:           orderNo,
		ThirdPartyOrderNo: fields["trade_no"],
		Succeeded:         status == "TRADE_SUCCESS" || status == "SUCCESS",
		TradeStatus:       status,
		Fields:            fields,
	}, nil
}

// VerifyAmount 元为小数单位，容差 0.01 元
// 金额字段缺失一律拒绝
func (g *AlipayGateway) VerifyAmount(expected decimal.Decimal, data *CallbackData) bool {
	totalAmount := data.Fields["total_amount"]
	if totalAmount == "" {
		return false
	}

	paid, err := decimal.NewFromString(totalAmount)
	if err != nil {
		return false
	}

	diff := paid.Sub(expected).Abs()
	return diff.Cmp(alipayAmountTolerance) <= 0
}

// signAlipayParams 对除 sign/sign_type 外的参数按 key 排序后做摘要
func signAlipayParams(params map[string]string, key string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "sign" || k == "sign_type" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	payload := strings.Join(pairs, "&") + "&key=" + key

	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}
