package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"creditpay/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// 微信支付（V3 JSON 回调）
//
// 回调体为 JSON，携带 out_trade_no / trade_state / amount_total（单位：分），
// 签名在 Wechatpay-Timestamp / Wechatpay-Nonce / Wechatpay-Signature 请求头中。
// 金额以分为整数单位，要求精确相等。

type wechatConfig struct {
	AppID    string `json:"app_id"`
	MchID    string `json:"mch_id"`
	APIV3Key string `json:"api_v3_key"`
}

type WechatGateway struct{}

func NewWechatGateway() *WechatGateway {
	return &WechatGateway{}
}

func (g *WechatGateway) Type() string {
	return model.PaymentTypeWechat
}

func parseWechatConfig(configJSON string) (*wechatConfig, error) {
	var cfg wechatConfig
	if err := json.Unmarshal([]byte(configJSON), &cfg); err != nil {
		return nil, fmt.Errorf("解析微信支付配置失败: %w", err)
	}
	if cfg.APIV3Key == "" {
		return nil, fmt.Errorf("微信支付配置缺少 api_v3_key")
	}
	return &cfg, nil
}

// CreatePayment 生成 JSAPI 调起参数
func (g *WechatGateway) CreatePayment(orderNo string, amount decimal.Decimal, subject, configJSON string) (string, map[string]string, error) {
	cfg, err := parseWechatConfig(configJSON)
	if err != nil {
		return "", nil, err
	}

	// 微信侧金额单位为分
	amountFen := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	thirdPartyOrderNo := fmt.Sprintf("WX%d", time.Now().UnixMilli())

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")
	pkg := "prepay_id=" + thirdPartyOrderNo

	signPayload := strings.Join([]string{cfg.AppID, timestamp, nonce, pkg}, "\n") + "\n"

	params := map[string]string{
		"orderId":   thirdPartyOrderNo,
		"appId":     cfg.AppID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  "HMAC-SHA256",
		"paySign":   hmacSHA256(cfg.APIV3Key, signPayload),
		"total":     strconv.FormatInt(amountFen, 10),
		"subject":   subject,
	}

	return thirdPartyOrderNo, params, nil
}

// ParseCallback 验签并解析 V3 JSON 回调
func (g *WechatGateway) ParseCallback(body []byte, headers map[string]string, configJSON string) (*CallbackData, error) {
	cfg, err := parseWechatConfig(configJSON)
	if err != nil {
		return nil, err
	}

	timestamp := headerIgnoreCase(headers, "Wechatpay-Timestamp")
	nonce := headerIgnoreCase(headers, "Wechatpay-Nonce")
	signature := headerIgnoreCase(headers, "Wechatpay-Signature")
	if timestamp == "" || nonce == "" || signature == "" {
		return nil, ErrSignatureInvalid
	}

	expected := hmacSHA256(cfg.APIV3Key, timestamp+"\n"+nonce+"\n"+string(body)+"\n")
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrSignatureInvalid
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, ErrCallbackMalformed
	}

	fields := make(map[string]string, len(payload))
	for k, v := range payload {
		switch t := v.(type) {
		case string:
			fields[k] = t
		case float64:
			// JSON 数值统一按定点格式转字符串，避免科学计数法
			fields[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			fields[k] = fmt.Sprintf("%v", v)
		}
	}

	orderNo := fields["out_trade_no"]
	if orderNo == "" {
		return nil, ErrCallbackMalformed
	}

	tradeState := fields["trade_state"]

	return &CallbackData{
		OrderNo:           orderNo,
		ThirdPartyOrderNo: fields["transaction_id"],
		Succeeded:         tradeState == "SUCCESS",
		TradeStatus:       tradeState,
		Fields:            fields,
	}, nil
}

// VerifyAmount 分为整数单位，精确相等才通过
// 金额字段缺失一律拒绝，防止伪造回调绕过校验
func (g *WechatGateway) VerifyAmount(expected decimal.Decimal, data *CallbackData) bool {
	amountTotal := data.Fields["amount_total"]
	if amountTotal == "" {
		return false
	}

	paidFen, err := decimal.NewFromString(amountTotal)
	if err != nil {
		return false
	}

	expectedFen := expected.Mul(decimal.NewFromInt(100)).Round(0)
	return paidFen.Equal(expectedFen)
}

func hmacSHA256(key, payload string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

func headerIgnoreCase(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
