package payment_test

import (
	"crypto/md5"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"
	"testing"

	"creditpay/internal/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const alipayTestConfig = `{"app_id":"ali_test","private_key":"test-private-key"}`

// alipaySign 与网关实现保持一致的摘要算法，用于构造合法回调
func alipaySign(params map[string]string, key string) string {
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
	sum := md5.Sum([]byte(strings.Join(pairs, "&") + "&key=" + key))
	return hex.EncodeToString(sum[:])
}

func alipayCallbackBody(params map[string]string) []byte {
	params["sign"] = alipaySign(params, "test-private-key")
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	return []byte(values.Encode())
}

func TestAlipayGateway_CreatePayment_BuildsPayURL(t *testing.T) {
	g := payment.NewAlipayGateway()

	thirdPartyOrderNo, params, err := g.CreatePayment("R20001", decimal.NewFromFloat(50.00), "算力充值", alipayTestConfig)
	require.NoError(t, err)

	assert.NotEmpty(t, thirdPartyOrderNo)
	assert.Contains(t, params["payUrl"], "out_trade_no=R20001")
	assert.Contains(t, params["payUrl"], "total_amount=50.00")
	assert.Contains(t, params["payUrl"], "sign=")
}

func TestAlipayGateway_ParseCallback_ValidSignature(t *testing.T) {
	g := payment.NewAlipayGateway()

	body := alipayCallbackBody(map[string]string{
		"out_trade_no": "R20001",
		"trade_no":     "ALI456",
		"trade_status": "TRADE_SUCCESS",
		"total_amount": "50.00",
	})

	data, err := g.ParseCallback(body, nil, alipayTestConfig)
	require.NoError(t, err)

	assert.Equal(t, "R20001", data.OrderNo)
	assert.Equal(t, "ALI456", data.ThirdPartyOrderNo)
	assert.True(t, data.Succeeded)
}

func TestAlipayGateway_ParseCallback_ResultCodeFallback(t *testing.T) {
	// 部分渠道没有 trade_status，只有 result_code

	g := payment.NewAlipayGateway()

	body := alipayCallbackBody(map[string]string{
		"out_trade_no": "R20001",
		"result_code":  "SUCCESS",
		"total_amount": "50.00",
	})

	data, err := g.ParseCallback(body, nil, alipayTestConfig)
	require.NoError(t, err)
	assert.True(t, data.Succeeded)
}

func TestAlipayGateway_ParseCallback_BadSignature_Rejected(t *testing.T) {
	g := payment.NewAlipayGateway()

	values := url.Values{}
	values.Set("out_trade_no", "R20001")
	values.Set("trade_status", "TRADE_SUCCESS")
	values.Set("total_amount", "50.00")
	values.Set("sign", "deadbeef")

	_, err := g.ParseCallback([]byte(values.Encode()), nil, alipayTestConfig)
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestAlipayGateway_ParseCallback_MissingSign_Rejected(t *testing.T) {
	g := payment.NewAlipayGateway()

	_, err := g.ParseCallback([]byte("out_trade_no=R20001&trade_status=TRADE_SUCCESS"), nil, alipayTestConfig)
	assert.ErrorIs(t, err, payment.ErrSignatureInvalid)
}

func TestAlipayGateway_ParseCallback_ClosedTrade_NotSucceeded(t *testing.T) {
	g := payment.NewAlipayGateway()

	body := alipayCallbackBody(map[string]string{
		"out_trade_no": "R20001",
		"trade_status": "TRADE_CLOSED",
		"total_amount": "50.00",
	})

	data, err := g.ParseCallback(body, nil, alipayTestConfig)
	require.NoError(t, err)
	assert.False(t, data.Succeeded)
}

func TestAlipayGateway_VerifyAmount_WithinTolerance(t *testing.T) {
	// 支付宝金额为小数元，允许 0.01 元以内的精度差

	g := payment.NewAlipayGateway()
	expected := decimal.NewFromInt(100)

	exact := &payment.CallbackData{Fields: map[string]string{"total_amount": "100.00"}}
	assert.True(t, g.VerifyAmount(expected, exact))

	oneFenOver := &payment.CallbackData{Fields: map[string]string{"total_amount": "100.01"}}
	assert.True(t, g.VerifyAmount(expected, oneFenOver), "0.01 元以内的差额应通过")

	oneFenUnder := &payment.CallbackData{Fields: map[string]string{"total_amount": "99.99"}}
	assert.True(t, g.VerifyAmount(expected, oneFenUnder))
}

func TestAlipayGateway_VerifyAmount_BeyondTolerance_Rejected(t *testing.T) {
	g := payment.NewAlipayGateway()
	expected := decimal.NewFromInt(100)

	twoFenOver := &payment.CallbackData{Fields: map[string]string{"total_amount": "100.02"}}
	assert.False(t, g.VerifyAmount(expected, twoFenOver), "超出 0.01 元容差必须拒绝")
}

func TestAlipayGateway_VerifyAmount_MissingField_Rejected(t *testing.T) {
	g := payment.NewAlipayGateway()

	data := &payment.CallbackData{Fields: map[string]string{}}
	assert.False(t, g.VerifyAmount(decimal.NewFromInt(100), data))
}

func TestRegistry_GetUnknownType(t *testing.T) {
	registry := payment.NewRegistry(payment.NewWechatGateway(), payment.NewAlipayGateway())

	g, err := registry.Get("wechat")
	require.NoError(t, err)
	assert.Equal(t, "wechat", g.Type())

	_, err = registry.Get("applepay")
	assert.ErrorIs(t, err, payment.ErrGatewayNotSupported)
}
