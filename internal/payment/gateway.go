package payment

import (
	"errors"

	"github.com/shopspring/decimal"
)

// 支付网关抽象
//
// 每个网关实现 下单/回调解析/金额校验 三个能力，按 payment_type 配置选择，
// 业务层不出现按网关名分支的逻辑。
// 验签被当作黑盒 verify(payload, config)：验不过即拒绝，细节由各网关实现。

var (
	ErrGatewayNotSupported = errors.New("不支持的支付方式")
	ErrSignatureInvalid    = errors.New("回调验签失败")
	ErrCallbackMalformed   = errors.New("回调数据不完整")
)

// CallbackData 网关回调解析结果（已验签）
type CallbackData struct {
	OrderNo           string            // 商户订单号 out_trade_no
	ThirdPartyOrderNo string            // 网关侧交易号
	Succeeded         bool              // 交易状态是否为成功
	TradeStatus       string            // 网关原始状态值
	Fields            map[string]string // 全部原始字段，审计用
}

// Gateway 支付网关能力集
type Gateway interface {
	// Type 网关标识（wechat/alipay）
	Type() string

	// CreatePayment 向网关下单，返回第三方单号和透传给客户端的支付参数
	CreatePayment(orderNo string, amount decimal.Decimal, subject, configJSON string) (thirdPartyOrderNo string, params map[string]string, err error)

	// ParseCallback 验签并解析回调，验签失败返回 ErrSignatureInvalid
	ParseCallback(body []byte, headers map[string]string, configJSON string) (*CallbackData, error)

	// VerifyAmount 校验回调金额与订单金额是否一致
	VerifyAmount(expected decimal.Decimal, data *CallbackData) bool
}

// Registry 网关注册表，按配置选择网关
type Registry struct {
	gateways map[string]Gateway
}

func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway)}
	for _, g := range gateways {
		r.gateways[g.Type()] = g
	}
	return r
}

func (r *Registry) Get(paymentType string) (Gateway, error) {
	g, ok := r.gateways[paymentType]
	if !ok {
		return nil, ErrGatewayNotSupported
	}
	return g, nil
}
