package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/limiter"
	"creditpay/internal/model"
	"creditpay/internal/payment"
	"creditpay/internal/repository"
	"creditpay/internal/tenant"
	"creditpay/pkg/idgen"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

var (
	ErrRateLimited         = errors.New("操作过于频繁，请稍后再试")
	ErrAmountTooLow        = errors.New("充值金额低于最低限额")
	ErrGatewayDisabled     = errors.New("该支付方式未启用")
	ErrPaymentNotSuccess   = errors.New("支付未成功")
	ErrAmountMismatch      = errors.New("回调金额与订单金额不一致")
	ErrCancelWindowExpired = errors.New("订单创建已超过取消时限")
	ErrPaymentCreateFailed = errors.New("创建支付订单失败")
)

// OrderService 充值订单对账引擎
// 订单状态机：pending --下单--> paying --回调成功--> paid
// paid/failed/cancelled 为终态；paid 迁移是原子条件更新，保证一单最多入账一次
type OrderService struct {
	db          *gorm.DB
	cfg         *config.Config
	orderRepo   *repository.OrderRepository
	configRepo  *repository.PaymentConfigRepository
	outboxRepo  *repository.OutboxRepository
	ledger      *LedgerService
	gateways    *payment.Registry
	rateLimiter *limiter.RateLimiter
}

func NewOrderService(db *gorm.DB, cfg *config.Config, gateways *payment.Registry, ledger *LedgerService, rl *limiter.RateLimiter) *OrderService {
	return &OrderService{
		db:          db,
		cfg:         cfg,
		orderRepo:   repository.NewOrderRepository(db),
		configRepo:  repository.NewPaymentConfigRepository(db),
		outboxRepo:  repository.NewOutboxRepository(db),
		ledger:      ledger,
		gateways:    gateways,
		rateLimiter: rl,
	}
}

type CreateOrderResult struct {
	OrderNo       string          `json:"order_no"`
	Amount        decimal.Decimal `json:"amount"`
	Points        int64           `json:"points"`
	PaymentType   string          `json:"payment_type"`
	Status        string          `json:"status"`
	PaymentParams string          `json:"payment_params"` // 网关支付参数，客户端透传
	CreatedAt     time.Time       `json:"created_at"`
}

// CreateOrder 创建充值订单并向网关下单
// 网关下单失败时订单保留 pending 状态等待对账，不删除，保证审计链完整
func (s *OrderService) CreateOrder(ctx context.Context, userID int64, amount decimal.Decimal, paymentType string) (*CreateOrderResult, error) {
	// 防刷：同一用户窗口期内限制下单次数
	rateLimitKey := fmt.Sprintf("recharge_create_%d", userID)
	if !s.rateLimiter.TryAcquire(rateLimitKey, s.cfg.Business.OrderRateLimit, s.cfg.Business.OrderRateWindowSecs) {
		log.Printf("[OrderService] 订单创建频率超限: userID=%d", userID)
		return nil, ErrRateLimited
	}

	minAmount := decimal.NewFromFloat(s.cfg.Business.MinRechargeAmount)
	if amount.Cmp(minAmount) < 0 {
		return nil, ErrAmountTooLow
	}

	// 算力 = floor(金额 × 兑换率)
	// 精确十进制运算，向下取整，不多给用户算力
	points := amount.Mul(decimal.NewFromInt(s.cfg.Business.ExchangeRate)).Floor().IntPart()

	siteID, _ := tenant.SiteFrom(ctx)

	if _, err := s.ledger.EnsureAccount(ctx, userID, siteID); err != nil {
		return nil, fmt.Errorf("初始化账户失败: %w", err)
	}

	gateway, err := s.gateways.Get(paymentType)
	if err != nil {
		return nil, err
	}

	paymentConfig, err := s.configRepo.GetByType(ctx, paymentType)
	if err != nil {
		if errors.Is(err, repository.ErrPaymentConfigNotFound) {
			return nil, ErrGatewayDisabled
		}
		return nil, err
	}
	if !paymentConfig.IsEnabled {
		return nil, ErrGatewayDisabled
	}

	order := &model.RechargeOrder{
		OrderNo:     idgen.GenerateOrderNo(userID),
		UserID:      userID,
		Amount:      amount,
		Points:      points,
		PaymentType: paymentType,
		Status:      model.OrderStatusPending,
		SiteID:      siteID,
	}
	if err := s.orderRepo.Create(ctx, nil, order); err != nil {
		return nil, fmt.Errorf("创建订单失败: %w", err)
	}

	thirdPartyOrderNo, params, err := gateway.CreatePayment(order.OrderNo, amount, "算力充值", paymentConfig.ConfigJSON)
	if err != nil {
		// 订单保留 pending，等待用户重试或后台对账
		log.Printf("[OrderService] 网关下单失败: orderNo=%s, err=%v", order.OrderNo, err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentCreateFailed, err)
	}

	if err := s.orderRepo.MarkPaying(ctx, nil, order.OrderNo, thirdPartyOrderNo); err != nil {
		return nil, fmt.Errorf("更新订单状态失败: %w", err)
	}

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		log.Printf("[OrderService] 序列化支付参数失败: orderNo=%s, err=%v", order.OrderNo, err)
	}

	return &CreateOrderResult{
		OrderNo:       order.OrderNo,
		Amount:        amount,
		Points:        points,
		PaymentType:   paymentType,
		Status:        model.OrderStatusPaying,
		PaymentParams: string(paramsJSON),
		CreatedAt:     order.CreatedAt,
	}, nil
}

// HandleCallback 处理网关支付回调，幂等
//
// 返回 nil 表示回调已被接受（含重放已支付订单的无副作用场景），
// 网关应停止重试；返回错误表示本次处理未完成，网关会按自己的策略重发。
//
// 入账的唯一性由条件更新保证：
// UPDATE ... SET status='paid' WHERE order_no=? AND status<>'paid'
// 只有抢到这次更新（受影响行数=1）的调用才允许给账本入账，
// 入账和状态迁移在同一事务中，入账失败则迁移回滚、等待下次回调重试。
func (s *OrderService) HandleCallback(ctx context.Context, paymentType string, body []byte, headers map[string]string) error {
	gateway, err := s.gateways.Get(paymentType)
	if err != nil {
		return err
	}

	callbackData, err := s.parseWithCandidateConfigs(ctx, gateway, paymentType, body, headers)
	if err != nil {
		return err
	}

	// 回调没有租户上下文，按订单号跨站点定位
	order, err := s.orderRepo.GetByOrderNo(ctx, callbackData.OrderNo)
	if err != nil {
		return err
	}

	// 把订单自身的站点绑定到本次工作单元的 context
	ctx = tenant.WithSite(ctx, order.SiteID)

	// 重放已支付订单：无副作用直接接受
	if order.Status == model.OrderStatusPaid {
		log.Printf("[OrderService] 订单已支付，跳过处理: orderNo=%s", order.OrderNo)
		return nil
	}

	callbackInfo := marshalFields(callbackData.Fields)

	if !callbackData.Succeeded {
		log.Printf("[OrderService] 支付未成功: orderNo=%s, status=%s", order.OrderNo, callbackData.TradeStatus)
		if err := s.orderRepo.MarkFailed(ctx, nil, order.OrderNo, callbackInfo); err != nil {
			return err
		}
		return ErrPaymentNotSuccess
	}

	if !gateway.VerifyAmount(order.Amount, callbackData) {
		log.Printf("[OrderService] 回调金额校验失败: orderNo=%s", order.OrderNo)
		if err := s.orderRepo.MarkFailed(ctx, nil, order.OrderNo, callbackInfo); err != nil {
			return err
		}
		return ErrAmountMismatch
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		owned, err := s.orderRepo.MarkPaidIfNotPaid(ctx, tx, order.OrderNo, callbackData.ThirdPartyOrderNo, callbackInfo)
		if err != nil {
			return err
		}
		if !owned {
			// 并发回调已完成迁移，本次调用不再入账
			log.Printf("[OrderService] 订单已被并发回调处理: orderNo=%s", order.OrderNo)
			return nil
		}

		if err := s.ledger.Credit(ctx, tx, order.UserID, order.Points,
			model.TransactionTypeRecharge, order.OrderNo, "算力充值"); err != nil {
			return fmt.Errorf("充值入账失败: %w", err)
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"order_no": order.OrderNo,
			"user_id":  order.UserID,
			"amount":   order.Amount.StringFixed(2),
			"points":   order.Points,
			"paid_at":  time.Now().Format(time.RFC3339),
		})
		outboxMsg := &model.OutboxMessage{
			MessageKey: order.OrderNo,
			Topic:      s.cfg.Kafka.Topic.OrderPaid,
			Payload:    string(payload),
			Status:     model.OutboxStatusPending,
		}
		if err := s.outboxRepo.Create(ctx, tx, outboxMsg); err != nil {
			return fmt.Errorf("写入支付结果消息失败: %w", err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	log.Printf("[OrderService] 订单支付成功: orderNo=%s, userID=%d, points=%d",
		order.OrderNo, order.UserID, order.Points)
	return nil
}

// parseWithCandidateConfigs 定位能验过签的网关配置
// 当前站点配置优先；回调无租户上下文时逐个启用配置尝试验签
func (s *OrderService) parseWithCandidateConfigs(ctx context.Context, gateway payment.Gateway, paymentType string, body []byte, headers map[string]string) (*payment.CallbackData, error) {
	if cfg, err := s.configRepo.GetByType(ctx, paymentType); err == nil && cfg.IsEnabled {
		data, err := gateway.ParseCallback(body, headers, cfg.ConfigJSON)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, payment.ErrSignatureInvalid) {
			return nil, err
		}
	}

	candidates, err := s.configRepo.ListEnabledByTypeIgnoreTenant(ctx, paymentType)
	if err != nil {
		return nil, err
	}
	for _, candidate := range candidates {
		data, err := gateway.ParseCallback(body, headers, candidate.ConfigJSON)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, payment.ErrSignatureInvalid) {
			return nil, err
		}
	}

	return nil, payment.ErrSignatureInvalid
}

type OrderSnapshot struct {
	OrderNo     string          `json:"order_no"`
	Amount      decimal.Decimal `json:"amount"`
	Points      int64           `json:"points"`
	PaymentType string          `json:"payment_type"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	PaidAt      *time.Time      `json:"paid_at"`
	CompletedAt *time.Time      `json:"completed_at"`
}

// QueryOrder 查询订单状态快照，校验归属，不泄露他人订单
func (s *OrderService) QueryOrder(ctx context.Context, orderNo string, userID int64) (*OrderSnapshot, error) {
	order, err := s.orderRepo.GetByOrderNoAndUser(ctx, orderNo, userID)
	if err != nil {
		return nil, err
	}
	return snapshotOf(order), nil
}

// ListOrders 用户订单列表，按创建时间倒序
func (s *OrderService) ListOrders(ctx context.Context, userID int64, page, pageSize int) ([]*OrderSnapshot, int64, error) {
	orders, total, err := s.orderRepo.ListByUserID(ctx, userID, page, pageSize)
	if err != nil {
		return nil, 0, err
	}
	snapshots := make([]*OrderSnapshot, 0, len(orders))
	for _, order := range orders {
		snapshots = append(snapshots, snapshotOf(order))
	}
	return snapshots, total, nil
}

// CancelOrder 取消订单
// 仅允许取消创建后时限内、尚未到终态的订单
func (s *OrderService) CancelOrder(ctx context.Context, orderNo string, userID int64) error {
	order, err := s.orderRepo.GetByOrderNoAndUser(ctx, orderNo, userID)
	if err != nil {
		return err
	}

	if order.Status != model.OrderStatusPending && order.Status != model.OrderStatusPaying {
		return repository.ErrOrderStatusInvalid
	}

	if time.Since(order.CreatedAt) > s.cfg.Business.CancelWindow() {
		log.Printf("[OrderService] 尝试取消超时订单: orderNo=%s, createdAt=%v", orderNo, order.CreatedAt)
		return ErrCancelWindowExpired
	}

	if err := s.orderRepo.UpdateStatus(ctx, nil, orderNo, order.Status, model.OrderStatusCancelled); err != nil {
		return err
	}

	log.Printf("[OrderService] 订单已取消: orderNo=%s, userID=%d", orderNo, userID)
	return nil
}

func snapshotOf(order *model.RechargeOrder) *OrderSnapshot {
	return &OrderSnapshot{
		OrderNo:     order.OrderNo,
		Amount:      order.Amount,
		Points:      order.Points,
		PaymentType: order.PaymentType,
		Status:      order.Status,
		CreatedAt:   order.CreatedAt,
		PaidAt:      order.PaidAt,
		CompletedAt: order.CompletedAt,
	}
}

func marshalFields(fields map[string]string) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}
