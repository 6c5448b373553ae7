package handler

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"creditpay/internal/config"
	"creditpay/internal/payment"
	"creditpay/internal/repository"
	"creditpay/internal/service"
	"creditpay/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// Handler 统一处理器，包含所有服务依赖
type Handler struct {
	cfg          *config.Config
	orderService *service.OrderService
	taskService  *service.TaskService
	ledger       *service.LedgerService
}

// NewHandler 创建处理器实例
func NewHandler(cfg *config.Config, orderService *service.OrderService, taskService *service.TaskService, ledger *service.LedgerService) *Handler {
	return &Handler{
		cfg:          cfg,
		orderService: orderService,
		taskService:  taskService,
		ledger:       ledger,
	}
}

// businessError 把服务层哨兵错误翻译成业务错误码
// 未识别的错误一律按服务器内部错误处理，不向客户端泄漏内部细节
func businessError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, repository.ErrBalanceNotEnough):
		response.BusinessError(c, response.CodeInsufficientBalance, err.Error())
	case errors.Is(err, repository.ErrAccountNotFound):
		response.BusinessError(c, response.CodeAccountNotFound, err.Error())
	case errors.Is(err, repository.ErrOrderNotFound):
		response.BusinessError(c, response.CodeOrderNotFound, err.Error())
	case errors.Is(err, repository.ErrOrderStatusInvalid),
		errors.Is(err, service.ErrCancelWindowExpired):
		response.BusinessError(c, response.CodeOrderStatusInvalid, err.Error())
	case errors.Is(err, repository.ErrTaskNotFound):
		response.BusinessError(c, response.CodeTaskNotFound, err.Error())
	case errors.Is(err, service.ErrRateLimited):
		response.BusinessError(c, response.CodeRateLimited, err.Error())
	case errors.Is(err, service.ErrAmountTooLow),
		errors.Is(err, service.ErrInvalidAmount):
		response.BusinessError(c, response.CodeAmountInvalid, err.Error())
	case errors.Is(err, service.ErrAmountMismatch):
		response.BusinessError(c, response.CodeAmountMismatch, err.Error())
	case errors.Is(err, service.ErrGatewayDisabled):
		response.BusinessError(c, response.CodeGatewayDisabled, err.Error())
	case errors.Is(err, service.ErrPaymentCreateFailed):
		response.BusinessError(c, response.CodePaymentCreateFailed, err.Error())
	case errors.Is(err, payment.ErrGatewayNotSupported):
		response.BusinessError(c, response.CodeGatewayNotSupported, err.Error())
	default:
		response.ServerError(c, "服务器内部错误")
	}
}

// ============================================================
// 账户相关接口
// ============================================================

// GetBalance 查询用户算力余额
// GET /api/v1/account/balance?user_id=xxx
func (h *Handler) GetBalance(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	balance, err := h.ledger.Balance(c.Request.Context(), userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"user_id": userID,
		"balance": balance,
	})
}

// ListTransactions 查询用户算力流水
// GET /api/v1/account/transactions?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTransactions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	transactions, total, err := h.ledger.Transactions(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      transactions,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// ============================================================
// 充值订单相关接口
// ============================================================

// CreateOrderRequest 创建充值订单请求
type CreateOrderRequest struct {
	UserID      int64  `json:"user_id" binding:"required"`
	Amount      string `json:"amount" binding:"required"`       // 金额（元），字符串避免浮点精度问题
	PaymentType string `json:"payment_type" binding:"required"` // wechat / alipay
}

// CreateOrder 创建充值订单并向网关下单
// POST /api/v1/order/create
func (h *Handler) CreateOrder(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || amount.IsNegative() {
		response.ParamError(c, "amount 参数错误")
		return
	}

	result, err := h.orderService.CreateOrder(c.Request.Context(), req.UserID, amount, req.PaymentType)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, result)
}

// GetOrder 查询订单详情
// GET /api/v1/order/detail?order_no=xxx&user_id=xxx
func (h *Handler) GetOrder(c *gin.Context) {
	orderNo := c.Query("order_no")
	if orderNo == "" {
		response.ParamError(c, "order_no 参数不能为空")
		return
	}
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	order, err := h.orderService.QueryOrder(c.Request.Context(), orderNo, userID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, order)
}

// ListOrders 查询用户充值订单列表
// GET /api/v1/order/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListOrders(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	orders, total, err := h.orderService.ListOrders(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      orders,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CancelOrder 取消未支付订单
// POST /api/v1/order/cancel
func (h *Handler) CancelOrder(c *gin.Context) {
	var req struct {
		OrderNo string `json:"order_no" binding:"required"`
		UserID  int64  `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	if err := h.orderService.CancelOrder(c.Request.Context(), req.OrderNo, req.UserID); err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"message": "订单已取消",
	})
}

// ============================================================
// 支付回调接口
// ============================================================

// WechatCallback 微信支付回调
// POST /api/v1/payment/callback/wechat
//
// 响应格式由微信协议规定：成功 {"code":"SUCCESS"}，失败 {"code":"FAIL"}
// 返回 FAIL 时微信会按退避策略重试投递
func (h *Handler) WechatCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "FAIL", "message": "读取回调报文失败"})
		return
	}

	if err := h.orderService.HandleCallback(c.Request.Context(), "wechat", body, headerMap(c)); err != nil {
		log.Printf("[Callback] 微信回调处理失败: %v", err)
		c.JSON(http.StatusOK, gin.H{"code": "FAIL", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"code": "SUCCESS"})
}

// AlipayCallback 支付宝异步通知
// POST /api/v1/payment/callback/alipay
//
// 支付宝要求纯文本响应：success 表示接收成功，failure 会触发重试
func (h *Handler) AlipayCallback(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.String(http.StatusOK, "failure")
		return
	}

	if err := h.orderService.HandleCallback(c.Request.Context(), "alipay", body, headerMap(c)); err != nil {
		log.Printf("[Callback] 支付宝回调处理失败: %v", err)
		c.String(http.StatusOK, "failure")
		return
	}

	c.String(http.StatusOK, "success")
}

func headerMap(c *gin.Context) map[string]string {
	headers := make(map[string]string, len(c.Request.Header))
	for k := range c.Request.Header {
		headers[k] = c.Request.Header.Get(k)
	}
	return headers
}

// ============================================================
// 分析任务相关接口
// ============================================================

// SubmitTaskRequest 提交分析任务请求
type SubmitTaskRequest struct {
	UserID  int64  `json:"user_id" binding:"required"`
	Type    string `json:"type" binding:"required"` // generation / image / video
	Content string `json:"content" binding:"required"`
	Model   string `json:"model"` // 为空时使用配置的默认模型
}

// SubmitTask 提交任务并以 SSE 流式返回生成结果
// POST /api/v1/task/submit
//
// 扣费在开流之前完成，流中途失败由结算逻辑退款；
// 客户端断开不影响结算，任务仍会走到终态
func (h *Handler) SubmitTask(c *gin.Context) {
	var req SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, "参数错误: "+err.Error())
		return
	}

	modelName := req.Model
	if modelName == "" {
		modelName = h.cfg.Upstream.Model
	}

	task, err := h.taskService.Submit(c.Request.Context(), req.UserID, req.Type, req.Content, modelName, h.cfg.Business.TaskCost)
	if err != nil {
		businessError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		// 不支持流式的场景退化为同步执行，结果走任务详情接口查询
		_ = h.taskService.RunStream(c.Request.Context(), task, "", nil)
		return
	}

	// 首帧回传任务ID，客户端凭它轮询详情或断线重查
	fmt.Fprintf(c.Writer, "event: task\ndata: {\"task_id\":%d}\n\n", task.ID)
	flusher.Flush()

	sink := func(raw string) {
		fmt.Fprintf(c.Writer, "data: %s\n\n", raw)
		flusher.Flush()
	}

	if err := h.taskService.RunStream(c.Request.Context(), task, "", sink); err != nil {
		// 退款已在 RunStream 内完成，这里只负责告知客户端
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"code\":%d,\"message\":%s}\n\n",
			response.CodeUpstreamError, strconv.Quote("生成失败，费用已退回"))
		flusher.Flush()
		return
	}

	fmt.Fprint(c.Writer, "data: [DONE]\n\n")
	flusher.Flush()
}

// GetTask 查询任务详情
// GET /api/v1/task/detail?task_id=xxx
func (h *Handler) GetTask(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Query("task_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "task_id 参数错误")
		return
	}

	task, err := h.taskService.GetTask(c.Request.Context(), taskID)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, task)
}

// ListTasks 查询用户任务列表
// GET /api/v1/task/list?user_id=xxx&page=1&page_size=10
func (h *Handler) ListTasks(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Query("user_id"), 10, 64)
	if err != nil {
		response.ParamError(c, "user_id 参数错误")
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "10"))

	tasks, total, err := h.taskService.ListTasks(c.Request.Context(), userID, page, pageSize)
	if err != nil {
		businessError(c, err)
		return
	}

	response.Success(c, gin.H{
		"list":      tasks,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}
