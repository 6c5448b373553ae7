package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"creditpay/internal/config"
	"creditpay/internal/stream"
)

// 第三方 AI 接口客户端
// 网络调用不持有任何数据库事务：扣费落库和外部调用是两个独立的工作单元，
// 只通过任务ID关联

// 上游任务终态
const (
	StatusProcessing = "processing"
	StatusSuccess    = "success"
	StatusFailed     = "failed"
)

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg *config.UpstreamConfig) *Client {
	connectTimeout := time.Duration(cfg.ConnectTimeout) * time.Second
	if connectTimeout <= 0 {
		connectTimeout = 10 * time.Second
	}
	readTimeout := time.Duration(cfg.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 180 * time.Second
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			// 整体超时覆盖流式读取全程
			Timeout: readTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: connectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: connectTimeout,
			},
		},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Stream   bool          `json:"stream"`
	Messages []chatMessage `json:"messages"`
}

// OpenStream 发起流式分析请求，返回帧读取器
// 调用方负责 Close
func (c *Client) OpenStream(ctx context.Context, model, systemPrompt, content string) (*stream.Reader, error) {
	req := chatRequest{
		Model:  model,
		Stream: true,
	}
	if systemPrompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	req.Messages = append(req.Messages, chatMessage{Role: "user", Content: content})

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("上游接口调用失败: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("上游接口返回 %d: %s", resp.StatusCode, string(data))
	}

	return stream.NewReader(resp.Body), nil
}

type taskStatusResponse struct {
	Status string `json:"status"`
	Result string `json:"result"`
	Error  string `json:"error"`
}

// QueryTaskStatus 查询上游异步任务的最终状态
// 清理任务在判定超时前最后确认一次，避免把已完成的任务退款
func (c *Client) QueryTaskStatus(ctx context.Context, upstreamTaskID string) (status, result, errMsg string, err error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tasks/"+upstreamTaskID, nil)
	if err != nil {
		return "", "", "", err
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", "", "", fmt.Errorf("查询上游任务状态失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", "", fmt.Errorf("上游接口返回 %d", resp.StatusCode)
	}

	var body taskStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", "", "", fmt.Errorf("解析上游响应失败: %w", err)
	}

	return body.Status, body.Result, body.Error, nil
}
