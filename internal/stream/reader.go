package stream

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// 上游流式响应读取
//
// 上游接口以 SSE 形式逐行返回增量内容：
//
//	data: {"choices":[{"delta":{"content":"..."}}]}
//	data: [DONE]
//
// Reader 把回调式的流消费改写为显式迭代：
// 每次 Next 返回一帧已解码的内容，终止信号通过错误值区分。

// ErrDone 收到 [DONE] 终止哨兵，流正常结束
var ErrDone = errors.New("stream done")

// UpstreamError 帧内携带的上游业务错误（error 对象或非零 code）
type UpstreamError struct {
	Code    int
	Message string
}

func (e *UpstreamError) Error() string {
	return e.Message
}

// Frame 一帧解码结果
type Frame struct {
	Raw     string // 去掉 data: 前缀的原始负载，透传给客户端
	Content string // choices[0].delta.content 增量文本，可能为空
}

// Reader 流式帧读取器
// 单次结算流程独占持有，不跨 goroutine 共享
type Reader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

func NewReader(body io.ReadCloser) *Reader {
	scanner := bufio.NewScanner(body)
	// 上游单帧可能较大，放宽默认 64KB 行上限
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{
		body:    body,
		scanner: scanner,
	}
}

// Next 读取下一帧
// 返回值约定：
//   - (frame, nil)          正常内容帧
//   - (zero, ErrDone)       收到 [DONE] 哨兵
//   - (zero, *UpstreamError) 帧内携带上游错误信号
//   - (zero, io.EOF)        连接关闭且没有哨兵
//   - (zero, err)           传输层错误
func (r *Reader) Next() (Frame, error) {
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" {
			continue
		}

		payload := line
		if strings.HasPrefix(line, "data:") {
			payload = strings.TrimSpace(line[len("data:"):])
		}
		if payload == "" {
			continue
		}

		if payload == "[DONE]" {
			return Frame{}, ErrDone
		}

		if upErr := extractUpstreamError(payload); upErr != nil {
			return Frame{}, upErr
		}

		return Frame{
			Raw:     payload,
			Content: extractDeltaContent(payload),
		}, nil
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}

func (r *Reader) Close() error {
	return r.body.Close()
}

// extractUpstreamError 检查帧内嵌的错误信号
// 兼容 {"error":"..."}、{"error":{"message":...}}、{"code":N,"msg":...} 几种上游格式
func extractUpstreamError(payload string) *UpstreamError {
	var node map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &node); err != nil {
		// 非 JSON 帧按内容帧处理
		return nil
	}

	if raw, ok := node["error"]; ok {
		switch v := raw.(type) {
		case string:
			if v != "" {
				return &UpstreamError{Message: v}
			}
		case map[string]interface{}:
			if msg := stringField(v, "message"); msg != "" {
				return &UpstreamError{Message: msg}
			}
			if msg := stringField(v, "msg"); msg != "" {
				return &UpstreamError{Message: msg}
			}
			return &UpstreamError{Message: "上游接口返回错误"}
		}
	}

	if raw, ok := node["code"]; ok {
		if f, ok := raw.(float64); ok {
			code := int(f)
			if code != 0 && code != 200 {
				msg := stringField(node, "message")
				if msg == "" {
					msg = stringField(node, "msg")
				}
				if msg == "" {
					msg = "上游接口返回错误"
				}
				return &UpstreamError{Code: code, Message: msg}
			}
		}
	}

	return nil
}

func extractDeltaContent(payload string) string {
	var node struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &node); err != nil {
		return ""
	}
	if len(node.Choices) == 0 {
		return ""
	}
	return node.Choices[0].Delta.Content
}

func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
