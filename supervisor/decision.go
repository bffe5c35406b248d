package supervisor

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Finish 路由决策的终止标记
const Finish = "FINISH"

// RouteDecision 单轮路由决策
type RouteDecision struct {
	// Next 下一个执行者 id，或 Finish
	Next string `json:"next"`
	// SubTask 交给该执行者的指令文本
	SubTask string `json:"sub_task,omitempty"`
	// FinalAnswer Next 为 Finish 时的最终回答
	FinalAnswer string `json:"final_answer,omitempty"`
}

// decodeDecision 从模型原始输出中解析路由决策。
// 修复阶梯：直接解析 → 提取 ```json 围栏块 → 截取最外层大括号。
// 全部失败返回 error，由调用方决定重试或回退默认决策。
func decodeDecision(raw string, available map[string]bool) (*RouteDecision, error) {
	candidates := []string{strings.TrimSpace(raw)}

	if fenced := extractFenced(raw); fenced != "" {
		candidates = append(candidates, fenced)
	}
	if braced := extractBraced(raw); braced != "" {
		candidates = append(candidates, braced)
	}

	var lastErr error
	for _, c := range candidates {
		var d RouteDecision
		if err := json.Unmarshal([]byte(c), &d); err != nil {
			lastErr = err
			continue
		}
		d.Next = strings.TrimSpace(d.Next)
		if d.Next == "" {
			lastErr = fmt.Errorf("decision missing next field")
			continue
		}
		if d.Next != Finish && !available[d.Next] {
			lastErr = fmt.Errorf("decision names unknown executor %q", d.Next)
			continue
		}
		return &d, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("empty decision output")
	}
	return nil, fmt.Errorf("failed to decode route decision: %w", lastErr)
}

// extractFenced 提取首个 ```json 或 ``` 围栏块的内容
func extractFenced(s string) string {
	start := strings.Index(s, "```")
	if start < 0 {
		return ""
	}
	rest := s[start+3:]
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		head := strings.TrimSpace(rest[:nl])
		if head == "json" || head == "" {
			rest = rest[nl+1:]
		}
	}
	end := strings.Index(rest, "```")
	if end < 0 {
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(rest[:end])
}

// extractBraced 截取最外层 { ... } 片段
func extractBraced(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
