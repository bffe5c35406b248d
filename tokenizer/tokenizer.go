// Package tokenizer provides pluggable token counting with a tiktoken-backed
// primary implementation and a character-based estimator fallback.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/BaSui01/agentmesh/types"
)

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountText 返回给定文本的 token 数
	CountText(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，
	// 包括每条消息的开销（角色标记、分隔符等）。
	CountMessages(messages []types.Message) (int, error)

	// Name 返回分词器名称
	Name() string
}

// 全局分词器注册表
var (
	modelTokenizers   = make(map[string]Tokenizer)
	modelTokenizersMu sync.RWMutex
)

// Register 为给定模型名注册分词器
func Register(model string, t Tokenizer) {
	modelTokenizersMu.Lock()
	defer modelTokenizersMu.Unlock()
	modelTokenizers[model] = t
}

// Lookup 返回为给定模型注册的分词器，支持前缀匹配
// （如 "gpt-4o-mini" 匹配 "gpt-4o"）。
func Lookup(model string) (Tokenizer, error) {
	modelTokenizersMu.RLock()
	defer modelTokenizersMu.RUnlock()

	if t, ok := modelTokenizers[model]; ok {
		return t, nil
	}

	for prefix, t := range modelTokenizers {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return t, nil
		}
	}

	return nil, fmt.Errorf("no tokenizer registered for model: %s", model)
}

// ForModel 返回该模型的分词器，未注册时回退到通用估计器。
// 永不失败。
func ForModel(model string) Tokenizer {
	t, err := Lookup(model)
	if err != nil {
		return NewEstimator(model)
	}
	return t
}
