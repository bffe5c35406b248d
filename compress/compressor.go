// Package compress reduces a conversation history to fit within a token
// budget before every decision call. Compression is a pure function of
// (messages, model, limit): it never mutates its input slice.
package compress

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/tokenizer"
	"github.com/BaSui01/agentmesh/types"
)

// Config 压缩配置
type Config struct {
	// TargetRatio 压缩目标：降到 maxTokens*TargetRatio 即停止
	TargetRatio float64 `yaml:"target_ratio" json:"target_ratio"`

	// MinKeepMessages 压缩后至少保留的消息条数
	MinKeepMessages int `yaml:"min_keep_messages" json:"min_keep_messages"`

	// MaxPasses 迭代上限，保证即使达不到目标比也会终止
	MaxPasses int `yaml:"max_passes" json:"max_passes"`
}

// DefaultConfig 默认压缩配置
func DefaultConfig() Config {
	return Config{
		TargetRatio:     0.6,
		MinKeepMessages: 6,
		MaxPasses:       3,
	}
}

// Stats 单次压缩的统计信息
type Stats struct {
	TokensBefore    int  `json:"tokens_before"`
	TokensAfter     int  `json:"tokens_after"`
	RemovedMessages int  `json:"removed_messages"`
	Passes          int  `json:"passes"`
	Compressed      bool `json:"compressed"`
}

// Compressor 上下文压缩器
type Compressor struct {
	config Config
	logger *zap.Logger
}

// New 创建压缩器
func New(config Config, logger *zap.Logger) *Compressor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.TargetRatio <= 0 || config.TargetRatio > 1 {
		config.TargetRatio = 0.6
	}
	if config.MinKeepMessages <= 0 {
		config.MinKeepMessages = 6
	}
	if config.MaxPasses <= 0 {
		config.MaxPasses = 3
	}
	return &Compressor{config: config, logger: logger}
}

// Compress 将消息压到 token 预算内。
// 已在预算内时原样返回输入（幂等）。超出预算时迭代地把消息列表
// 中部约 1/8 长度的连续块替换为一条合成摘要消息，直到降到
// maxTokens*TargetRatio 以下或剩余长度触及 MinKeepMessages。
func (c *Compressor) Compress(msgs []types.Message, model string, maxTokens int) ([]types.Message, Stats) {
	tok := tokenizer.ForModel(model)

	count := c.countMessages(tok, msgs)
	stats := Stats{TokensBefore: count, TokensAfter: count}

	if maxTokens <= 0 || count <= maxTokens {
		return msgs, stats
	}

	target := int(float64(maxTokens) * c.config.TargetRatio)
	current := msgs

	for pass := 0; pass < c.config.MaxPasses; pass++ {
		if len(current) <= c.config.MinKeepMessages {
			break
		}

		block := len(current) / 8
		if block < 1 {
			block = 1
		}
		// 保证结果不少于 MinKeepMessages（替换块会换成 1 条摘要）
		if len(current)-block+1 < c.config.MinKeepMessages {
			block = len(current) + 1 - c.config.MinKeepMessages
			if block < 1 {
				break
			}
		}

		start := (len(current) - block) / 2
		summary := types.NewSystemMessage(
			fmt.Sprintf("[context compressed] %d earlier messages were summarized away: %s",
				block, headline(current[start:start+block])))

		next := make([]types.Message, 0, len(current)-block+1)
		next = append(next, current[:start]...)
		next = append(next, summary)
		next = append(next, current[start+block:]...)

		stats.RemovedMessages += block
		stats.Passes = pass + 1
		current = next

		count = c.countMessages(tok, current)
		if count <= target {
			break
		}
	}

	stats.TokensAfter = count
	stats.Compressed = stats.RemovedMessages > 0

	if stats.Compressed {
		c.logger.Info("context compressed",
			zap.Int("tokens_before", stats.TokensBefore),
			zap.Int("tokens_after", stats.TokensAfter),
			zap.Int("removed_messages", stats.RemovedMessages),
			zap.Int("passes", stats.Passes),
		)
	}

	return current, stats
}

// countMessages 主分词器失败时退化为词数统计
func (c *Compressor) countMessages(tok tokenizer.Tokenizer, msgs []types.Message) int {
	count, err := tok.CountMessages(msgs)
	if err == nil {
		return count
	}

	c.logger.Warn("tokenizer failed, falling back to word count",
		zap.String("tokenizer", tok.Name()), zap.Error(err))

	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content)) + 4
	}
	return total
}

// headline 摘要消息里带上被压缩块的首条内容片段，方便追溯
func headline(block []types.Message) string {
	if len(block) == 0 {
		return ""
	}
	first := []rune(block[0].Content)
	if len(first) > 80 {
		return string(first[:80]) + "…"
	}
	return string(first)
}
