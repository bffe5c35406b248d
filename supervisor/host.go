package supervisor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/state"
	"github.com/BaSui01/agentmesh/types"
)

// DefaultMaxTurns 宿主循环的整体回合上限（独立于运行状态里的
// 迭代上限）
const DefaultMaxTurns = 30

// Runner 宿主解释器循环：决策 → 应用补丁 → 按名分发 → 重复，
// 直到终止决策或回合上限。任何阶段的 panic 都被捕获并转换为
// 失败记录，控制权交还监督器；运行从不以未处理异常结束。
type Runner struct {
	sup      *Supervisor
	stages   map[string]Executor
	maxTurns int
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// NewRunner 创建宿主循环。specialists 按名字注册；remote 和 tool
// 阶段按固定阶段名注册。
func NewRunner(sup *Supervisor, specialists []Executor, remoteStage, toolStage Executor, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	stages := make(map[string]Executor, len(specialists)+2)
	for _, e := range specialists {
		stages[e.Name()] = e
	}
	if remoteStage != nil {
		stages[state.StageRemoteAgent] = remoteStage
	}
	if toolStage != nil {
		stages[state.StageTool] = toolStage
	}
	return &Runner{
		sup:      sup,
		stages:   stages,
		maxTurns: DefaultMaxTurns,
		logger:   logger.With(zap.String("component", "runner")),
	}
}

// WithMaxTurns 调整回合上限
func (r *Runner) WithMaxTurns(n int) *Runner {
	if n > 0 {
		r.maxTurns = n
	}
	return r
}

// WithMetrics 启用指标采集
func (r *Runner) WithMetrics(m *metrics.Collector) *Runner {
	r.metrics = m
	return r
}

// Run 驱动一次运行直到终止。运行结束的原因总能从状态的日志与
// 会话记录中读出。
func (r *Runner) Run(ctx context.Context, st *state.RunState) {
	next := state.StageSupervisor

	for turn := 0; turn < r.maxTurns; turn++ {
		if next == state.StageTerminal {
			break
		}

		var patch *state.Patch
		if next == state.StageSupervisor {
			patch = r.safeDecide(ctx, st)
		} else {
			exec, ok := r.stages[next]
			if !ok {
				msg := fmt.Sprintf("no executor registered for stage %q", next)
				r.logger.Error(msg)
				patch = &state.Patch{NextStage: state.StageSupervisor, Logs: []string{msg}}
			} else {
				patch = r.safeExecute(ctx, exec, st, st.PendingTask)
			}
		}

		patch.Apply(st)
		next = patch.NextStage
	}

	if !st.IsCompleted() {
		if r.metrics != nil {
			r.metrics.RecordForcedTermination("max_turns")
		}
		msg := fmt.Sprintf("run stopped after reaching the turn limit (%d)", r.maxTurns)
		note := types.NewAssistantMessage(msg).WithFinal(true)
		forced := &state.Patch{
			Completed:      true,
			AppendMessages: []types.Message{note},
			AppendInner:    []types.Message{note},
			Logs:           []string{msg},
		}
		forced.Apply(st)
	}

	if r.metrics != nil {
		r.metrics.ObserveRunIterations(st.IterationCount)
	}
	r.logger.Info("run finished",
		zap.String("run_id", st.RunID),
		zap.Int("iterations", st.IterationCount))
}

func (r *Runner) safeDecide(ctx context.Context, st *state.RunState) (patch *state.Patch) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("supervisor panicked: %v", rec)
			r.logger.Error(msg)
			note := types.NewAssistantMessage("run stopped after an internal error").WithFinal(true)
			patch = &state.Patch{
				NextStage:      state.StageTerminal,
				Completed:      true,
				AppendMessages: []types.Message{note},
				AppendInner:    []types.Message{note},
				Logs:           []string{msg},
			}
		}
	}()
	return r.sup.Decide(ctx, st)
}

func (r *Runner) safeExecute(ctx context.Context, exec Executor, st *state.RunState, task string) (patch *state.Patch) {
	defer func() {
		if rec := recover(); rec != nil {
			msg := fmt.Sprintf("stage %s panicked: %v", exec.Name(), rec)
			r.logger.Error(msg)
			patch = &state.Patch{
				NextStage: state.StageSupervisor,
				Logs:      []string{msg},
			}
		}
	}()
	return exec.Execute(ctx, st, task)
}
