package supervisor

import (
	"fmt"
	"strings"

	"github.com/BaSui01/agentmesh/remote"
	"github.com/BaSui01/agentmesh/toolconn"
)

// buildSystemInstruction 构建路由系统提示：列出当前可用的执行者
// 及其能力描述，并要求结构化 JSON 决策输出。
func buildSystemInstruction(specialists []Executor, agents []remote.AgentDescriptor, tools []toolconn.ToolDescriptor) string {
	var b strings.Builder

	b.WriteString("You are the supervisor of a multi-agent system. ")
	b.WriteString("Given the conversation so far, decide which executor should act next.\n\n")
	b.WriteString("Available executors:\n")

	for _, e := range specialists {
		fmt.Fprintf(&b, "- %s: %s\n", e.Name(), e.Description())
	}
	for _, a := range agents {
		fmt.Fprintf(&b, "- remote-agent:%s: %s (%s)\n", a.ID, a.DisplayName, a.Description)
	}
	for i := range tools {
		fmt.Fprintf(&b, "- tool:%s: %s\n", tools[i].Name, tools[i].Summary())
	}

	b.WriteString("\nRespond with a single JSON object and nothing else:\n")
	b.WriteString(`{"next": "<executor id or FINISH>", "sub_task": "<instruction for the executor>", "final_answer": "<only when next is FINISH>"}` + "\n")
	b.WriteString("Choose FINISH only when the user's request is fully answered.\n")

	return b.String()
}
