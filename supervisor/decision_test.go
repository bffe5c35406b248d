package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func availableSet() map[string]bool {
	return map[string]bool{
		"general":              true,
		"code":                 true,
		"remote-agent:planner": true,
		"tool:search/web":      true,
	}
}

func TestDecodeDecisionDirect(t *testing.T) {
	d, err := decodeDecision(`{"next":"code","sub_task":"write the parser"}`, availableSet())
	require.NoError(t, err)
	assert.Equal(t, "code", d.Next)
	assert.Equal(t, "write the parser", d.SubTask)
}

func TestDecodeDecisionFinish(t *testing.T) {
	d, err := decodeDecision(`{"next":"FINISH","final_answer":"all done"}`, availableSet())
	require.NoError(t, err)
	assert.Equal(t, Finish, d.Next)
	assert.Equal(t, "all done", d.FinalAnswer)
}

func TestDecodeDecisionFencedBlock(t *testing.T) {
	raw := "Here is my decision:\n```json\n{\"next\": \"general\"}\n```\nthanks"
	d, err := decodeDecision(raw, availableSet())
	require.NoError(t, err)
	assert.Equal(t, "general", d.Next)
}

func TestDecodeDecisionBraceExtraction(t *testing.T) {
	raw := `I think the next step should be {"next": "remote-agent:planner", "sub_task": "plan it"} based on the context.`
	d, err := decodeDecision(raw, availableSet())
	require.NoError(t, err)
	assert.Equal(t, "remote-agent:planner", d.Next)
}

func TestDecodeDecisionUnknownExecutor(t *testing.T) {
	_, err := decodeDecision(`{"next":"nonexistent"}`, availableSet())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown executor")
}

func TestDecodeDecisionMissingNext(t *testing.T) {
	_, err := decodeDecision(`{"sub_task":"something"}`, availableSet())
	assert.Error(t, err)
}

func TestDecodeDecisionGarbage(t *testing.T) {
	_, err := decodeDecision("complete nonsense with no json", availableSet())
	assert.Error(t, err)

	_, err = decodeDecision("", availableSet())
	assert.Error(t, err)
}

func TestDecodeDecisionWhitespaceTrimmed(t *testing.T) {
	d, err := decodeDecision(`{"next":"  general  "}`, availableSet())
	require.NoError(t, err)
	assert.Equal(t, "general", d.Next)
}
