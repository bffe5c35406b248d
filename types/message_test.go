package types

import "testing"

func TestMessageConstructorsAndFinalTag(t *testing.T) {
	t.Parallel()

	m := NewAssistantMessage("done")
	if m.Role != RoleAssistant || m.Final {
		t.Fatalf("unexpected assistant message: %+v", m)
	}
	if !m.WithFinal(true).Final {
		t.Fatalf("WithFinal(true) should set the Final tag")
	}
	if m.WithFinal(true).WithFinal(false).Final {
		t.Fatalf("WithFinal(false) should clear the Final tag")
	}
	if m.Final {
		t.Fatalf("WithFinal must not mutate the receiver")
	}

	tm := NewToolMessage("call-1", "web_search", "results")
	if tm.Role != RoleTool || tm.ToolCallID != "call-1" || tm.Name != "web_search" {
		t.Fatalf("unexpected tool message: %+v", tm)
	}

	sm := NewSystemMessage("route carefully")
	um := NewUserMessage("hello")
	if sm.Role != RoleSystem || um.Role != RoleUser {
		t.Fatalf("unexpected roles: %s %s", sm.Role, um.Role)
	}
	if sm.Timestamp.IsZero() || um.Timestamp.IsZero() {
		t.Fatalf("constructors should stamp creation time")
	}
}
