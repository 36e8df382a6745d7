package correlation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_GetOrCreate_SameIDReturnsSameRecord(t *testing.T) {
	s := New(nil)

	a := s.GetOrCreate("conv-1")
	b := s.GetOrCreate("conv-1")

	assert.Same(t, a, b)
	assert.Equal(t, 1, s.Len())
}

func TestStore_Update_RecordsBindingBothDirections(t *testing.T) {
	s := New(nil)

	s.Update("conv-1", "resp-1", []Binding{
		{CallID: "c1", ToolUseID: "toolu_1", ToolName: "calc"},
	})

	conv := s.GetOrCreate("conv-1")

	byCall, ok := conv.BindingByCallID("c1")
	require.True(t, ok)
	assert.Equal(t, "toolu_1", byCall.ToolUseID)

	byTool, ok := conv.BindingByToolUseID("toolu_1")
	require.True(t, ok)
	assert.Equal(t, "c1", byTool.CallID)
	assert.Equal(t, "calc", byTool.ToolName)

	last, ok := conv.LastResponseID()
	require.True(t, ok)
	assert.Equal(t, "resp-1", last)
}

func TestStore_Update_NewerBindingWins(t *testing.T) {
	s := New(nil)

	s.Update("conv-1", "", []Binding{{CallID: "c1", ToolUseID: "toolu_old", ToolName: "calc"}})
	s.Update("conv-1", "", []Binding{{CallID: "c1", ToolUseID: "toolu_new", ToolName: "calc"}})

	conv := s.GetOrCreate("conv-1")
	b, ok := conv.BindingByCallID("c1")
	require.True(t, ok)
	assert.Equal(t, "toolu_new", b.ToolUseID)
}

func TestStore_Update_EmptyResponseIDDoesNotClear(t *testing.T) {
	s := New(nil)

	s.Update("conv-1", "resp-1", nil)
	s.Update("conv-1", "", nil)

	conv := s.GetOrCreate("conv-1")
	last, ok := conv.LastResponseID()
	require.True(t, ok)
	assert.Equal(t, "resp-1", last)
}

func TestStore_Destroy_RemovesRecord(t *testing.T) {
	s := New(nil)
	s.GetOrCreate("conv-1")
	require.Equal(t, 1, s.Len())

	s.Destroy("conv-1")
	assert.Equal(t, 0, s.Len())
}

func TestConversation_BindingsIsACopy(t *testing.T) {
	s := New(nil)
	s.Update("conv-1", "", []Binding{{CallID: "c1", ToolUseID: "toolu_1", ToolName: "calc"}})

	conv := s.GetOrCreate("conv-1")
	bindings := conv.Bindings()
	require.Len(t, bindings, 1)

	bindings[0].ToolName = "mutated"

	fresh, ok := conv.BindingByCallID("c1")
	require.True(t, ok)
	assert.Equal(t, "calc", fresh.ToolName, "mutating the returned slice must not affect the store")
}
