package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResearchServer(t *testing.T) {
	s := NewResearchServer(ResearchServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.notifier)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s := NewResearchServer(ResearchServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 4)

	expectedTools := []string{
		"start_research",
		"resume_research",
		"get_research_state",
		"list_research_threads",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"start", "start_research", "Start a research thread for a query"},
		{"resume", "resume_research", "Answer a thread's pending plan review"},
		{"state", "get_research_state", "Get a research thread's status and state snapshot"},
		{"list", "list_research_threads", "List known research threads"},
	}

	s := NewResearchServer(ResearchServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
