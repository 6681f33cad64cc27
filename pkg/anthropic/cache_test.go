package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildCachedSystemBlocks(t *testing.T) {
	text := "You are an applied econometrician. Here is how the estimates were produced:\n\n# Estimator: extended two-way fixed effects\n..."

	blocks := BuildCachedSystemBlocks(text)

	require.Len(t, blocks, 1)
	assert.Equal(t, text, blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestBuildCachedSystemBlocks_EmptyText(t *testing.T) {
	blocks := BuildCachedSystemBlocks("")

	require.Len(t, blocks, 1)
	assert.Equal(t, "", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestCachedSystemBlocks_ReusedAcrossCalls(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	systemBlocks := BuildCachedSystemBlocks("Methodology primer (~5K tokens)...")

	// First call: cache creation
	req1 := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		System:    systemBlocks,
		Messages:  []Message{{Role: "user", Content: "Explain run A."}},
	}
	mc.On("CreateMessage", ctx, req1).Return(&MessageResponse{
		ID:         "msg_1",
		Content:    []ContentBlock{{Type: "text", Text: "Narrative A"}},
		StopReason: "end_turn",
		Usage: TokenUsage{
			InputTokens:              100,
			CacheCreationInputTokens: 5000,
			CacheReadInputTokens:     0,
		},
	}, nil)

	// Second call: cache hit
	req2 := MessageRequest{
		Model:     "claude-sonnet-4-5-20250929",
		MaxTokens: 1024,
		System:    systemBlocks,
		Messages:  []Message{{Role: "user", Content: "Explain run B."}},
	}
	mc.On("CreateMessage", ctx, req2).Return(&MessageResponse{
		ID:         "msg_2",
		Content:    []ContentBlock{{Type: "text", Text: "Narrative B"}},
		StopReason: "end_turn",
		Usage: TokenUsage{
			InputTokens:              100,
			CacheCreationInputTokens: 0,
			CacheReadInputTokens:     5000,
		},
	}, nil)

	resp1, err := mc.CreateMessage(ctx, req1)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), resp1.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(0), resp1.Usage.CacheReadInputTokens)

	resp2, err := mc.CreateMessage(ctx, req2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), resp2.Usage.CacheCreationInputTokens)
	assert.Equal(t, int64(5000), resp2.Usage.CacheReadInputTokens)

	mc.AssertExpectations(t)
}
