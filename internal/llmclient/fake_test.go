package llmclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientMatchesBySubstring(t *testing.T) {
	f := &FakeClient{Responses: []FakeResponse{
		{WhenContains: "chunk-1", Text: "summary one", InputTokens: 10, OutputTokens: 5},
		{WhenContains: "chunk-2", Text: "summary two", InputTokens: 12, OutputTokens: 6},
	}}

	resp, err := f.Complete(context.Background(), Request{User: "please handle chunk-2 now"})
	require.NoError(t, err)
	assert.Equal(t, "summary two", resp.Text)
	assert.Len(t, f.Calls, 1)
}

func TestFakeClientNoMatchIsError(t *testing.T) {
	f := &FakeClient{Responses: []FakeResponse{{WhenContains: "chunk-1", Text: "x"}}}
	_, err := f.Complete(context.Background(), Request{User: "unrelated"})
	assert.Error(t, err)
}
