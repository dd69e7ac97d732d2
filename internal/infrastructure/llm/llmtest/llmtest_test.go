package llmtest

import (
	"context"
	"io"
	"testing"

	"github.com/beagleboard/beaglemind/internal/infrastructure/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamFromResponse(t *testing.T) {
	stream := StreamFromResponse(&llm.Response{Content: "one two three"})

	var got string
	for {
		f, err := stream.Next()
		if err == io.EOF {
			break
		}
		got += f
		if got == "one " {
			assert.Nil(t, stream.Response(), "response is hidden until the sequence is drained")
		}
	}
	assert.Equal(t, "one two three", got)
	assert.Equal(t, "one two three", stream.Response().Content)
}

func TestBackendRepeatsLastResponse(t *testing.T) {
	b := &Backend{Script: []*llm.Response{{Content: "first"}, {Content: "second"}}}

	for _, want := range []string{"first", "second", "second"} {
		resp, err := b.Complete(context.Background(), llm.Request{Model: "m"})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
	assert.Len(t, b.Requests(), 3)
	assert.Equal(t, llm.Groq, b.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Complete(ctx, llm.Request{})
	assert.ErrorIs(t, err, context.Canceled)
}
