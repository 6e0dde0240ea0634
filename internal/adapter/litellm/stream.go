package litellm

import (
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nexus-tt/nexus/internal/port/inference"
)

// stream adapts go-openai's stream to inference.Stream. A completion counts
// as finished only once a chunk carries a finish reason; a body that ends
// before that is an incomplete response.
type stream struct {
	s        *openai.ChatCompletionStream
	client   *Client
	finished bool
	recorded bool
}

func (st *stream) Recv() (string, error) {
	for {
		resp, err := st.s.Recv()
		if errors.Is(err, io.EOF) {
			if !st.finished {
				st.done(inference.ErrIncompleteStream)
				return "", inference.ErrIncompleteStream
			}
			st.done(nil)
			return "", io.EOF
		}
		if err != nil {
			st.done(err)
			return "", fmt.Errorf("%w: %w", inference.ErrIncompleteStream, err)
		}

		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" {
			st.finished = true
		}
		if choice.Delta.Content != "" {
			return choice.Delta.Content, nil
		}
	}
}

func (st *stream) Close() error {
	return st.s.Close()
}

func (st *stream) done(err error) {
	if st.recorded {
		return
	}
	st.recorded = true
	st.client.record(err)
}
