package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/ursadsp/dspgen/internal/types"
)

// scriptedModel returns one queued outcome per call, in order.
type scriptedModel struct {
	calls     int
	responses []string
	errs      []error
}

func (m *scriptedModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	i := m.calls
	m.calls++
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	text := ""
	if i < len(m.responses) {
		text = m.responses[i]
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
	}, nil
}

func (m *scriptedModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	resp, err := m.GenerateContent(ctx, nil, options...)
	if err != nil {
		return "", err
	}
	return resp.Choices[0].Content, nil
}

func testGenerator(model llms.Model) *Generator {
	return NewWithModel(GeneratorConfig{
		Model:     "testmodel",
		RetryBase: time.Millisecond,
		RateLimit: 1000,
	}, model)
}

func TestInvokeSuccess(t *testing.T) {
	model := &scriptedModel{responses: []string{`{"body": "ok"}`}}
	g := testGenerator(model)

	resp, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	require.NoError(t, err)
	assert.Equal(t, `{"body": "ok"}`, resp.Text)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, 1, model.calls)
}

func TestInvokeRetriesTransient(t *testing.T) {
	model := &scriptedModel{
		errs:      []error{errors.New("503 service unavailable"), errors.New("timeout awaiting response"), nil},
		responses: []string{"", "", "recovered"},
	}
	g := testGenerator(model)

	resp, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, 3, model.calls)
}

func TestInvokeFatalNotRetried(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("400 invalid request")}}
	g := testGenerator(model)

	_, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.False(t, fatal.Systemic)
	assert.Equal(t, 1, model.calls)
}

func TestInvokeAuthFailureIsSystemic(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("401 unauthorized")}}
	g := testGenerator(model)

	_, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.True(t, fatal.Systemic)
	assert.Equal(t, 1, model.calls)
}

func TestInvokeExhaustionEscalates(t *testing.T) {
	cause := errors.New("429 rate limit exceeded")
	model := &scriptedModel{errs: []error{cause, cause, cause, cause, cause}}
	g := testGenerator(model)

	_, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	var fatal *FatalError
	require.True(t, errors.As(err, &fatal))
	assert.False(t, fatal.Systemic)
	assert.ErrorContains(t, err, "retries exhausted")
	assert.ErrorContains(t, err, "rate limit")
	// Initial attempt plus the default three retries
	assert.Equal(t, 4, model.calls)
}

func TestInvokeEmptyResponseRetried(t *testing.T) {
	model := &scriptedModel{responses: []string{"", "filled in"}}
	g := testGenerator(model)

	resp, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	require.NoError(t, err)
	assert.Equal(t, "filled in", resp.Text)
	assert.Equal(t, 2, model.calls)
}

func TestInvokeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &scriptedModel{responses: []string{"never used"}}
	g := testGenerator(model)

	_, err := g.Invoke(ctx, types.Prompt{System: "sys", User: "user"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetRetryLimit(t *testing.T) {
	cause := errors.New("502 bad gateway")
	model := &scriptedModel{errs: []error{cause, cause, cause}}
	g := testGenerator(model)
	g.SetRetryLimit(1)

	_, err := g.Invoke(context.Background(), types.Prompt{System: "sys", User: "user"})
	require.Error(t, err)
	assert.Equal(t, 2, model.calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		fatal     bool
		systemic  bool
	}{
		{name: "rate limited", err: errors.New("429 too many requests"), transient: true},
		{name: "server error", err: errors.New("500 internal server error"), transient: true},
		{name: "connection refused", err: errors.New("dial tcp: connection refused"), transient: true},
		{name: "unknown", err: errors.New("something odd happened"), transient: true},
		{name: "auth", err: errors.New("invalid api key"), fatal: true, systemic: true},
		{name: "content policy", err: errors.New("response blocked by content policy"), fatal: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := classify(tt.err)

			var transient *TransientError
			assert.Equal(t, tt.transient, errors.As(classified, &transient))

			var fatal *FatalError
			assert.Equal(t, tt.fatal, errors.As(classified, &fatal))
			if tt.fatal {
				assert.Equal(t, tt.systemic, fatal.Systemic)
			}
		})
	}

	assert.NoError(t, classify(nil))
	assert.ErrorIs(t, classify(context.DeadlineExceeded), context.DeadlineExceeded)
}
