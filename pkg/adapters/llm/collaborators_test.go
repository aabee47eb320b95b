package llm_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/espalier/pkg/adapters/llm"
	"github.com/aretw0/espalier/pkg/domain"
	"github.com/aretw0/espalier/pkg/ports"
)

type modelFunc func(ctx context.Context, req ports.ModelRequest) (string, error)

func (f modelFunc) Complete(ctx context.Context, req ports.ModelRequest) (string, error) {
	return f(ctx, req)
}

func (f modelFunc) Model() string { return "fake-model" }

func fixedReply(text string) modelFunc {
	return func(ctx context.Context, req ports.ModelRequest) (string, error) {
		return text, nil
	}
}

func TestClassifierParsesLabels(t *testing.T) {
	var prompt string
	model := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		prompt = req.Prompt
		return "Sure, here you go:\n" + `{"t1": "research", "t2": "short"}`, nil
	})
	c := llm.NewClassifier(model, nil)

	tasks := []domain.Task{
		{ID: "t1", Content: "Compare vector databases"},
		{ID: "t2", Content: "Email the accountant"},
	}
	labels, err := c.Classify(context.Background(), tasks)
	require.NoError(t, err)

	assert.Equal(t, domain.ClassResearch, labels["t1"])
	assert.Equal(t, domain.ClassShort, labels["t2"])
	assert.Contains(t, prompt, "Compare vector databases")
	assert.Contains(t, prompt, "(ID: t2)")
}

func TestClassifierKeepsUnknownLabels(t *testing.T) {
	c := llm.NewClassifier(fixedReply(`{"t1": "quantum"}`), nil)

	labels, err := c.Classify(context.Background(), []domain.Task{{ID: "t1", Content: "x"}})
	require.NoError(t, err)
	assert.Equal(t, domain.ClassUnknown, labels["t1"])
}

func TestClassifierIgnoresUnknownTaskIDs(t *testing.T) {
	c := llm.NewClassifier(fixedReply(`{"t9": "research"}`), nil)

	labels, err := c.Classify(context.Background(), []domain.Task{{ID: "t1", Content: "x"}})
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestClassifierSkipsModelForEmptyBatch(t *testing.T) {
	model := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		t.Fatal("model should not be called for an empty batch")
		return "", nil
	})
	c := llm.NewClassifier(model, nil)

	labels, err := c.Classify(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, labels)
}

func TestClassifierSurfacesFailures(t *testing.T) {
	t.Run("Call Error", func(t *testing.T) {
		model := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
			return "", errors.New("offline")
		})
		c := llm.NewClassifier(model, nil)
		_, err := c.Classify(context.Background(), []domain.Task{{ID: "t1"}})
		assert.Error(t, err)
	})
	t.Run("No JSON", func(t *testing.T) {
		c := llm.NewClassifier(fixedReply("I would rather not."), nil)
		_, err := c.Classify(context.Background(), []domain.Task{{ID: "t1"}})
		assert.ErrorIs(t, err, domain.ErrDecisionParse)
	})
}

func TestProcessorPromptCarriesTheTask(t *testing.T) {
	var got ports.ModelRequest
	model := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		got = req
		return "  a careful plan  ", nil
	})
	p, err := llm.NewProcessor(domain.AgentResearch, model)
	require.NoError(t, err)

	out, err := p.Process(context.Background(), ports.ProcessRequest{
		Task:           domain.Task{ID: "t1", Content: "Compare vector databases"},
		Classification: domain.ClassResearch,
	})
	require.NoError(t, err)
	assert.Equal(t, "a careful plan", out, "output is trimmed")

	assert.Equal(t, string(domain.AgentResearch), got.Node)
	assert.Contains(t, got.Purpose, "t1")
	assert.Contains(t, got.Prompt, "Compare vector databases")
	assert.NotContains(t, got.Prompt, "PREVIOUS OUTPUT", "no prior context yet")
}

func TestProcessorQuotesPreviousOutput(t *testing.T) {
	var prompt string
	model := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		prompt = req.Prompt
		return "refined", nil
	})
	p, err := llm.NewProcessor(domain.AgentLearning, model)
	require.NoError(t, err)

	_, err = p.Process(context.Background(), ports.ProcessRequest{
		Task:           domain.Task{ID: "t3", Content: "Study WAL internals"},
		Classification: domain.ClassLearning,
		Context:        "earlier curriculum draft",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt, "PREVIOUS OUTPUT FOR THIS TASK:\nearlier curriculum draft")
}

func TestProcessorRejectsEmptyResponses(t *testing.T) {
	p, err := llm.NewProcessor(domain.AgentNextAction, fixedReply("   \n  "))
	require.NoError(t, err)

	_, err = p.Process(context.Background(), ports.ProcessRequest{
		Task: domain.Task{ID: "t2", Content: "Email the accountant"},
	})
	assert.Error(t, err)
}

func TestNewProcessorRejectsNonProcessorKinds(t *testing.T) {
	for _, kind := range []domain.AgentKind{domain.AgentFetcher, domain.AgentTaskLoop, domain.AgentUnknown} {
		_, err := llm.NewProcessor(kind, fixedReply("x"))
		assert.Error(t, err, "kind %s", kind)
	}
}

func TestNewProcessorsCoversAllKinds(t *testing.T) {
	procs := llm.NewProcessors(fixedReply("x"))
	require.Len(t, procs, len(domain.ProcessorKinds()))
	for i, kind := range domain.ProcessorKinds() {
		assert.Equal(t, kind, procs[i].Kind())
	}
}

func TestTrackedDelegates(t *testing.T) {
	inner := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		return "answer", nil
	})
	tracked := llm.NewTracked(inner, nil, nil)

	assert.Equal(t, "fake-model", tracked.Model())
	text, err := tracked.Complete(context.Background(), ports.ModelRequest{Node: "planner", Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "answer", text)
}

func TestTrackedPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := modelFunc(func(ctx context.Context, req ports.ModelRequest) (string, error) {
		return "", boom
	})
	tracked := llm.NewTracked(inner, nil, nil)

	_, err := tracked.Complete(context.Background(), ports.ModelRequest{Node: "planner", Prompt: "hi"})
	assert.ErrorIs(t, err, boom)
}
