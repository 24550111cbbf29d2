package pipeline_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bdobrica/Hibi/internal/hibi/journal"
	"github.com/bdobrica/Hibi/internal/hibi/llm"
	"github.com/bdobrica/Hibi/internal/hibi/pipeline"
	"github.com/bdobrica/Hibi/internal/hibi/store"
)

type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (p *scriptedProvider) Complete(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return &llm.CompletionResponse{
		Text:  "drafts",
		Usage: llm.TokenUsage{PromptTokens: 120, CompletionTokens: 80},
	}, nil
}

func setup(t *testing.T, provider llm.Provider, now time.Time) (*store.Store, *pipeline.Generator) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "hibi.db"), store.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	gen := pipeline.New(pipeline.Deps{
		Selector: journal.NewSelector(s, time.UTC),
		Provider: provider,
		Usage:    journal.NewAccountant(s),
		Audit:    s,
		Now:      func() time.Time { return now },
	})
	return s, gen
}

func TestGenerate_EndToEnd(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC)
	provider := &scriptedProvider{}
	s, gen := setup(t, provider, now)

	_, _, err := s.EnsureUser(ctx, journal.Profile{ID: "u1", FirstName: "Ada"})
	require.NoError(t, err)
	for _, text := range []string{"gym at 7", "shipped feature X", "dinner with team"} {
		_, err := s.AppendEvent(ctx, "u1", text)
		require.NoError(t, err)
	}

	res := gen.Run(ctx, "u1")
	require.Equal(t, pipeline.Done, res.Outcome)
	assert.Equal(t, "drafts", res.Reply)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 120, u.PromptTokens.Int64)
	assert.EqualValues(t, 80, u.CompletionTokens.Int64)

	entries, err := s.GetAuditLog(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].EventCount)
}

func TestGenerate_NoEventsNoCall(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{}
	s, gen := setup(t, provider, time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC))

	_, _, err := s.EnsureUser(ctx, journal.Profile{ID: "u1"})
	require.NoError(t, err)

	res := gen.Run(ctx, "u1")
	assert.Equal(t, pipeline.ReplyNoEvents, res.Reply)
	assert.Zero(t, provider.calls)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, u.PromptTokens.Valid)
}

func TestGenerate_FailureKeepsCounters(t *testing.T) {
	ctx := context.Background()
	provider := &scriptedProvider{}
	s, gen := setup(t, provider, time.Date(2024, 5, 10, 18, 0, 0, 0, time.UTC))

	_, _, err := s.EnsureUser(ctx, journal.Profile{ID: "u1"})
	require.NoError(t, err)
	_, err = s.AppendEvent(ctx, "u1", "a")
	require.NoError(t, err)

	require.Equal(t, pipeline.Done, gen.Run(ctx, "u1").Outcome)

	provider.err = &llm.CompletionError{StatusCode: 503, Message: "down"}
	res := gen.Run(ctx, "u1")
	assert.Equal(t, pipeline.CompletionFailed, res.Outcome)

	u, err := s.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.EqualValues(t, 120, u.PromptTokens.Int64, "failed run must not change counters")
	assert.EqualValues(t, 80, u.CompletionTokens.Int64)
}
