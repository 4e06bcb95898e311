package ace

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/service/embedding"
	"github.com/aegis-ai/aegis/internal/service/memories"
	"github.com/aegis-ai/aegis/internal/storage"
	"github.com/aegis-ai/aegis/internal/testutil"
)

// testDB backs the integration tests in this file; validation-only tests
// above never touch it.
var testDB *storage.DB

func TestMain(m *testing.M) {
	ctx := context.Background()

	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create test DB: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	testDB.Close()
	tc.Terminate()
	os.Exit(code)
}

// newIntegrationService wires the full service stack over the shared
// test database. The noop provider keeps embeddings deterministic.
func newIntegrationService(t *testing.T) (*Service, *memories.Service, string) {
	t.Helper()
	logger := testutil.TestLogger()
	emb := embedding.NewService(
		embedding.NewNoopProvider(1536), testDB, "test-model", 100, 16, logger, nil)
	memSvc := memories.New(testDB, emb, logger)
	aceSvc := New(testDB, memSvc, emb, logger)

	project := "proj-" + model.NewID()[:12]
	require.NoError(t, testDB.EnsureProject(context.Background(), project, "ace test project"))
	return aceSvc, memSvc, project
}

func addMemory(t *testing.T, memSvc *memories.Service, project string, req model.AddMemoryRequest) model.Memory {
	t.Helper()
	res, err := memSvc.Add(context.Background(), project, req)
	require.NoError(t, err)
	require.True(t, res.Created)
	return res.Memory
}

func TestCompleteRunFailureFeedsBackVotesAndReflection(t *testing.T) {
	ctx := context.Background()
	aceSvc, memSvc, project := newIntegrationService(t)

	used := addMemory(t, memSvc, project, model.AddMemoryRequest{
		Content:   "retry the call without backoff",
		AgentID:   "agent-1",
		Namespace: "squad-7",
	})

	run, err := aceSvc.StartRun(ctx, project, model.StartRunRequest{
		AgentID: "agent-1", Task: "migrate the billing tables",
	})
	require.NoError(t, err)

	// No error pattern reported: the reflection is still created with a
	// generic one.
	completed, err := aceSvc.CompleteRun(ctx, project, run.RunID, model.CompleteRunRequest{
		Outcome:      model.RunFailure,
		MemoriesUsed: []string{used.ID},
	})
	require.NoError(t, err)
	require.NotNil(t, completed.CompletedAt)

	got, err := memSvc.Get(ctx, project, used.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.HarmfulVotes, "a failed run votes its memories harmful")

	votes, err := aceSvc.Votes(ctx, project, used.ID, 10)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "agent-1", votes[0].VoterAgentID)

	events, err := testDB.ListMemoryEvents(ctx, project, used.ID, 10)
	require.NoError(t, err)
	var runEvents int
	for _, e := range events {
		if e.EventType == model.EventRunCompleted {
			runEvents++
			assert.Equal(t, "squad-7", e.Namespace, "events carry the memory's namespace")
		}
	}
	assert.Equal(t, 1, runEvents)

	reflection := findReflection(t, project, run.RunID)
	assert.Contains(t, reflection.Content, `"migrate the billing tables"`)
	assert.Equal(t, "unclassified failure", reflection.Metadata[model.ReflectionKeyErrorPattern])
	assert.Equal(t, model.ScopeGlobal, reflection.Scope)

	// A reported error pattern flows through to the reflection verbatim.
	pattern := "timeout waiting for advisory lock"
	run2, err := aceSvc.StartRun(ctx, project, model.StartRunRequest{
		AgentID: "agent-1", Task: "rebuild the search index",
	})
	require.NoError(t, err)
	_, err = aceSvc.CompleteRun(ctx, project, run2.RunID, model.CompleteRunRequest{
		Outcome: model.RunFailure, ErrorPattern: &pattern,
	})
	require.NoError(t, err)
	reflection = findReflection(t, project, run2.RunID)
	assert.Equal(t, pattern, reflection.Metadata[model.ReflectionKeyErrorPattern])
}

func TestCompleteRunSuccessVotesHelpful(t *testing.T) {
	ctx := context.Background()
	aceSvc, memSvc, project := newIntegrationService(t)

	used := addMemory(t, memSvc, project, model.AddMemoryRequest{
		Content: "check the schema version first",
		AgentID: "agent-1",
	})

	run, err := aceSvc.StartRun(ctx, project, model.StartRunRequest{
		AgentID: "agent-1", Task: "apply migrations",
	})
	require.NoError(t, err)

	_, err = aceSvc.CompleteRun(ctx, project, run.RunID, model.CompleteRunRequest{
		Outcome:      model.RunSuccess,
		MemoriesUsed: []string{used.ID, "stale-reference"},
	})
	require.NoError(t, err, "stale memory references are skipped, not fatal")

	got, err := memSvc.Get(ctx, project, used.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.HelpfulVotes)
	assert.Zero(t, got.HarmfulVotes)

	assert.Empty(t, findReflections(t, project), "successful runs leave no reflection")
}

func TestVoteEventCarriesMemoryNamespace(t *testing.T) {
	ctx := context.Background()
	aceSvc, memSvc, project := newIntegrationService(t)

	m := addMemory(t, memSvc, project, model.AddMemoryRequest{
		Content:   "namespace-scoped note",
		AgentID:   "agent-1",
		Namespace: "team-blue",
	})

	_, err := aceSvc.Vote(ctx, project, m.ID, model.VoteRequest{
		Vote: model.VoteHelpful, VoterAgentID: "agent-2",
	})
	require.NoError(t, err)

	events, err := testDB.ListMemoryEvents(ctx, project, m.ID, 10)
	require.NoError(t, err)
	var voted int
	for _, e := range events {
		if e.EventType == model.EventVotedHelpful {
			voted++
			assert.Equal(t, "team-blue", e.Namespace)
		}
	}
	assert.Equal(t, 1, voted)
}

func TestDeltaRepeatedDeprecateIsNoOp(t *testing.T) {
	ctx := context.Background()
	aceSvc, memSvc, project := newIntegrationService(t)

	m := addMemory(t, memSvc, project, model.AddMemoryRequest{
		Content: "obsolete guidance",
		AgentID: "agent-1",
	})

	reason := "superseded"
	resp, err := aceSvc.Delta(ctx, project, "agent-1", model.DeltaRequest{
		Operations: []model.DeltaOp{
			{Type: model.DeltaDeprecate, MemoryID: m.ID, Reason: &reason},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Applied)

	// A second batch deprecating the same memory applies cleanly instead
	// of rolling back its sibling operations.
	resp, err = aceSvc.Delta(ctx, project, "agent-1", model.DeltaRequest{
		Operations: []model.DeltaOp{
			{Type: model.DeltaDeprecate, MemoryID: m.ID, Reason: &reason},
			{Type: model.DeltaAdd, Content: "replacement guidance", AgentID: "agent-1"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Applied)
	require.Len(t, resp.IDs, 2)
	assert.Equal(t, m.ID, resp.IDs[0])

	// The repeat recorded no second deprecation event.
	events, err := testDB.ListMemoryEvents(ctx, project, m.ID, 10)
	require.NoError(t, err)
	var deprecations int
	for _, e := range events {
		if e.EventType == model.EventDeprecated {
			deprecations++
		}
	}
	assert.Equal(t, 1, deprecations)

	// A genuinely missing target still fails the batch.
	_, err = aceSvc.Delta(ctx, project, "agent-1", model.DeltaRequest{
		Operations: []model.DeltaOp{
			{Type: model.DeltaDeprecate, MemoryID: "missing"},
		},
	})
	require.Error(t, err)
	assert.Equal(t, model.KindNotFound, model.KindOf(err))
}

func findReflection(t *testing.T, project, runID string) model.Memory {
	t.Helper()
	for _, m := range findReflections(t, project) {
		if m.Metadata[model.ReflectionKeySourceTrajectoryID] == runID {
			return m
		}
	}
	t.Fatalf("no reflection sourced from run %s", runID)
	return model.Memory{}
}

func findReflections(t *testing.T, project string) []model.Memory {
	t.Helper()
	rows, err := testDB.Pool().Query(context.Background(),
		`SELECT id, content, scope, metadata FROM memories
		 WHERE project_id = $1 AND memory_type = 'reflection'`,
		project,
	)
	require.NoError(t, err)
	defer rows.Close()

	var out []model.Memory
	for rows.Next() {
		var m model.Memory
		require.NoError(t, rows.Scan(&m.ID, &m.Content, &m.Scope, &m.Metadata))
		out = append(out, m)
	}
	require.NoError(t, rows.Err())
	return out
}
