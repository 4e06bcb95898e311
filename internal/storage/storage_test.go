package storage_test

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-ai/aegis/internal/model"
	"github.com/aegis-ai/aegis/internal/storage"
	"github.com/aegis-ai/aegis/internal/testutil"
)

// testDB holds a shared test database connection for all tests in this package.
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

// vec builds a 1536-dim unit vector at the given planar angle so cosine
// distances between test vectors are predictable.
func vec(angle float64) pgvector.Vector {
	v := make([]float32, 1536)
	v[0] = float32(math.Cos(angle))
	v[1] = float32(math.Sin(angle))
	return pgvector.NewVector(v)
}

func newProject(t *testing.T) string {
	t.Helper()
	id := "proj-" + model.NewID()[:12]
	require.NoError(t, testDB.EnsureProject(context.Background(), id, "test project"))
	return id
}

func insertMemory(t *testing.T, m *model.Memory) {
	t.Helper()
	err := testDB.WithTx(context.Background(), func(tx pgx.Tx) error {
		return testDB.InsertMemoryTx(context.Background(), tx, m)
	})
	require.NoError(t, err)
}

func mkMemory(project, agent, content string, angle float64) *model.Memory {
	e := vec(angle)
	return &model.Memory{
		ProjectID:  project,
		AgentID:    agent,
		Content:    content,
		Embedding:  &e,
		Scope:      model.ScopeAgentPrivate,
		MemoryType: model.TypeStandard,
	}
}

func TestInsertAndGetMemory(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "Postgres needs pgvector for ANN search", 0)
	m.Metadata = map[string]any{"source": "docs"}
	insertMemory(t, m)

	require.NotEmpty(t, m.ID)
	assert.Equal(t, model.DefaultNamespace, m.Namespace)
	assert.Equal(t, model.HashContent(m.Content), m.ContentHash)

	got, err := testDB.GetMemory(ctx, project, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, "docs", got.Metadata["source"])
	assert.False(t, got.IsDeprecated)

	_, err = testDB.GetMemory(ctx, project, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = testDB.GetMemory(ctx, "other-project", m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound, "tenancy must hold on direct lookups")
}

func TestDedupRejectsLiveDuplicate(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	first := mkMemory(project, "agent-1", "  Duplicate Content  ", 0)
	insertMemory(t, first)

	// Same normalized content: hash matches despite case and whitespace.
	dup := mkMemory(project, "agent-1", "duplicate content", 0.1)
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		if err := testDB.InsertMemoryTx(ctx, tx, dup); err != nil {
			return err
		}
		return nil
	})
	require.ErrorIs(t, err, storage.ErrDuplicate)

	// The live row is retrievable by its content hash for reconciliation.
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		got, err := testDB.GetLiveByContentHashTx(ctx, tx, project, model.DefaultNamespace, "agent-1", first.ContentHash)
		if err != nil {
			return err
		}
		assert.Equal(t, first.ID, got.ID)
		return nil
	})
	require.NoError(t, err)

	// Deprecating the live row frees the slot.
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.DeprecateMemoryTx(ctx, tx, project, first.ID, nil, nil)
		return err
	})
	require.NoError(t, err)

	again := mkMemory(project, "agent-1", "duplicate content", 0.1)
	insertMemory(t, again)

	// Other agents and namespaces never collide.
	other := mkMemory(project, "agent-2", "duplicate content", 0.2)
	insertMemory(t, other)
}

func TestSearchScopeACL(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	mine := mkMemory(project, "reader", "my own private note", 0)
	insertMemory(t, mine)

	foreign := mkMemory(project, "writer", "someone else's private note", 0.1)
	insertMemory(t, foreign)

	global := mkMemory(project, "writer", "globally visible fact", 0.2)
	global.Scope = model.ScopeGlobal
	insertMemory(t, global)

	shared := mkMemory(project, "writer", "shared with the reader", 0.3)
	shared.Scope = model.ScopeAgentShared
	shared.SharedWith = []string{"reader"}
	insertMemory(t, shared)

	sharedElsewhere := mkMemory(project, "writer", "shared with a third agent", 0.4)
	sharedElsewhere.Scope = model.ScopeAgentShared
	sharedElsewhere.SharedWith = []string{"third"}
	insertMemory(t, sharedElsewhere)

	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID: project,
		AgentID:   "reader",
		Embedding: vec(0),
		TopK:      10,
	})
	require.NoError(t, err)

	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.Memory.ID
	}
	assert.ElementsMatch(t, []string{mine.ID, global.ID, shared.ID}, ids)

	// Results come back nearest first.
	require.Len(t, results, 3)
	assert.Equal(t, mine.ID, results[0].Memory.ID)
	assert.LessOrEqual(t, results[0].Distance, results[1].Distance)
}

func TestSearchFilters(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	strategy := mkMemory(project, "agent-1", "prefer retries with backoff", 0)
	strategy.MemoryType = model.TypeStrategy
	strategy.Metadata = map[string]any{"domain": "http"}
	insertMemory(t, strategy)

	standard := mkMemory(project, "agent-1", "the deploy runs at noon", 0.05)
	insertMemory(t, standard)

	far := mkMemory(project, "agent-1", "unrelated distant content", math.Pi/2)
	insertMemory(t, far)

	// Type filter.
	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID:   project,
		AgentID:     "agent-1",
		Embedding:   vec(0),
		TopK:        10,
		MemoryTypes: []model.MemoryType{model.TypeStrategy},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, strategy.ID, results[0].Memory.ID)

	// Metadata containment filter.
	results, err = testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID:      project,
		AgentID:        "agent-1",
		Embedding:      vec(0),
		TopK:           10,
		MetadataFilter: map[string]any{"domain": "http"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, strategy.ID, results[0].Memory.ID)

	// Distance cutoff drops the orthogonal vector (cosine distance 1).
	maxDist := 0.5
	results, err = testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID:   project,
		AgentID:     "agent-1",
		Embedding:   vec(0),
		TopK:        10,
		MaxDistance: &maxDist,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, far.ID, r.Memory.ID)
	}
}

func TestCrossAgentTargets(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	a := mkMemory(project, "agent-a", "alpha global insight", 0)
	a.Scope = model.ScopeGlobal
	insertMemory(t, a)

	b := mkMemory(project, "agent-b", "beta global insight", 0.1)
	b.Scope = model.ScopeGlobal
	insertMemory(t, b)

	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID:      project,
		AgentID:        "reader",
		Embedding:      vec(0),
		TopK:           10,
		TargetAgentIDs: []string{"agent-a"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, a.ID, results[0].Memory.ID)
}

func TestVotesAndHistory(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "vote target", 0)
	insertMemory(t, m)

	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		helpful, harmful, namespace, err := testDB.ApplyVoteTx(ctx, tx, project, m.ID, model.VoteHelpful)
		if err != nil {
			return err
		}
		assert.Equal(t, 1, helpful)
		assert.Equal(t, 0, harmful)
		assert.Equal(t, m.Namespace, namespace, "tallies come back with the row's namespace")

		return testDB.InsertVoteTx(ctx, tx, &model.VoteHistory{
			MemoryID:     m.ID,
			ProjectID:    project,
			VoterAgentID: "voter",
			Vote:         model.VoteHelpful,
		})
	})
	require.NoError(t, err)

	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, harmful, _, err := testDB.ApplyVoteTx(ctx, tx, project, m.ID, model.VoteHarmful)
		assert.Equal(t, 1, harmful)
		return err
	})
	require.NoError(t, err)

	votes, err := testDB.ListVotes(ctx, project, m.ID, 10)
	require.NoError(t, err)
	require.Len(t, votes, 1)
	assert.Equal(t, "voter", votes[0].VoterAgentID)

	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, _, _, err := testDB.ApplyVoteTx(ctx, tx, project, "missing", model.VoteHelpful)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeprecationHidesFromSearch(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "soon to be deprecated", 0)
	insertMemory(t, m)

	successor := mkMemory(project, "agent-1", "the replacement", 0.1)
	insertMemory(t, successor)

	reason := "superseded by newer guidance"
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		namespace, err := testDB.DeprecateMemoryTx(ctx, tx, project, m.ID, &successor.ID, &reason)
		if err == nil {
			assert.Equal(t, m.Namespace, namespace)
		}
		return err
	})
	require.NoError(t, err)

	// A repeated deprecation is distinguishable from a missing row so
	// callers can treat it as a no-op.
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.DeprecateMemoryTx(ctx, tx, project, m.ID, nil, nil)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrAlreadyDeprecated)

	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.DeprecateMemoryTx(ctx, tx, project, "missing", nil, nil)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := testDB.GetMemory(ctx, project, m.ID)
	require.NoError(t, err, "deprecated rows stay readable by ID")
	assert.True(t, got.IsDeprecated)
	require.NotNil(t, got.SupersededBy)
	assert.Equal(t, successor.ID, *got.SupersededBy)

	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID: project, AgentID: "agent-1", Embedding: vec(0), TopK: 10,
	})
	require.NoError(t, err)
	for _, r := range results {
		assert.NotEqual(t, m.ID, r.Memory.ID)
	}

	// include_deprecated surfaces it again.
	results, err = testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID: project, AgentID: "agent-1", Embedding: vec(0), TopK: 10,
		IncludeDeprecated: true,
	})
	require.NoError(t, err)
	found := false
	for _, r := range results {
		if r.Memory.ID == m.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestExpiryAndSweep(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	ttl := 3600
	m := mkMemory(project, "agent-1", "expiring memory", 0)
	m.TTLSeconds = &ttl
	insertMemory(t, m)
	require.NotNil(t, m.ExpiresAt)

	// Backdate expiry so the row is past its TTL.
	_, err := testDB.Pool().Exec(ctx,
		`UPDATE memories SET expires_at = now() - interval '2 hours' WHERE id = $1`, m.ID)
	require.NoError(t, err)

	// Expired rows are hidden from search but readable by ID.
	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID: project, AgentID: "agent-1", Embedding: vec(0), TopK: 10,
	})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = testDB.GetMemory(ctx, project, m.ID)
	require.NoError(t, err)

	// Within grace nothing is removed; past grace the sweeper deletes.
	n, err := testDB.DeleteExpired(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = testDB.DeleteExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = testDB.GetMemory(ctx, project, m.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestMergeMetadata(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "metadata target", 0)
	m.Metadata = map[string]any{"keep": "old", "override": "old"}
	insertMemory(t, m)

	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.MergeMemoryMetadataTx(ctx, tx, project, m.ID,
			map[string]any{"override": "new", "added": "yes"})
		return err
	})
	require.NoError(t, err)

	got, err := testDB.GetMemory(ctx, project, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "old", got.Metadata["keep"])
	assert.Equal(t, "new", got.Metadata["override"])
	assert.Equal(t, "yes", got.Metadata["added"])
}

func TestSessionsCRUD(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	sp := &model.SessionProgress{
		SessionID: "sess-1",
		ProjectID: project,
		AgentID:   "agent-1",
		Summary:   "initial work",
		Next:      []string{"write tests"},
	}
	require.NoError(t, testDB.CreateSession(ctx, sp))
	assert.Equal(t, model.SessionActive, sp.Status)

	err := testDB.CreateSession(ctx, &model.SessionProgress{
		SessionID: "sess-1", ProjectID: project, AgentID: "agent-1",
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := testDB.GetSession(ctx, project, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"write tests"}, got.Next)
	assert.Empty(t, got.Completed)

	got.Completed = []string{"write tests"}
	got.Next = nil
	got.Blocked = []model.BlockedItem{{Item: "deploy", Reason: "waiting on review"}}
	got.Status = model.SessionPaused
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		return testDB.SaveSessionTx(ctx, tx, got)
	})
	require.NoError(t, err)

	got, err = testDB.GetSession(ctx, project, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, model.SessionPaused, got.Status)
	require.Len(t, got.Blocked, 1)
	assert.Equal(t, "deploy", got.Blocked[0].Item)

	sessions, err := testDB.ListSessions(ctx, project, "agent-1", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	sessions, err = testDB.ListSessions(ctx, project, "other-agent", 10)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestFeaturesCRUD(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	f := &model.FeatureTracker{
		FeatureID:   "feat-1",
		ProjectID:   project,
		Description: "rate limited export",
		TestSteps:   []string{"export 1000 rows", "verify order"},
		Status:      model.FeatureNotStarted,
	}
	require.NoError(t, testDB.CreateFeature(ctx, f))

	err := testDB.CreateFeature(ctx, &model.FeatureTracker{
		FeatureID: "feat-1", ProjectID: project, Description: "dup",
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	got, err := testDB.GetFeature(ctx, project, "feat-1")
	require.NoError(t, err)
	assert.Len(t, got.TestSteps, 2)

	verifier := "qa-agent"
	got.Status = model.FeatureComplete
	got.Passes = true
	got.VerifiedBy = &verifier
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		return testDB.SaveFeatureTx(ctx, tx, got)
	})
	require.NoError(t, err)

	features, err := testDB.ListFeatures(ctx, project, model.FeatureComplete, 10)
	require.NoError(t, err)
	require.Len(t, features, 1)
	assert.True(t, features[0].Passes)
}

func TestRunLifecycle(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	r := &model.Run{ProjectID: project, AgentID: "agent-1", Task: "refactor the parser"}
	require.NoError(t, testDB.InsertRun(ctx, r))
	require.NotEmpty(t, r.RunID)

	got, err := testDB.GetRun(ctx, project, r.RunID)
	require.NoError(t, err)
	assert.Nil(t, got.Outcome)

	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		completed, err := testDB.CompleteRunTx(ctx, tx, project, r.RunID,
			model.RunSuccess, []string{"mem-1"}, nil)
		if err != nil {
			return err
		}
		assert.NotNil(t, completed.CompletedAt)
		return nil
	})
	require.NoError(t, err)

	// Completion is one-shot.
	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.CompleteRunTx(ctx, tx, project, r.RunID, model.RunFailure, nil, nil)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrDuplicate)

	err = testDB.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := testDB.CompleteRunTx(ctx, tx, project, "missing", model.RunSuccess, nil, nil)
		return err
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	counts, err := testDB.RunOutcomeCounts(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.RunSuccess])

	runs, err := testDB.ListCompletedRuns(ctx, project, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"mem-1"}, runs[0].MemoriesUsed)
}

func TestPlaybookRanking(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	// Equally similar, but one has a strong positive vote record.
	proven := mkMemory(project, "agent-1", "proven strategy", 0.1)
	proven.MemoryType = model.TypeStrategy
	insertMemory(t, proven)

	unproven := mkMemory(project, "agent-1", "unproven strategy", 0.1)
	unproven.MemoryType = model.TypeStrategy
	insertMemory(t, unproven)

	standard := mkMemory(project, "agent-1", "plain fact", 0)
	insertMemory(t, standard)

	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		for range 5 {
			if _, _, _, err := testDB.ApplyVoteTx(ctx, tx, project, proven.ID, model.VoteHelpful); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	entries, err := testDB.SearchPlaybook(ctx, storage.PlaybookQuery{
		ProjectID: project,
		AgentID:   "agent-1",
		Embedding: vec(0),
		TopK:      10,
	})
	require.NoError(t, err)

	// Default playbook types exclude the standard memory.
	require.Len(t, entries, 2)
	assert.Equal(t, proven.ID, entries[0].Memory.ID, "votes must break the similarity tie")
	assert.Greater(t, entries[0].Effectiveness, entries[1].Effectiveness)
	assert.Greater(t, entries[0].Rank, entries[1].Rank)

	// Effectiveness floor.
	minEff := 0.5
	entries, err = testDB.SearchPlaybook(ctx, storage.PlaybookQuery{
		ProjectID:        project,
		AgentID:          "agent-1",
		Embedding:        vec(0),
		TopK:             10,
		MinEffectiveness: &minEff,
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, proven.ID, entries[0].Memory.ID)
}

func TestSessionAndEntityMemories(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)
	sessionID := "sess-typed"
	entityID := "svc-billing"

	for i, content := range []string{"step one", "step two", "step three"} {
		m := mkMemory(project, "agent-1", content, float64(i)/10)
		m.MemoryType = model.TypeEpisodic
		seq := i
		m.SessionID = &sessionID
		m.SequenceNumber = &seq
		insertMemory(t, m)
	}

	sem := mkMemory(project, "agent-1", "billing owns invoices", 0.5)
	sem.MemoryType = model.TypeSemantic
	sem.EntityID = &entityID
	insertMemory(t, sem)

	ms, err := testDB.ListSessionMemories(ctx, project, model.DefaultNamespace, sessionID)
	require.NoError(t, err)
	require.Len(t, ms, 3)
	assert.Equal(t, "step one", ms[0].Content)
	assert.Equal(t, "step three", ms[2].Content)

	ms, err = testDB.ListEntityMemories(ctx, project, model.DefaultNamespace, entityID, 10)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, sem.ID, ms[0].ID)
}

func TestExportKeysetPagination(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	// Inserted newest-first so creation order differs from insert order,
	// and two rows share a timestamp so the ID tie-break matters.
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	stamps := []time.Time{
		base.Add(4 * time.Minute),
		base.Add(3 * time.Minute),
		base.Add(2 * time.Minute),
		base.Add(time.Minute),
		base.Add(time.Minute),
	}
	for i, ts := range stamps {
		m := mkMemory(project, "agent-1", fmt.Sprintf("export row %d", i), float64(i)/10)
		m.CreatedAt = ts
		insertMemory(t, m)
	}

	var all []model.Memory
	var cursor *storage.ExportCursor
	for {
		page, err := testDB.ExportMemories(ctx, project, "", "", false, cursor, 2)
		require.NoError(t, err)
		all = append(all, page...)
		if len(page) < 2 {
			break
		}
		last := page[len(page)-1]
		cursor = &storage.ExportCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	require.Len(t, all, 5)

	seen := map[string]bool{}
	for i, m := range all {
		assert.False(t, seen[m.ID], "keyset pages must not overlap")
		seen[m.ID] = true
		assert.Nil(t, m.Embedding, "embeddings excluded unless requested")
		if i > 0 {
			prev := all[i-1]
			ordered := prev.CreatedAt.Before(m.CreatedAt) ||
				(prev.CreatedAt.Equal(m.CreatedAt) && prev.ID < m.ID)
			assert.True(t, ordered, "export pages in creation order with ID tie-break")
		}
	}

	page, err := testDB.ExportMemories(ctx, project, "", "", true, nil, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.NotNil(t, page[0].Embedding)
}

func TestCurationCandidates(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	condemned := mkMemory(project, "agent-1", "repeatedly harmful advice", 0)
	insertMemory(t, condemned)

	mixed := mkMemory(project, "agent-1", "contested advice", 0.1)
	insertMemory(t, mixed)

	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		for range 6 {
			if _, _, _, err := testDB.ApplyVoteTx(ctx, tx, project, condemned.ID, model.VoteHarmful); err != nil {
				return err
			}
		}
		for range 3 {
			if _, _, _, err := testDB.ApplyVoteTx(ctx, tx, project, mixed.ID, model.VoteHarmful); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	candidates, err := testDB.CurationCandidates(ctx, project, 5, -0.5)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "only the high-volume condemned memory qualifies")
	assert.Equal(t, condemned.ID, candidates[0].ID)
}

func TestMemoryEvents(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "event target", 0)
	insertMemory(t, m)

	agent := "agent-1"
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		return testDB.InsertMemoryEventTx(ctx, tx, &model.MemoryEvent{
			MemoryID:  m.ID,
			ProjectID: project,
			Namespace: model.DefaultNamespace,
			AgentID:   &agent,
			EventType: model.EventCreated,
			Payload:   map[string]any{"scope": "agent-private"},
		})
	})
	require.NoError(t, err)

	err = testDB.InsertMemoryEvents(ctx, []model.MemoryEvent{
		{MemoryID: m.ID, ProjectID: project, Namespace: model.DefaultNamespace, AgentID: &agent, EventType: model.EventQueried},
		{MemoryID: m.ID, ProjectID: project, Namespace: model.DefaultNamespace, AgentID: &agent, EventType: model.EventQueried},
	})
	require.NoError(t, err)

	events, err := testDB.ListMemoryEvents(ctx, project, m.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)

	counts, err := testDB.MemoryEventCounts(ctx, project, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.EventCreated])
	assert.Equal(t, 2, counts[model.EventQueried])
}

func TestInteractionEvents(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	root := &model.InteractionEvent{
		ProjectID: project, SessionID: "sess-i", AgentID: "agent-1",
		Kind: "observation", Content: "user asked for a report",
	}
	require.NoError(t, testDB.InsertInteractionEvent(ctx, root))

	child := &model.InteractionEvent{
		ProjectID: project, SessionID: "sess-i", AgentID: "agent-1",
		ParentEventID: &root.EventID,
		Kind:          "action", Content: "queried the database",
	}
	require.NoError(t, testDB.InsertInteractionEvent(ctx, child))

	grandchild := &model.InteractionEvent{
		ProjectID: project, SessionID: "sess-i", AgentID: "agent-1",
		ParentEventID: &child.EventID,
		Kind:          "result", Content: "report generated",
	}
	require.NoError(t, testDB.InsertInteractionEvent(ctx, grandchild))

	chain, err := testDB.InteractionChain(ctx, project, grandchild.EventID)
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, root.EventID, chain[0].EventID, "chain is root-first")
	assert.Equal(t, grandchild.EventID, chain[2].EventID)

	_, err = testDB.InteractionChain(ctx, project, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	events, err := testDB.ListSessionInteractions(ctx, project, "sess-i", false, 10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, root.EventID, events[0].EventID)

	byAgent, err := testDB.ListAgentInteractions(ctx, project, "agent-1", 10)
	require.NoError(t, err)
	assert.Len(t, byAgent, 3)
}

func TestEmbeddingCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	const embedModel = "test-model"

	h1 := model.HashContent("first text")
	h2 := model.HashContent("second text")

	err := testDB.PutCachedEmbeddings(ctx, embedModel, map[string]pgvector.Vector{
		h1: vec(0),
		h2: vec(0.5),
	})
	require.NoError(t, err)

	got, err := testDB.GetCachedEmbeddings(ctx, embedModel, []string{h1, h2, "missing"})
	require.NoError(t, err)
	require.Len(t, got, 2)

	// A different model never shares entries.
	got, err = testDB.GetCachedEmbeddings(ctx, "other-model", []string{h1})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, testDB.TouchCachedEmbeddings(ctx, embedModel, []string{h1}))

	// Backdate one entry and prune.
	_, err = testDB.Pool().Exec(ctx,
		`UPDATE embedding_cache SET last_used_at = now() - interval '60 days' WHERE text_hash = $1`, h2)
	require.NoError(t, err)

	n, err := testDB.PruneEmbeddingCache(ctx, 30*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestAPIKeyLifecycle(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	key := &model.APIKey{
		ProjectID: project,
		Prefix:    "pfx" + model.NewID()[:5],
		KeyHash:   "salt$hash",
		Name:      "ci key",
	}
	require.NoError(t, testDB.CreateAPIKey(ctx, key))
	require.NotEqual(t, uuid.Nil, key.ID)
	assert.True(t, key.IsActive)

	got, err := testDB.GetAPIKeyByPrefix(ctx, key.Prefix)
	require.NoError(t, err)
	assert.Equal(t, project, got.ProjectID)

	require.NoError(t, testDB.TouchAPIKeyLastUsed(ctx, key.ID))

	keys, err := testDB.ListAPIKeys(ctx, project)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, testDB.RevokeAPIKey(ctx, project, key.ID))
	_, err = testDB.GetAPIKeyByPrefix(ctx, key.Prefix)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Expired keys are invisible to the lookup.
	past := time.Now().Add(-time.Hour)
	expired := &model.APIKey{
		ProjectID: project,
		Prefix:    "exp" + model.NewID()[:5],
		KeyHash:   "salt$hash",
		Name:      "expired key",
		ExpiresAt: &past,
	}
	require.NoError(t, testDB.CreateAPIKey(ctx, expired))
	_, err = testDB.GetAPIKeyByPrefix(ctx, expired.Prefix)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeactivatedProjectHidesKeys(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	key := &model.APIKey{
		ProjectID: project,
		Prefix:    "dis" + model.NewID()[:5],
		KeyHash:   "salt$hash",
		Name:      "suspended tenant key",
	}
	require.NoError(t, testDB.CreateAPIKey(ctx, key))

	_, err := testDB.GetAPIKeyByPrefix(ctx, key.Prefix)
	require.NoError(t, err)

	// Suspending the project cuts off every key it owns, even ones that
	// are individually still active.
	require.NoError(t, testDB.SetProjectActive(ctx, project, false))
	_, err = testDB.GetAPIKeyByPrefix(ctx, key.Prefix)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, testDB.SetProjectActive(ctx, project, true))
	_, err = testDB.GetAPIKeyByPrefix(ctx, key.Prefix)
	assert.NoError(t, err)

	assert.ErrorIs(t, testDB.SetProjectActive(ctx, "missing", false), storage.ErrNotFound)
}

func TestMissingEmbeddingBackfill(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	m := mkMemory(project, "agent-1", "row without a vector", 0)
	m.Embedding = nil
	insertMemory(t, m)

	missing, err := testDB.MemoriesMissingEmbeddings(ctx, 10)
	require.NoError(t, err)
	found := false
	for _, row := range missing {
		if row.ID == m.ID {
			found = true
		}
	}
	require.True(t, found)

	require.NoError(t, testDB.SetMemoryEmbedding(ctx, m.ID, vec(0.2)))

	results, err := testDB.SearchMemories(ctx, storage.SearchQuery{
		ProjectID: project, AgentID: "agent-1", Embedding: vec(0.2), TopK: 5,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, m.ID, results[0].Memory.ID)
}

func TestMemoryStats(t *testing.T) {
	ctx := context.Background()
	project := newProject(t)

	live := mkMemory(project, "agent-1", "live stat row", 0)
	insertMemory(t, live)

	dead := mkMemory(project, "agent-1", "deprecated stat row", 0.1)
	insertMemory(t, dead)
	err := testDB.WithTx(ctx, func(tx pgx.Tx) error {
		if _, _, _, err := testDB.ApplyVoteTx(ctx, tx, project, live.ID, model.VoteHelpful); err != nil {
			return err
		}
		_, err := testDB.DeprecateMemoryTx(ctx, tx, project, dead.ID, nil, nil)
		return err
	})
	require.NoError(t, err)

	stats, err := testDB.GetMemoryStats(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Live)
	assert.Equal(t, 1, stats.Deprecated)
	assert.Equal(t, 1, stats.HelpfulVotes)
	assert.Equal(t, 1, stats.ByType[model.TypeStandard], "type counts cover live rows only")

	top, err := testDB.TopMemories(ctx, project, 1, 5)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, live.ID, top[0].ID)
}
