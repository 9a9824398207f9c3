package engine

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragkb/internal/chunk"
	"github.com/Aman-CERP/ragkb/internal/config"
	rkerrors "github.com/Aman-CERP/ragkb/internal/errors"
	"github.com/Aman-CERP/ragkb/internal/event"
	"github.com/Aman-CERP/ragkb/internal/index"
	"github.com/Aman-CERP/ragkb/internal/kb"
	"github.com/Aman-CERP/ragkb/internal/state"
)

// vecEmbedder returns scripted vectors for known texts and an orthogonal
// fallback for everything else, while counting every invocation.
type vecEmbedder struct {
	vecs  map[string][]float32
	calls atomic.Int64
}

func (v *vecEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	v.calls.Add(1)
	if vec, ok := v.vecs[text]; ok {
		out := make([]float32, len(vec))
		copy(out, vec)
		return out, nil
	}
	return []float32{0, 0, 1}, nil
}

func (v *vecEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := v.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (v *vecEmbedder) Dimensions() int                { return 3 }
func (v *vecEmbedder) ModelName() string              { return "scripted" }
func (v *vecEmbedder) Available(context.Context) bool { return true }
func (v *vecEmbedder) Close() error                   { return nil }

// unitAt returns the unit vector whose cosine against (1,0,0) is cos.
func unitAt(cos float64) []float32 {
	return []float32{float32(cos), float32(math.Sqrt(1 - cos*cos)), 0}
}

type testEnv struct {
	engine   *Engine
	embedder *vecEmbedder
	cfg      *config.Config
	bus      *event.Bus
	docsDir  string
}

func newTestEnv(t *testing.T, vecs map[string][]float32) *testEnv {
	t.Helper()

	cfg := config.New()
	cfg.Paths.KBDir = t.TempDir()
	cfg.Paths.StatePath = filepath.Join(t.TempDir(), "rag-state.json")

	emb := &vecEmbedder{vecs: vecs}
	builder := kb.NewBuilder(chunk.NewRecursiveSplitter(), emb,
		cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap, nil)
	store := state.NewStore(cfg.Paths.StatePath, nil)
	bus := event.NewBus(nil)

	return &testEnv{
		engine:   New(cfg, builder, emb, store, bus, nil),
		embedder: emb,
		cfg:      cfg,
		bus:      bus,
		docsDir:  t.TempDir(),
	}
}

func (env *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(env.docsDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const agentChunk = "Agents are autonomous programs that plan, act, and observe."

func TestQuery_SingleModeRelevantMatch(t *testing.T) {
	// Given a single active KB whose chunk sits at cosine 0.91 from the query
	env := newTestEnv(t, map[string][]float32{
		agentChunk:          {1, 0, 0},
		"What is an agent?": unitAt(0.91),
	})
	path := env.writeFile(t, "agent-article.txt", agentChunk)
	_, err := env.engine.AddKB(context.Background(), path)
	require.NoError(t, err)

	// When querying in single mode
	res, err := env.engine.Query(context.Background(), "What is an agent?", QueryOptions{})

	// Then one match at the normalized score (1+0.91)/2
	require.NoError(t, err)
	assert.Equal(t, 1, res.Metadata.MatchCount)
	require.Len(t, res.Documents, 1)
	assert.InDelta(t, 0.955, res.Documents[0].Score, 1e-6)
	assert.Equal(t, "agent-article", res.Documents[0].KBName)
	assert.Equal(t, "agent-article", res.Metadata.KBSingle)
	assert.Contains(t, res.Context, "相关度: 95.5%")
	assert.Contains(t, res.Context, "引用 1 (知识库: agent-article")
	assert.Contains(t, res.Context, agentChunk)
}

func TestQuery_BelowThresholdRejected(t *testing.T) {
	// Given a query whose best match scores 0.32, under the 0.7 default
	env := newTestEnv(t, map[string][]float32{
		agentChunk:                  {1, 0, 0},
		"unrelated: photosynthesis": unitAt(2*0.32 - 1),
	})
	path := env.writeFile(t, "agent-article.txt", agentChunk)
	_, err := env.engine.AddKB(context.Background(), path)
	require.NoError(t, err)

	_, err = env.engine.Query(context.Background(), "unrelated: photosynthesis", QueryOptions{})

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeNoRelevantContent))
}

func TestQuery_MultiModeMergesAndOrders(t *testing.T) {
	// Given two KBs scoring 0.88 and 0.72 for the same query
	progChunk := "Python and Go are popular programming languages."
	query := "What languages are popular?"

	// Place the query at cosine 0.44 from the agent chunk and build the
	// programming chunk at cosine 0.76 from the query, so the normalized
	// scores land at 0.72 and 0.88.
	theta := math.Acos(0.44)
	phi := theta - math.Acos(0.76)
	env := newTestEnv(t, map[string][]float32{
		agentChunk: {1, 0, 0},
		progChunk:  {float32(math.Cos(phi)), float32(math.Sin(phi)), 0},
		query:      unitAt(0.44),
	})

	agentPath := env.writeFile(t, "agent-article.txt", agentChunk)
	progPath := env.writeFile(t, "programming.txt", progChunk)
	_, err := env.engine.AddKB(context.Background(), agentPath)
	require.NoError(t, err)
	_, err = env.engine.AddKB(context.Background(), progPath)
	require.NoError(t, err)

	// When querying in multi mode
	res, err := env.engine.Query(context.Background(), query, QueryOptions{Mode: state.ModeMulti})

	// Then results merge across KBs, highest score first
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	assert.Equal(t, "programming", res.Documents[0].KBName)
	assert.InDelta(t, 0.88, res.Documents[0].Score, 1e-4)
	assert.Equal(t, "agent-article", res.Documents[1].KBName)
	assert.InDelta(t, 0.72, res.Documents[1].Score, 1e-4)
	assert.Equal(t, []string{"agent-article", "programming"}, res.Metadata.KBMulti)

	// And in single mode only the active KB answers
	res, err = env.engine.Query(context.Background(), query, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, res.Documents, 1)
	assert.Equal(t, "agent-article", res.Documents[0].KBName)
	assert.InDelta(t, 0.72, res.Documents[0].Score, 1e-4)
}

func TestAddKB_DuplicateReturnsAlreadyExists(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.writeFile(t, "x.txt", "some content")

	_, err := env.engine.AddKB(context.Background(), path)
	require.NoError(t, err)
	before := env.engine.ListKBs()

	_, err = env.engine.AddKB(context.Background(), path)

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeAlreadyExists))
	assert.Equal(t, before, env.engine.ListKBs())
}

func TestQuery_DisabledSkipsEmbedder(t *testing.T) {
	// Given persisted state that starts the engine disabled in multi mode
	statePath := filepath.Join(t.TempDir(), "rag-state.json")
	require.NoError(t, os.WriteFile(statePath,
		[]byte(`{"enabled": false, "mode": "multi", "active_name": ""}`), 0o644))

	cfg := config.New()
	cfg.Paths.KBDir = t.TempDir()
	cfg.Paths.StatePath = statePath

	emb := &vecEmbedder{}
	builder := kb.NewBuilder(chunk.NewRecursiveSplitter(), emb,
		cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap, nil)
	e := New(cfg, builder, emb, state.NewStore(statePath, nil), event.NewBus(nil), nil)
	require.NoError(t, e.Start(context.Background()))

	// When querying
	_, err := e.Query(context.Background(), "hi", QueryOptions{})

	// Then the gate rejects before the embedder sees anything
	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeDisabled))
	assert.Equal(t, int64(0), emb.calls.Load())
}

// panicIndex simulates a broken knowledge base whose search blows up.
type panicIndex struct{}

func (panicIndex) TopK([]float32, int) []index.Hit { panic("index corrupted") }
func (panicIndex) Chunk(int) (index.Chunk, bool)   { return index.Chunk{}, false }
func (panicIndex) Len() int                        { return 1 }

func TestQuery_MultiModeIsolatesFailingKB(t *testing.T) {
	// Given three KBs where the middle one panics on search
	env := newTestEnv(t, map[string][]float32{"q": {1, 0, 0}})
	require.NoError(t, env.engine.SetEnabled(context.Background(), true))

	good := func(name string) *kb.KnowledgeBase {
		ix := index.New()
		require.NoError(t, ix.Append(index.Chunk{ID: 0, Content: name + " content", Embedding: []float32{1, 0, 0}}))
		return &kb.KnowledgeBase{Name: name, SourcePath: "/" + name + ".txt", Origin: kb.OriginSystem, Index: ix}
	}

	env.engine.mu.Lock()
	env.engine.registry.AddSystem(good("alpha"))
	env.engine.registry.AddSystem(&kb.KnowledgeBase{
		Name: "broken", SourcePath: "/broken.txt", Origin: kb.OriginSystem, Index: panicIndex{},
	})
	env.engine.registry.AddSystem(good("zeta"))
	env.engine.mu.Unlock()

	// When querying in multi mode
	res, err := env.engine.Query(context.Background(), "q", QueryOptions{Mode: state.ModeMulti})

	// Then the healthy KBs still answer and nothing is cancelled
	require.NoError(t, err)
	require.Len(t, res.Documents, 2)
	names := []string{res.Documents[0].KBName, res.Documents[1].KBName}
	assert.ElementsMatch(t, []string{"alpha", "zeta"}, names)
}

func TestQuery_EmptyTextRejected(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Query(context.Background(), "   \n ", QueryOptions{})

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeInvalidArgument))
}

func TestQuery_SingleModeNoActiveKB(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Query(context.Background(), "anything", QueryOptions{})

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeNoActiveKB))
}

func TestQuery_MultiModeNoKBLoaded(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.Query(context.Background(), "anything", QueryOptions{Mode: state.ModeMulti})

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeNoKBLoaded))
}

func TestAddKB_FirstAddActivates(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.writeFile(t, "first.txt", "content of the first knowledge base")

	res, err := env.engine.AddKB(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "first", res.Name)
	assert.Equal(t, 1, res.ChunkCount)
	assert.Equal(t, "first", env.engine.Status().ActiveName)
}

func TestSwitchKB_PersistsAcrossRestart(t *testing.T) {
	env := newTestEnv(t, nil)
	pathA := env.writeFile(t, "a.txt", "content a")
	pathB := env.writeFile(t, "b.txt", "content b")
	_, err := env.engine.AddKB(context.Background(), pathA)
	require.NoError(t, err)
	_, err = env.engine.AddKB(context.Background(), pathB)
	require.NoError(t, err)

	require.NoError(t, env.engine.SwitchKB("b"))
	assert.Equal(t, "b", env.engine.Status().ActiveName)

	// A fresh store sees the same three fields.
	st := state.NewStore(env.cfg.Paths.StatePath, nil).Load()
	assert.True(t, st.Enabled)
	assert.Equal(t, state.ModeSingle, st.Mode)
	assert.Equal(t, "b", st.ActiveName)
}

func TestRemoveKB_ActiveClearsPointer(t *testing.T) {
	env := newTestEnv(t, nil)
	path := env.writeFile(t, "only.txt", "content")
	_, err := env.engine.AddKB(context.Background(), path)
	require.NoError(t, err)

	require.NoError(t, env.engine.RemoveKB("only"))

	st := env.engine.Status()
	assert.Empty(t, st.ActiveName)
	assert.Empty(t, st.LoadedNames)
}

func TestRemoveKB_SystemGatedByConfig(t *testing.T) {
	env := newTestEnv(t, nil)
	env.cfg.Registry.AllowSystemRemove = false

	env.engine.mu.Lock()
	env.engine.registry.AddSystem(&kb.KnowledgeBase{
		Name: "sys", SourcePath: "/sys.txt", Origin: kb.OriginSystem, Index: index.New(),
	})
	env.engine.mu.Unlock()

	err := env.engine.RemoveKB("sys")

	require.Error(t, err)
	assert.True(t, rkerrors.IsCode(err, rkerrors.ErrCodeInvalidArgument))
}

func TestSetMode_MultiLoadsSystemKBsOnce(t *testing.T) {
	// Given two .txt files in the system directory
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "beta.txt"), []byte("beta content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "alpha.txt"), []byte("alpha content"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "notes.md"), []byte("ignored"), 0o644))

	var loadedEvents int
	env.bus.Subscribe(event.TypeSystemKBsLoaded, func(event.Event) { loadedEvents++ })

	// When entering multi mode twice
	require.NoError(t, env.engine.SetMode(context.Background(), state.ModeMulti))
	require.NoError(t, env.engine.SetMode(context.Background(), state.ModeMulti))

	// Then the scan ran exactly once, .txt only, first name auto-activated
	st := env.engine.Status()
	assert.Equal(t, []string{"alpha", "beta"}, st.LoadedNames)
	assert.Equal(t, "alpha", st.ActiveName)
	assert.Equal(t, 1, loadedEvents)
}

func TestSystemLoad_SkipsUserCollisions(t *testing.T) {
	env := newTestEnv(t, nil)
	userPath := env.writeFile(t, "guides.txt", "user guides content")
	_, err := env.engine.AddKB(context.Background(), userPath)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "guides.txt"), []byte("system guides"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "other.txt"), []byte("other content"), 0o644))

	require.NoError(t, env.engine.SetMode(context.Background(), state.ModeMulti))

	// The user entry survives untouched; only the non-colliding file loads.
	entries := env.engine.ListKBs()
	require.Len(t, entries, 2)
	byName := map[string]kb.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	assert.Equal(t, kb.OriginUser, byName["guides"].Origin)
	assert.Equal(t, kb.OriginSystem, byName["other"].Origin)
}

func TestSetEnabled_WhileMultiTriggersLoad(t *testing.T) {
	env := newTestEnv(t, nil)
	require.NoError(t, os.WriteFile(filepath.Join(env.cfg.Paths.KBDir, "docs.txt"), []byte("content"), 0o644))

	// Disabled first, so entering multi defers the scan.
	require.NoError(t, env.engine.SetEnabled(context.Background(), false))
	require.NoError(t, env.engine.SetMode(context.Background(), state.ModeMulti))
	assert.Empty(t, env.engine.Status().LoadedNames)

	// Enabling while multi runs it.
	require.NoError(t, env.engine.SetEnabled(context.Background(), true))
	assert.Equal(t, []string{"docs"}, env.engine.Status().LoadedNames)
}

func TestEngine_EventsOnMutations(t *testing.T) {
	env := newTestEnv(t, nil)

	var types []event.Type
	for _, tp := range []event.Type{event.TypeKBAdded, event.TypeKBRemoved, event.TypeKBSwitched, event.TypeModeChanged, event.TypeEnabledChanged} {
		env.bus.Subscribe(tp, func(ev event.Event) { types = append(types, ev.EventType()) })
	}

	pathA := env.writeFile(t, "a.txt", "content a")
	pathB := env.writeFile(t, "b.txt", "content b")
	_, err := env.engine.AddKB(context.Background(), pathA)
	require.NoError(t, err)
	_, err = env.engine.AddKB(context.Background(), pathB)
	require.NoError(t, err)
	require.NoError(t, env.engine.SwitchKB("b"))
	require.NoError(t, env.engine.RemoveKB("a"))
	require.NoError(t, env.engine.SetMode(context.Background(), state.ModeMulti))
	require.NoError(t, env.engine.SetEnabled(context.Background(), false))

	assert.Equal(t, []event.Type{
		event.TypeKBAdded,
		event.TypeKBAdded,
		event.TypeKBSwitched,
		event.TypeKBRemoved,
		event.TypeModeChanged,
		event.TypeEnabledChanged,
	}, types)
}

func TestStatus_ReportsConfiguration(t *testing.T) {
	env := newTestEnv(t, nil)

	st := env.engine.Status()

	assert.True(t, st.Enabled)
	assert.Equal(t, state.ModeSingle, st.Mode)
	assert.Equal(t, config.DefaultChunkSize, st.ChunkSize)
	assert.Equal(t, config.DefaultChunkOverlap, st.ChunkOverlap)
	assert.Zero(t, st.TotalChunks)
}
