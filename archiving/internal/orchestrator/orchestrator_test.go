package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/archtypes"
	arkerrors "github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/errors"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/artifacts"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/ledger"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/metastore/memory"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/objstore/memstore"
	"github.com/KAnderson-DFCI/Germline-Method-Development-AlDubayan/archiving/internal/retry"
)

const destA = "gs://archive/ws/sample/s1/cram/a.bam"

type fixture struct {
	fs     billy.Filesystem
	rs     *memory.Store
	store  *memstore.Store
	arts   *artifacts.Store
	ledger *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fs := memfs.New()
	arts, err := artifacts.New(fs, "ws")
	require.NoError(t, err)
	l, err := ledger.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	return &fixture{
		fs:     fs,
		rs:     memory.New("ns", "ws", "src"),
		store:  memstore.New(memstore.WithChunkSize(4)),
		arts:   arts,
		ledger: l,
	}
}

// scenarioA seeds one sample whose cram column points at gs://src/a.bam.
func (f *fixture) scenarioA() *fixture {
	f.rs.AddRecord("sample", "s1", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/a.bam"}})
	f.store.Put("gs://src/a.bam", []byte("0123456789"))
	return f
}

func (f *fixture) orchestrator(opts ...Option) *Orchestrator {
	cfg := Config{
		Workspace:    "ws",
		Archive:      objstore.MustParseURI("gs://archive"),
		Workers:      4,
		RetryOptions: []retry.Option{retry.NoBackoff()},
	}
	return New(cfg, f.rs.Factory(), f.store.Factory(), f.arts, append([]Option{WithLedger(f.ledger)}, opts...)...)
}

func (f *fixture) runOutcome(t *testing.T) string {
	t.Helper()
	runs, err := f.ledger.RecentRuns(context.Background(), "ws", 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	return runs[0].Outcome
}

func TestMigrate_ScenarioA(t *testing.T) {
	f := newFixture(t).scenarioA()

	rep, err := f.orchestrator().Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archtypes.OutcomeDone, rep.Outcome)
	assert.Equal(t, archtypes.TransferCounts{Total: 1, Copied: 1}, rep.Transfer)
	assert.Equal(t, map[string]archtypes.UpdateCounts{"sample": {Total: 1, Succeeded: 1}}, rep.Updates)
	assert.Equal(t, archtypes.FinalizeCounts{Total: 1, Deleted: 1}, rep.Finalize)
	assert.Equal(t, 1, rep.Plan.References)

	assert.False(t, f.store.Has("gs://src/a.bam"))
	data, ok := f.store.Get(destA)
	require.True(t, ok)
	assert.Equal(t, "0123456789", string(data))

	rec, ok := f.rs.Record("sample", "s1")
	require.True(t, ok)
	assert.Equal(t, metastore.Scalar{V: destA}, rec["cram"])

	assert.Contains(t, rep.Snapshot, "gs://archive/ws/file_map.json")
	assert.Contains(t, rep.Snapshot, "gs://archive/ws/workspace_meta.json")
	assert.True(t, f.store.Has("gs://archive/ws/snapshot_manifest.json"))
	assert.True(t, f.arts.Exists(artifacts.FinalizeReport))
	assert.False(t, f.arts.Exists(artifacts.MigrationProblems))

	assert.Equal(t, string(archtypes.OutcomeDone), f.runOutcome(t))
	counts, err := f.ledger.ItemCounts(context.Background(), rep.RunID, archtypes.PhaseTransfer)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"copied": 1}, counts)
}

func TestMigrate_ScenarioB_MissingSourceProceeds(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.store.Remove("gs://src/a.bam")

	rep, err := f.orchestrator().Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archtypes.OutcomeDone, rep.Outcome)
	assert.Equal(t, archtypes.TransferCounts{Total: 1, Missing: 1}, rep.Transfer)
	assert.Equal(t, archtypes.FinalizeCounts{Total: 1, Skipped: 1}, rep.Finalize)

	var missing map[string]string
	require.NoError(t, f.arts.Read(artifacts.MissingMap, &missing))
	assert.Equal(t, map[string]string{"gs://src/a.bam": destA}, missing)
	assert.Contains(t, rep.Snapshot, "gs://archive/ws/missing_map.json")
}

func TestMigrate_ScenarioC_DuplicateDestination(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.store.Put(destA, []byte("abcdefghij"))

	rep, err := f.orchestrator().Migrate(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archtypes.TransferCounts{Total: 1, Duplicate: 1}, rep.Transfer)
	assert.Equal(t, 0, f.store.Stats().CopyCalls)
	assert.Equal(t, archtypes.FinalizeCounts{Total: 1, Deleted: 1}, rep.Finalize)
}

func TestMigrate_TransferGate(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/b.bam"}})
	f.rs.SetAttribute("reference", metastore.Scalar{V: "gs://src/ref.fa"})
	f.store.Put("gs://src/b.bam", []byte("bbbb"))
	f.store.Put("gs://src/ref.fa", []byte("ref"))
	f.store.Fail(memstore.OpCopy, "gs://src/b.bam", errors.New("throttled"))

	rep, err := f.orchestrator().Migrate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, arkerrors.ErrTransferGate)
	assert.True(t, arkerrors.IsGateFailure(err))
	assert.Equal(t, archtypes.OutcomeAbortedAtTransfer, rep.Outcome)
	assert.Equal(t, f.arts.Path(artifacts.MigrationProblems), rep.ProblemFile)

	records, attrs := f.rs.Calls()
	assert.Zero(t, records)
	assert.Zero(t, attrs)
	assert.True(t, f.store.Has("gs://src/a.bam"))
	assert.True(t, f.store.Has("gs://src/b.bam"))
	assert.Zero(t, f.store.Stats().Deletes)

	problems, err := f.arts.LoadProblems(artifacts.MigrationProblems)
	require.NoError(t, err)
	assert.Equal(t, []archtypes.Pair{{Source: "gs://src/b.bam", Destination: "gs://archive/ws/sample/s2/cram/b.bam"}},
		problems.ErrorPairs())
	assert.Equal(t, string(archtypes.OutcomeAbortedAtTransfer), f.runOutcome(t))
}

func TestReattempt_TransfersOnlyFailedPairs(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/b.bam"}})
	f.store.Put("gs://src/b.bam", []byte("bbbb"))
	f.store.Fail(memstore.OpCopy, "gs://src/b.bam", errors.New("throttled"))

	o := f.orchestrator()
	_, err := o.Migrate(context.Background())
	require.ErrorIs(t, err, arkerrors.ErrTransferGate)

	f.store.Fail(memstore.OpCopy, "gs://src/b.bam", nil)
	rep, err := o.Reattempt(context.Background())
	require.NoError(t, err)

	assert.Equal(t, archtypes.ModeReattempt, rep.Mode)
	assert.Equal(t, archtypes.OutcomeDone, rep.Outcome)
	assert.Equal(t, archtypes.TransferCounts{Total: 1, Copied: 1}, rep.Transfer)
	assert.Equal(t, map[string]archtypes.UpdateCounts{"sample": {Total: 2, Succeeded: 2}}, rep.Updates)
	assert.Equal(t, archtypes.FinalizeCounts{Total: 2, Deleted: 2}, rep.Finalize)
	assert.False(t, f.arts.Exists(artifacts.MigrationProblems))
}

func TestReattempt_WarnsOnEditedArtifacts(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/b.bam"}})
	f.store.Put("gs://src/b.bam", []byte("bbbb"))
	f.store.Fail(memstore.OpCopy, "gs://src/b.bam", errors.New("throttled"))

	var logs bytes.Buffer
	o := f.orchestrator(WithLogger(slog.New(slog.NewJSONHandler(&logs, nil))))
	_, err := o.Migrate(context.Background())
	require.ErrorIs(t, err, arkerrors.ErrTransferGate)

	name := path.Join("migration", "ws", artifacts.MigrationProblems)
	data, err := util.ReadFile(f.fs, name)
	require.NoError(t, err)
	require.NoError(t, util.WriteFile(f.fs, name, append(data, '\n'), 0o644))

	f.store.Fail(memstore.OpCopy, "gs://src/b.bam", nil)
	rep, err := o.Reattempt(context.Background())
	require.NoError(t, err)
	assert.Equal(t, archtypes.OutcomeDone, rep.Outcome)
	assert.Contains(t, logs.String(), "plan artifacts edited since they were written")
	assert.Contains(t, logs.String(), artifacts.MigrationProblems)
}

func TestReattempt_NoProblems(t *testing.T) {
	f := newFixture(t).scenarioA()
	o := f.orchestrator()
	_, err := o.Plan(context.Background())
	require.NoError(t, err)

	rep, err := o.Reattempt(context.Background())
	assert.ErrorIs(t, err, arkerrors.ErrNoProblems)
	assert.Equal(t, archtypes.OutcomeFailed, rep.Outcome)
}

func TestMigrate_UpdateGate(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.AddRecord("sample", "s2", map[string]metastore.Value{"cram": metastore.Scalar{V: "gs://src/b.bam"}})
	f.store.Put("gs://src/b.bam", []byte("bbbb"))
	f.rs.FailRecord("sample", "s2", 500, -1)

	rep, err := f.orchestrator().Migrate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, arkerrors.ErrUpdateGate)
	assert.Equal(t, archtypes.OutcomeAbortedAtUpdate, rep.Outcome)
	assert.Equal(t, archtypes.UpdateCounts{Total: 2, Succeeded: 1, Failed: 1}, rep.Updates["sample"])

	assert.Zero(t, f.store.Stats().Deletes)
	assert.True(t, f.store.Has("gs://src/a.bam"))
	assert.False(t, f.store.Has("gs://archive/ws/snapshot_manifest.json"))

	var failed map[string][]string
	require.NoError(t, f.arts.Read(artifacts.UpdateProblems, &failed))
	assert.Equal(t, map[string][]string{"sample": {"s2"}}, failed)
}

func TestMigrate_RerunAfterUpdateGateIsDuplicate(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.FailRecord("sample", "s1", 500, -1)
	o := f.orchestrator()

	_, err := o.Migrate(context.Background())
	require.ErrorIs(t, err, arkerrors.ErrUpdateGate)
	copies := f.store.Stats().CopyCalls

	f.rs.FailRecord("sample", "s1", 0, 0)
	rep, err := o.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, archtypes.TransferCounts{Total: 1, Duplicate: 1}, rep.Transfer)
	assert.Equal(t, copies, f.store.Stats().CopyCalls)
	assert.Equal(t, 1, rep.Plan.References)
	assert.False(t, f.arts.Exists(artifacts.UpdateProblems))
}

func TestMigrate_WorkspaceAttributeFailureIsFatal(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.rs.SetAttribute("reference", metastore.Scalar{V: "gs://src/ref.fa"})
	f.store.Put("gs://src/ref.fa", []byte("ref"))
	f.rs.FailAttributes(500, -1)

	rep, err := f.orchestrator().Migrate(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, arkerrors.ErrWorkspaceAttributes)
	assert.Equal(t, archtypes.OutcomeFailed, rep.Outcome)

	records, _ := f.rs.Calls()
	assert.Zero(t, records)
	assert.Zero(t, f.store.Stats().Deletes)
}

func TestMigrate_CancellationAbortsAtTransferGate(t *testing.T) {
	f := newFixture(t).scenarioA()
	for _, id := range []string{"s2", "s3", "s4"} {
		src := "gs://src/" + id + ".bam"
		f.rs.AddRecord("sample", id, map[string]metastore.Value{"cram": metastore.Scalar{V: src}})
		f.store.Put(src, []byte(id))
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.store.OnOp(func(op memstore.Op, _ objstore.URI) {
		if op == memstore.OpCopy {
			cancel()
		}
	})

	rep, err := f.orchestrator().Migrate(ctx)
	require.ErrorIs(t, err, arkerrors.ErrTransferGate)
	assert.True(t, rep.Transfer.Conserved())
	assert.Equal(t, 4, rep.Transfer.Total)
	assert.Positive(t, rep.Transfer.Error)

	records, attrs := f.rs.Calls()
	assert.Zero(t, records)
	assert.Zero(t, attrs)
	assert.Zero(t, f.store.Stats().Deletes)
	assert.Equal(t, string(archtypes.OutcomeAbortedAtTransfer), f.runOutcome(t))
}

func TestPlan_DoesNotTouchStorage(t *testing.T) {
	f := newFixture(t).scenarioA()

	summary, err := f.orchestrator().Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.References)
	assert.Equal(t, 1, summary.NewReferences)
	assert.Equal(t, 1, summary.EntityUpdates)

	assert.Zero(t, f.store.Stats().CopyCalls)
	records, _ := f.rs.Calls()
	assert.Zero(t, records)
	for _, name := range []string{artifacts.FileMap, artifacts.EntityPlan, artifacts.AttrPlan} {
		assert.True(t, f.arts.Exists(name), name)
	}
	assert.Equal(t, string(archtypes.OutcomePlanned), f.runOutcome(t))
}

func TestPlan_ConfiguredSourceOverridesBucket(t *testing.T) {
	f := newFixture(t)
	f.rs.AddRecord("sample", "s1", map[string]metastore.Value{
		"cram":  metastore.Scalar{V: "gs://src/a.bam"},
		"other": metastore.Scalar{V: "gs://elsewhere/b.bam"},
	})
	cfg := Config{Workspace: "ws", Archive: objstore.MustParseURI("gs://archive"), Source: objstore.MustParseURI("gs://elsewhere")}

	summary, err := New(cfg, f.rs.Factory(), f.store.Factory(), f.arts).Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.References)

	refs, err := f.arts.LoadReferenceMap(artifacts.FileMap)
	require.NoError(t, err)
	_, ok := refs.Lookup("gs://elsewhere/b.bam")
	assert.True(t, ok)
}

func TestSweep(t *testing.T) {
	f := newFixture(t)
	f.store.Put("gs://src/a.bam", []byte("a"))
	f.store.Put("gs://src/sub/b.bam", []byte("b"))
	f.store.Put("gs://src/logs/run.log", []byte("log"))

	rep, err := f.orchestrator().Sweep(context.Background(), "", []string{`\.log$`})
	require.NoError(t, err)

	assert.Equal(t, archtypes.ModeSweep, rep.Mode)
	assert.Equal(t, archtypes.TransferCounts{Total: 2, Copied: 2}, rep.Transfer)
	assert.Equal(t, archtypes.FinalizeCounts{Total: 2, Deleted: 2}, rep.Finalize)
	assert.Equal(t, []string{"gs://src/logs/run.log"}, rep.Plan.Filtered)

	assert.True(t, f.store.Has("gs://archive/ws/misc_files/a.bam"))
	assert.True(t, f.store.Has("gs://archive/ws/misc_files/sub/b.bam"))
	assert.True(t, f.store.Has("gs://src/logs/run.log"))
	assert.False(t, f.store.Has("gs://src/a.bam"))

	records, _ := f.rs.Calls()
	assert.Zero(t, records)
	assert.Empty(t, rep.Snapshot)
	assert.True(t, f.arts.Exists(artifacts.MiscFileMap))
	assert.True(t, f.arts.Exists(artifacts.MiscFileFiltered))
	assert.False(t, f.arts.Exists(artifacts.MissingMap))
}

func TestSweep_GateKeepsMigrationProblems(t *testing.T) {
	f := newFixture(t).scenarioA()
	f.store.Fail(memstore.OpCopy, "gs://src/a.bam", errors.New("throttled"))
	o := f.orchestrator()
	_, err := o.Migrate(context.Background())
	require.ErrorIs(t, err, arkerrors.ErrTransferGate)

	f.store.Put("gs://src/misc.txt", []byte("m"))
	rep, err := o.Sweep(context.Background(), "misc", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Transfer.Copied)
	assert.True(t, f.arts.Exists(artifacts.MigrationProblems))
}

func TestSweep_InvalidExclude(t *testing.T) {
	f := newFixture(t)
	rep, err := f.orchestrator().Sweep(context.Background(), "", []string{"("})
	assert.ErrorIs(t, err, arkerrors.ErrInvalidInput)
	assert.Equal(t, archtypes.OutcomeFailed, rep.Outcome)
}
