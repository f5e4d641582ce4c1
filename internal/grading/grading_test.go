package grading

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/cuongbtq/grading-coordinator/internal/storage/storagetest"
	"github.com/cuongbtq/grading-coordinator/shared/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// seedCourse creates assignment a1 in course c1 with staff g1..g3, a student,
// and n submitted backups b1..bn
func seedCourse(t *testing.T, store *storage.Storage, n int) []string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateAssignment(ctx, &domain.Assignment{ID: "a1", CourseID: "c1", Name: "hw1"}))
	require.NoError(t, store.CreateEnrollment(ctx, "g1", "c1", domain.RoleInstructor))
	require.NoError(t, store.CreateEnrollment(ctx, "g2", "c1", domain.RoleStaff))
	require.NoError(t, store.CreateEnrollment(ctx, "g3", "c1", domain.RoleLabAssistant))
	require.NoError(t, store.CreateEnrollment(ctx, "stu", "c1", domain.RoleStudent))

	ids := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("b%d", i)
		require.NoError(t, store.CreateBackup(ctx, &domain.Backup{
			ID: id, AssignmentID: "a1", SubmitterID: "s" + strconv.Itoa(i), Submitted: true,
		}))
		ids = append(ids, id)
	}
	return ids
}

func newManager(t *testing.T, cache CountCache) (*TaskManager, *Ledger, *storage.Storage) {
	t.Helper()
	clock := storagetest.NewClock()
	store := storagetest.New(t).WithClock(clock.Now)
	ledger := NewLedger(store, discard)
	return NewTaskManager(store, ledger, cache, discard), ledger, store
}

func TestPartition(t *testing.T) {
	tests := []struct {
		name  string
		items int
		n     int
		sizes []int
	}{
		{name: "even", items: 6, n: 3, sizes: []int{2, 2, 2}},
		{name: "remainder goes to earlier chunks", items: 7, n: 3, sizes: []int{3, 2, 2}},
		{name: "more graders than backups", items: 2, n: 4, sizes: []int{1, 1, 0, 0}},
		{name: "single grader", items: 5, n: 1, sizes: []int{5}},
		{name: "no backups", items: 0, n: 2, sizes: []int{0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := make([]string, tt.items)
			for i := range items {
				items[i] = strconv.Itoa(i)
			}

			chunks := Partition(items, tt.n)
			require.Len(t, chunks, tt.n)

			var flat []string
			for i, c := range chunks {
				assert.Len(t, c, tt.sizes[i])
				flat = append(flat, c...)
			}
			// contiguous and order preserving
			assert.Equal(t, len(items), len(flat))
			for i := range flat {
				assert.Equal(t, items[i], flat[i])
			}
		})
	}
}

func TestPartition_FairForAllSizes(t *testing.T) {
	for n := 1; n <= 7; n++ {
		for items := 0; items <= 30; items++ {
			list := make([]string, items)
			chunks := Partition(list, n)

			lo, hi, total := items, 0, 0
			for _, c := range chunks {
				lo = min(lo, len(c))
				hi = max(hi, len(c))
				total += len(c)
			}
			assert.Equal(t, items, total, "items=%d n=%d", items, n)
			assert.LessOrEqual(t, hi-lo, 1, "items=%d n=%d", items, n)
		}
	}
}

func TestTaskManager_CreateStaffTasks(t *testing.T) {
	manager, _, store := newManager(t, nil)
	ctx := context.Background()
	backups := seedCourse(t, store, 7)

	tasks, err := manager.CreateStaffTasks(ctx, backups, []string{"g1", "g2", "g3"}, "a1", "c1", domain.ScoreKindComposition)
	require.NoError(t, err)
	require.Len(t, tasks, 7)

	perGrader := map[string][]string{}
	for _, task := range tasks {
		perGrader[task.GraderID] = append(perGrader[task.GraderID], task.BackupID)
	}
	assert.Equal(t, []string{"b1", "b2", "b3"}, perGrader["g1"])
	assert.Equal(t, []string{"b4", "b5"}, perGrader["g2"])
	assert.Equal(t, []string{"b6", "b7"}, perGrader["g3"])

	t.Run("overlapping second call creates only new tasks", func(t *testing.T) {
		require.NoError(t, store.CreateBackup(ctx, &domain.Backup{ID: "b8", AssignmentID: "a1", SubmitterID: "s8", Submitted: true}))

		again, err := manager.CreateStaffTasks(ctx, []string{"b1", "b8", "b8", "b2"}, []string{"g2"}, "a1", "c1", domain.ScoreKindComposition)
		require.NoError(t, err)
		require.Len(t, again, 1)
		assert.Equal(t, "b8", again[0].BackupID)

		all, err := manager.ListTasks(ctx, "a1", "")
		require.NoError(t, err)
		seen := map[string]int{}
		for _, task := range all {
			seen[task.BackupID]++
		}
		for id, count := range seen {
			assert.Equal(t, 1, count, "backup %s", id)
		}
	})

	t.Run("everything already tasked", func(t *testing.T) {
		none, err := manager.CreateStaffTasks(ctx, backups, []string{"g1"}, "a1", "c1", domain.ScoreKindComposition)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestTaskManager_CreateStaffTasksErrors(t *testing.T) {
	manager, _, store := newManager(t, nil)
	ctx := context.Background()
	backups := seedCourse(t, store, 2)

	_, err := manager.CreateStaffTasks(ctx, backups, nil, "a1", "c1", domain.ScoreKindComposition)
	assert.ErrorIs(t, err, domain.ErrNoGraders)

	_, err = manager.CreateStaffTasks(ctx, backups, []string{"g1", "stu"}, "a1", "c1", domain.ScoreKindComposition)
	assert.ErrorIs(t, err, domain.ErrNotStaff)

	tasks, err := manager.ListTasks(ctx, "a1", "")
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskManager_QueuesAndCompletion(t *testing.T) {
	manager, ledger, store := newManager(t, nil)
	ctx := context.Background()
	backups := seedCourse(t, store, 5)

	_, err := manager.CreateStaffTasks(ctx, backups, []string{"g1", "g2"}, "a1", "c1", domain.ScoreKindComposition)
	require.NoError(t, err)

	next, err := manager.GetNextTask(ctx, "g1", "a1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b1", next.BackupID)

	_, _, err = manager.CompleteTask(ctx, next.ID, "g2", 2, "wrong grader")
	assert.ErrorIs(t, err, domain.ErrTaskNotAssigned)

	task, score, err := manager.CompleteTask(ctx, next.ID, "g1", 2, "nice style")
	require.NoError(t, err)
	assert.True(t, task.IsComplete())
	assert.Equal(t, "s1", score.UserID)
	assert.Equal(t, "a1", score.AssignmentID)

	// g1: 3 total, 1 done; g2: 2 total, 0 done -> both have 2 outstanding
	queues, err := manager.GetStaffTasks(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []domain.GraderQueue{
		{GraderID: "g1", Completed: 1, Total: 3},
		{GraderID: "g2", Completed: 0, Total: 2},
	}, queues)

	next, err = manager.GetNextTask(ctx, "g1", "a1")
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "b2", next.BackupID)
	_, _, err = manager.CompleteTask(ctx, next.ID, "g1", 1, "")
	require.NoError(t, err)

	queues, err = manager.GetStaffTasks(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "g2", queues[0].GraderID)
	assert.Equal(t, 2, queues[0].Outstanding())

	t.Run("regrading supersedes the earlier score", func(t *testing.T) {
		_, _, err := manager.CompleteTask(ctx, task.ID, "g1", 3, "regraded")
		require.NoError(t, err)

		current, err := ledger.CurrentScores(ctx, "b1")
		require.NoError(t, err)
		require.Len(t, current, 1)
		assert.Equal(t, 3.0, current[0].Value)
	})

	t.Run("grader with nothing left", func(t *testing.T) {
		next, err := manager.GetNextTask(ctx, "g3", "a1")
		require.NoError(t, err)
		assert.Nil(t, next)
	})
}

func TestLedger_ScoreSingularity(t *testing.T) {
	_, ledger, store := newManager(t, nil)
	ctx := context.Background()
	seedCourse(t, store, 2)

	for i := 0; i < 4; i++ {
		_, err := ledger.Record(ctx, NewScore{BackupID: "b1", GraderID: "g1", Kind: domain.ScoreKindTotal, Value: float64(i)})
		require.NoError(t, err)
	}
	_, err := ledger.Record(ctx, NewScore{BackupID: "b1", GraderID: "g1", Kind: domain.ScoreKindComposition, Value: 2})
	require.NoError(t, err)
	_, err = ledger.Record(ctx, NewScore{BackupID: "b2", GraderID: "g1", Kind: domain.ScoreKindTotal, Value: 9})
	require.NoError(t, err)

	current, err := ledger.CurrentScores(ctx, "b1")
	require.NoError(t, err)
	live := map[string]int{}
	for _, s := range current {
		live[s.Kind]++
		assert.False(t, s.Archived)
	}
	assert.Equal(t, map[string]int{domain.ScoreKindTotal: 1, domain.ScoreKindComposition: 1}, live)

	history, err := ledger.ScoreHistory(ctx, "b1", domain.ScoreKindTotal)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, 3.0, history[0].Value)
	assert.False(t, history[0].Archived)
	for _, s := range history[1:] {
		assert.True(t, s.Archived)
		assert.False(t, s.Public)
	}

	other, err := ledger.CurrentScores(ctx, "b2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestLedger_InterleavedRecordsSettleOnNewest(t *testing.T) {
	tests := []struct {
		name       string
		olderFirst bool
	}{
		{name: "archive in record order", olderFirst: true},
		{name: "archive in reverse order", olderFirst: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ledger, store := newManager(t, nil)
			ctx := context.Background()
			seedCourse(t, store, 1)

			first, err := ledger.RecordScore(ctx, NewScore{BackupID: "b1", GraderID: "g1", Kind: domain.ScoreKindTotal, Value: 1})
			require.NoError(t, err)
			second, err := ledger.RecordScore(ctx, NewScore{BackupID: "b1", GraderID: "g2", Kind: domain.ScoreKindTotal, Value: 2})
			require.NoError(t, err)

			// both visible until an archive pass runs
			current, err := ledger.CurrentScores(ctx, "b1")
			require.NoError(t, err)
			assert.Len(t, current, 2)

			order := []*domain.Score{first, second}
			if !tt.olderFirst {
				order = []*domain.Score{second, first}
			}
			for _, score := range order {
				require.NoError(t, ledger.ArchiveDuplicates(ctx, score))
			}

			current, err = ledger.CurrentScores(ctx, "b1")
			require.NoError(t, err)
			require.Len(t, current, 1)
			assert.Equal(t, second.ID, current[0].ID)
			assert.True(t, current[0].Public)
		})
	}
}

func TestLedger_Validation(t *testing.T) {
	_, ledger, store := newManager(t, nil)
	ctx := context.Background()
	seedCourse(t, store, 1)

	_, err := ledger.Record(ctx, NewScore{BackupID: "b1", Kind: domain.ScoreKindTotal})
	assert.Error(t, err)

	_, err = ledger.Record(ctx, NewScore{BackupID: "missing", GraderID: "g1", Kind: domain.ScoreKindTotal})
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)
}

func TestRedisCountCache_Invalidation(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := redis.NewClient(&redis.Config{Host: mr.Host(), Port: port}, discard)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCountCache(client, time.Minute, discard)
	manager, _, store := newManager(t, cache)
	ctx := context.Background()
	backups := seedCourse(t, store, 4)

	_, err = manager.CreateStaffTasks(ctx, backups[:2], []string{"g1"}, "a1", "c1", domain.ScoreKindComposition)
	require.NoError(t, err)

	queues, err := manager.GetStaffTasks(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, queues, 1)
	assert.Equal(t, 2, queues[0].Total)
	assert.True(t, mr.Exists("grading:staff_tasks:a1"))

	_, err = manager.CreateStaffTasks(ctx, backups[2:], []string{"g2"}, "a1", "c1", domain.ScoreKindComposition)
	require.NoError(t, err)
	assert.False(t, mr.Exists("grading:staff_tasks:a1"))

	queues, err = manager.GetStaffTasks(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, queues, 2)

	next, err := manager.GetNextTask(ctx, "g1", "a1")
	require.NoError(t, err)
	_, _, err = manager.CompleteTask(ctx, next.ID, "g1", 1, "")
	require.NoError(t, err)
	assert.False(t, mr.Exists("grading:staff_tasks:a1"))

	t.Run("corrupt entries are treated as misses", func(t *testing.T) {
		require.NoError(t, mr.Set("grading:staff_tasks:a1", "not json"))
		queues, err := manager.GetStaffTasks(ctx, "a1")
		require.NoError(t, err)
		assert.Len(t, queues, 2)

		raw, err := mr.Get("grading:staff_tasks:a1")
		require.NoError(t, err)
		assert.NotEqual(t, "not json", raw)
	})
}

func TestRedisCountCache_StaleFillDoesNotOverwrite(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := redis.NewClient(&redis.Config{Host: mr.Host(), Port: port}, discard)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	cache := NewRedisCountCache(client, time.Minute, discard)
	ctx := context.Background()

	fresh := []domain.GraderQueue{{GraderID: "g1", Total: 3}}
	stale := []domain.GraderQueue{{GraderID: "g1", Total: 1}}

	// a fill that lost the race with a newer one must not replace it
	cache.Set(ctx, "a1", fresh)
	cache.Set(ctx, "a1", stale)

	got, ok := cache.Get(ctx, "a1")
	require.True(t, ok)
	assert.Equal(t, fresh, got)

	// entries expire with the configured TTL
	mr.FastForward(time.Minute + time.Second)
	_, ok = cache.Get(ctx, "a1")
	assert.False(t, ok)

	cache.Set(ctx, "a1", stale)
	cache.Invalidate(ctx, "a1")
	cache.Set(ctx, "a1", fresh)
	got, ok = cache.Get(ctx, "a1")
	require.True(t, ok)
	assert.Equal(t, fresh, got)
}
