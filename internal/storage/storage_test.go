package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/cuongbtq/grading-coordinator/internal/domain"
	"github.com/cuongbtq/grading-coordinator/internal/storage"
	"github.com/cuongbtq/grading-coordinator/internal/storage/storagetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (*storage.Storage, *storagetest.Clock) {
	t.Helper()
	clock := storagetest.NewClock()
	return storagetest.New(t).WithClock(clock.Now), clock
}

func queuedJob(id string) *domain.Job {
	return &domain.Job{
		ID:           id,
		Status:       domain.JobStatusQueued,
		UserID:       "u1",
		CourseID:     "c1",
		FunctionName: "autograde_assignment",
		Description:  "Autograde hw1",
	}
}

func TestStorage_JobLifecycle(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, queuedJob("j1")))

	require.NoError(t, store.StartJob(ctx, "j1"))
	assert.ErrorIs(t, store.StartJob(ctx, "j1"), domain.ErrJobNotQueued)

	require.NoError(t, store.FinishJob(ctx, "j1", true, "boom", ""))
	assert.ErrorIs(t, store.FinishJob(ctx, "j1", false, "", "ok"), domain.ErrJobNotQueued)

	job, err := store.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFinished, job.Status)
	assert.True(t, job.Failed)
	assert.Equal(t, "boom", job.Log)
	assert.True(t, job.UpdatedAt.After(job.CreatedAt))
}

func TestStorage_JobNotFound(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	_, err := store.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	assert.ErrorIs(t, store.StartJob(ctx, "missing"), domain.ErrJobNotFound)
	assert.ErrorIs(t, store.FinishJob(ctx, "missing", false, "", ""), domain.ErrJobNotFound)
}

func TestStorage_FinishQueuedJob(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateJob(ctx, queuedJob("j1")))
	require.NoError(t, store.FinishJob(ctx, "j1", true, "broker down", ""))

	// a late delivery must not restart it
	assert.ErrorIs(t, store.StartJob(ctx, "j1"), domain.ErrJobNotQueued)
}

func TestStorage_ListJobsPagination(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c", "d", "e"} {
		job := queuedJob(id)
		if id == "e" {
			job.CourseID = "other"
		}
		require.NoError(t, store.CreateJob(ctx, job))
	}

	page, err := store.ListJobs(ctx, storage.JobFilter{CourseID: "c1", PageSize: 2})
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "d", page[0].ID)
	assert.Equal(t, "c", page[1].ID)

	next, err := store.ListJobs(ctx, storage.JobFilter{
		CourseID: "c1",
		PageSize: 2,
		Cursor:   &storage.JobCursor{CreatedAt: page[1].CreatedAt, JobID: page[1].ID},
	})
	require.NoError(t, err)
	require.Len(t, next, 2)
	assert.Equal(t, "b", next[0].ID)
	assert.Equal(t, "a", next[1].ID)
}

func TestStorage_Tasks(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	tasks := []domain.GradingTask{
		{ID: "t1", AssignmentID: "a1", BackupID: "b1", GraderID: "g1", CourseID: "c1", Kind: domain.ScoreKindComposition},
		{ID: "t2", AssignmentID: "a1", BackupID: "b2", GraderID: "g1", CourseID: "c1", Kind: domain.ScoreKindComposition},
		{ID: "t3", AssignmentID: "a1", BackupID: "b3", GraderID: "g2", CourseID: "c1", Kind: domain.ScoreKindComposition},
	}
	created, err := store.CreateTasks(ctx, tasks)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	t.Run("duplicate backup is skipped", func(t *testing.T) {
		dup, err := store.CreateTasks(ctx, []domain.GradingTask{
			{ID: "t4", AssignmentID: "a1", BackupID: "b1", GraderID: "g2", CourseID: "c1", Kind: domain.ScoreKindComposition},
		})
		require.NoError(t, err)
		assert.Empty(t, dup)
	})

	t.Run("tasked backups", func(t *testing.T) {
		tasked, err := store.TaskedBackups(ctx, "a1", []string{"b1", "b3", "b9"})
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{"b1": true, "b3": true}, tasked)
	})

	t.Run("next task is fifo and completion moves on", func(t *testing.T) {
		next, err := store.NextTask(ctx, "a1", "g1")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "t1", next.ID)

		require.NoError(t, store.SetTaskScore(ctx, "t1", "s1"))

		next, err = store.NextTask(ctx, "a1", "g1")
		require.NoError(t, err)
		require.NotNil(t, next)
		assert.Equal(t, "t2", next.ID)

		done, err := store.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.True(t, done.IsComplete())
	})

	t.Run("grader queues", func(t *testing.T) {
		queues, err := store.GraderQueues(ctx, "a1")
		require.NoError(t, err)

		byGrader := map[string]domain.GraderQueue{}
		for _, q := range queues {
			byGrader[q.GraderID] = q
		}
		assert.Equal(t, domain.GraderQueue{GraderID: "g1", Completed: 1, Total: 2}, byGrader["g1"])
		assert.Equal(t, domain.GraderQueue{GraderID: "g2", Completed: 0, Total: 1}, byGrader["g2"])
	})

	t.Run("nothing left", func(t *testing.T) {
		next, err := store.NextTask(ctx, "a1", "nobody")
		require.NoError(t, err)
		assert.Nil(t, next)
	})

	t.Run("unknown task", func(t *testing.T) {
		_, err := store.GetTask(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrTaskNotFound)
		assert.ErrorIs(t, store.SetTaskScore(ctx, "missing", "s1"), domain.ErrTaskNotFound)
	})
}

func TestStorage_Scores(t *testing.T) {
	store, clock := newStore(t)
	ctx := context.Background()

	start := clock.Now()

	first := &domain.Score{ID: "s1", BackupID: "b1", AssignmentID: "a1", Kind: domain.ScoreKindTotal, Value: 1, Public: true}
	second := &domain.Score{ID: "s2", BackupID: "b1", AssignmentID: "a1", Kind: domain.ScoreKindTotal, Value: 2, Public: true}
	other := &domain.Score{ID: "s3", BackupID: "b1", AssignmentID: "a1", Kind: domain.ScoreKindComposition, Value: 3, Public: true}
	require.NoError(t, store.InsertScore(ctx, first))
	require.NoError(t, store.InsertScore(ctx, second))
	require.NoError(t, store.InsertScore(ctx, other))

	// an older score never archives a newer one
	archived, err := store.ArchiveScores(ctx, first)
	require.NoError(t, err)
	assert.EqualValues(t, 0, archived)

	archived, err = store.ArchiveScores(ctx, second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, archived)

	live, err := store.ScoreHistory(ctx, "b1", domain.ScoreKindTotal, false)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "s2", live[0].ID)

	history, err := store.ScoreHistory(ctx, "b1", domain.ScoreKindTotal, true)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "s1", history[1].ID)
	assert.True(t, history[1].Archived)
	assert.False(t, history[1].Public)

	all, err := store.ScoreHistory(ctx, "b1", "", false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	has, err := store.HasScoreSince(ctx, "b1", start)
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasScoreSince(ctx, "b1", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStorage_Credentials(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	client, err := store.GetOrCreateClient(ctx, domain.APIClient{ClientID: "autograder", Name: "Autograder", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "u1", client.UserID)

	// existing clients keep their owner
	again, err := store.GetOrCreateClient(ctx, domain.APIClient{ClientID: "autograder", Name: "Autograder", UserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, "u1", again.UserID)

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertToken(ctx, &domain.AccessToken{
		ID: "tok1", ClientID: "autograder", UserID: "u1", AccessToken: "secret-token", Scopes: "all", ExpiresAt: expires,
	}))

	token, err := store.GetToken(ctx, "secret-token")
	require.NoError(t, err)
	assert.Equal(t, "all", token.Scopes)
	assert.True(t, token.ExpiresAt.Equal(expires))

	_, err = store.GetToken(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrInvalidToken)
}

func TestStorage_FinalSubmissions(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

	backups := []*domain.Backup{
		{ID: "alice-1", AssignmentID: "a1", SubmitterID: "alice", Submitted: true, CreatedAt: base},
		{ID: "alice-2", AssignmentID: "a1", SubmitterID: "alice", Submitted: true, CreatedAt: base.Add(time.Hour)},
		{ID: "alice-draft", AssignmentID: "a1", SubmitterID: "alice", Submitted: false, CreatedAt: base.Add(2 * time.Hour)},
		{ID: "bob-1", AssignmentID: "a1", SubmitterID: "bob", Submitted: true, CreatedAt: base.Add(30 * time.Minute)},
		{ID: "carol-draft", AssignmentID: "a1", SubmitterID: "carol", Submitted: false, CreatedAt: base},
		{ID: "dave-other", AssignmentID: "a2", SubmitterID: "dave", Submitted: true, CreatedAt: base},
	}
	for _, b := range backups {
		require.NoError(t, store.CreateBackup(ctx, b))
	}

	ids, err := store.FinalSubmissions(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, []string{"bob-1", "alice-2"}, ids)

	b, err := store.GetBackup(ctx, "bob-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", b.SubmitterID)
	assert.True(t, b.Submitted)

	_, err = store.GetBackup(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrBackupNotFound)
}

func TestStorage_StaffMembers(t *testing.T) {
	store, _ := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateAssignment(ctx, &domain.Assignment{ID: "a1", CourseID: "c1", Name: "hw1", AutogradingKey: "key"}))
	require.NoError(t, store.CreateEnrollment(ctx, "ta", "c1", domain.RoleStaff))
	require.NoError(t, store.CreateEnrollment(ctx, "prof", "c1", domain.RoleInstructor))
	require.NoError(t, store.CreateEnrollment(ctx, "la", "c1", domain.RoleLabAssistant))
	require.NoError(t, store.CreateEnrollment(ctx, "stu", "c1", domain.RoleStudent))
	require.NoError(t, store.CreateEnrollment(ctx, "elsewhere", "c2", domain.RoleStaff))

	staff, err := store.StaffMembers(ctx, "c1", []string{"ta", "prof", "la", "stu", "elsewhere"})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ta": true, "prof": true, "la": true}, staff)

	ok, err := store.IsStaff(ctx, "c1", "stu")
	require.NoError(t, err)
	assert.False(t, ok)

	a, err := store.GetAssignment(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "key", a.AutogradingKey)

	_, err = store.GetAssignment(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAssignmentNotFound)
}
