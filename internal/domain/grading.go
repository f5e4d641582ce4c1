package domain

import "time"

// Staff roles allowed to receive grading tasks
const (
	RoleInstructor   = "instructor"
	RoleStaff        = "staff"
	RoleLabAssistant = "lab_assistant"
	RoleStudent      = "student"
)

// StaffRoles lists the enrollment roles that may grade
var StaffRoles = []string{RoleInstructor, RoleStaff, RoleLabAssistant}

// Score kinds used by the grading flows
const (
	ScoreKindTotal       = "total"
	ScoreKindComposition = "composition"
)

// Assignment is the read-only view of an assignment the coordinator needs
type Assignment struct {
	ID             string `db:"id" json:"id"`
	CourseID       string `db:"course_id" json:"course_id"`
	Name           string `db:"name" json:"name"`
	AutogradingKey string `db:"autograding_key" json:"-"`
}

// Backup is a snapshot of a student's files. Its ID is safe to hand to
// external services.
type Backup struct {
	ID           string    `db:"id" json:"id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	SubmitterID  string    `db:"submitter_id" json:"submitter_id"`
	Submitted    bool      `db:"submitted" json:"submitted"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// GradingTask assigns one backup to one grader. It is complete once ScoreID
// is set; ScoreID is a lookup reference, not ownership.
type GradingTask struct {
	ID           string    `db:"id" json:"id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	BackupID     string    `db:"backup_id" json:"backup_id"`
	GraderID     string    `db:"grader_id" json:"grader_id"`
	CourseID     string    `db:"course_id" json:"course_id"`
	Kind         string    `db:"kind" json:"kind"`
	ScoreID      *string   `db:"score_id" json:"score_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// IsComplete reports whether a score was recorded for the task
func (t *GradingTask) IsComplete() bool {
	return t.ScoreID != nil
}

// GraderQueue summarizes one grader's workload for an assignment
type GraderQueue struct {
	GraderID  string `db:"grader_id" json:"grader_id"`
	Completed int    `db:"completed" json:"completed"`
	Total     int    `db:"total" json:"total"`
}

// Outstanding is the number of tasks still waiting for a score
func (q GraderQueue) Outstanding() int {
	return q.Total - q.Completed
}

// Score is one graded value of a given kind for a backup. Superseded scores
// are archived, never deleted.
type Score struct {
	ID           string    `db:"id" json:"id"`
	BackupID     string    `db:"backup_id" json:"backup_id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	UserID       string    `db:"user_id" json:"user_id"`
	GraderID     string    `db:"grader_id" json:"grader_id"`
	Kind         string    `db:"kind" json:"kind"`
	Value        float64   `db:"score" json:"score"`
	Message      string    `db:"message" json:"message"`
	Public       bool      `db:"public" json:"public"`
	Archived     bool      `db:"archived" json:"archived"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// APIClient is the synthetic client identity autograder tokens belong to
type APIClient struct {
	ClientID  string    `db:"client_id"`
	Name      string    `db:"name"`
	UserID    string    `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}

// AccessToken is a persisted bearer credential
type AccessToken struct {
	ID          string    `db:"id"`
	ClientID    string    `db:"client_id"`
	UserID      string    `db:"user_id"`
	AccessToken string    `db:"access_token"`
	Scopes      string    `db:"scopes"`
	ExpiresAt   time.Time `db:"expires_at"`
	CreatedAt   time.Time `db:"created_at"`
}
