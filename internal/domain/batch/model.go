package batch

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
)

type FileStatus string

const (
	FilePending    FileStatus = "pending"
	FileProcessing FileStatus = "processing"
	FileCompleted  FileStatus = "completed"
	FileFailed     FileStatus = "failed"
)

// Progress counts files per status. The four buckets always sum to the
// job's total_files.
type Progress struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (p *Progress) bucket(s FileStatus) *int {
	switch s {
	case FilePending:
		return &p.Pending
	case FileProcessing:
		return &p.Processing
	case FileCompleted:
		return &p.Completed
	case FileFailed:
		return &p.Failed
	}
	return nil
}

func (p Progress) Sum() int {
	return p.Pending + p.Processing + p.Completed + p.Failed
}

// Done reports whether no file is waiting or running.
func (p Progress) Done() bool {
	return p.Pending == 0 && p.Processing == 0
}

type FileTask struct {
	Index        int        `json:"index"`
	Filename     string     `json:"filename"`
	Size         int64      `json:"size"`
	ContentType  string     `json:"content_type,omitempty"`
	PageCount    *int       `json:"page_count,omitempty"`
	Status       FileStatus `json:"status"`
	DocumentID   *uuid.UUID `json:"document_id,omitempty"`
	ExtractionID *uuid.UUID `json:"extraction_id,omitempty"`
	Error        *string    `json:"error,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

type Job struct {
	ID          uuid.UUID  `json:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id"`
	TenantID    string     `json:"tenant_id"`
	CreatedBy   string     `json:"created_by"`
	PatientID   *uuid.UUID `json:"patient_id,omitempty"`
	EncounterID *uuid.UUID `json:"encounter_id,omitempty"`
	TemplateID  *uuid.UUID `json:"template_id,omitempty"`
	Status      JobStatus  `json:"status"`
	TotalFiles  int        `json:"total_files"`
	Progress    Progress   `json:"progress"`
	Files       []FileTask `json:"files"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// clone copies the job deeply enough that the copy can leave the lock.
func (j *Job) clone() *Job {
	c := *j
	c.Files = make([]FileTask, len(j.Files))
	copy(c.Files, j.Files)
	return &c
}
