package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ehr/extraction/internal/platform/db"
)

// Batches in MongoDB live in one collection for all tenants; every query
// filters on tenant_id.

type fileDoc struct {
	Index        int        `bson:"index"`
	Filename     string     `bson:"filename"`
	Size         int64      `bson:"size"`
	ContentType  string     `bson:"content_type,omitempty"`
	PageCount    *int       `bson:"page_count,omitempty"`
	Status       string     `bson:"status"`
	DocumentID   string     `bson:"document_id,omitempty"`
	ExtractionID string     `bson:"extraction_id,omitempty"`
	Error        *string    `bson:"error,omitempty"`
	StartedAt    *time.Time `bson:"started_at,omitempty"`
	CompletedAt  *time.Time `bson:"completed_at,omitempty"`
}

type progressDoc struct {
	Pending    int `bson:"pending"`
	Processing int `bson:"processing"`
	Completed  int `bson:"completed"`
	Failed     int `bson:"failed"`
}

type jobDoc struct {
	ID          string      `bson:"_id"`
	WorkspaceID string      `bson:"workspace_id"`
	TenantID    string      `bson:"tenant_id"`
	CreatedBy   string      `bson:"created_by"`
	PatientID   string      `bson:"patient_id,omitempty"`
	EncounterID string      `bson:"encounter_id,omitempty"`
	TemplateID  string      `bson:"template_id,omitempty"`
	Status      string      `bson:"status"`
	TotalFiles  int         `bson:"total_files"`
	Progress    progressDoc `bson:"progress"`
	Files       []fileDoc   `bson:"files"`
	CreatedAt   time.Time   `bson:"created_at"`
	StartedAt   *time.Time  `bson:"started_at,omitempty"`
	CompletedAt *time.Time  `bson:"completed_at,omitempty"`
}

func idString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func parseOptional(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func toDoc(j *Job) jobDoc {
	d := jobDoc{
		ID:          j.ID.String(),
		WorkspaceID: j.WorkspaceID.String(),
		TenantID:    j.TenantID,
		CreatedBy:   j.CreatedBy,
		PatientID:   idString(j.PatientID),
		EncounterID: idString(j.EncounterID),
		TemplateID:  idString(j.TemplateID),
		Status:      string(j.Status),
		TotalFiles:  j.TotalFiles,
		Progress:    progressDoc(j.Progress),
		Files:       make([]fileDoc, len(j.Files)),
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
	for i, f := range j.Files {
		d.Files[i] = fileDoc{
			Index:        f.Index,
			Filename:     f.Filename,
			Size:         f.Size,
			ContentType:  f.ContentType,
			PageCount:    f.PageCount,
			Status:       string(f.Status),
			DocumentID:   idString(f.DocumentID),
			ExtractionID: idString(f.ExtractionID),
			Error:        f.Error,
			StartedAt:    f.StartedAt,
			CompletedAt:  f.CompletedAt,
		}
	}
	return d
}

func fromDoc(d jobDoc) (*Job, error) {
	var err error
	j := &Job{
		TenantID:    d.TenantID,
		CreatedBy:   d.CreatedBy,
		Status:      JobStatus(d.Status),
		TotalFiles:  d.TotalFiles,
		Progress:    Progress(d.Progress),
		Files:       make([]FileTask, len(d.Files)),
		CreatedAt:   d.CreatedAt,
		StartedAt:   d.StartedAt,
		CompletedAt: d.CompletedAt,
	}
	if j.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, fmt.Errorf("batch id: %w", err)
	}
	if j.WorkspaceID, err = uuid.Parse(d.WorkspaceID); err != nil {
		return nil, fmt.Errorf("workspace id: %w", err)
	}
	if j.PatientID, err = parseOptional(d.PatientID); err != nil {
		return nil, fmt.Errorf("patient id: %w", err)
	}
	if j.EncounterID, err = parseOptional(d.EncounterID); err != nil {
		return nil, fmt.Errorf("encounter id: %w", err)
	}
	if j.TemplateID, err = parseOptional(d.TemplateID); err != nil {
		return nil, fmt.Errorf("template id: %w", err)
	}
	for i, f := range d.Files {
		ft := FileTask{
			Index:       f.Index,
			Filename:    f.Filename,
			Size:        f.Size,
			ContentType: f.ContentType,
			PageCount:   f.PageCount,
			Status:      FileStatus(f.Status),
			Error:       f.Error,
			StartedAt:   f.StartedAt,
			CompletedAt: f.CompletedAt,
		}
		if ft.DocumentID, err = parseOptional(f.DocumentID); err != nil {
			return nil, fmt.Errorf("file %d document id: %w", i, err)
		}
		if ft.ExtractionID, err = parseOptional(f.ExtractionID); err != nil {
			return nil, fmt.Errorf("file %d extraction id: %w", i, err)
		}
		j.Files[i] = ft
	}
	return j, nil
}

type storeMongo struct {
	col *mongo.Collection
}

// NewStoreMongo returns a Store over the batch_jobs collection and makes
// sure its indexes exist.
func NewStoreMongo(ctx context.Context, database *mongo.Database) (Store, error) {
	col := database.Collection("batch_jobs")
	_, err := col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "workspace_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	})
	if err != nil {
		return nil, fmt.Errorf("create batch_jobs indexes: %w", err)
	}
	return &storeMongo{col: col}, nil
}

func (s *storeMongo) Save(ctx context.Context, job *Job) error {
	doc := toDoc(job)
	_, err := s.col.ReplaceOne(ctx, bson.M{"_id": doc.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert batch %s: %w", job.ID, err)
	}
	return nil
}

func (s *storeMongo) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	var doc jobDoc
	err := s.col.FindOne(ctx, bson.M{"_id": id.String(), "tenant_id": db.TenantFromContext(ctx)}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromDoc(doc)
}

func (s *storeMongo) List(ctx context.Context, workspaceID uuid.UUID, limit int) ([]*Job, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := s.col.Find(ctx, bson.M{
		"tenant_id":    db.TenantFromContext(ctx),
		"workspace_id": workspaceID.String(),
	}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []jobDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(docs))
	for _, d := range docs {
		j, err := fromDoc(d)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, nil
}
