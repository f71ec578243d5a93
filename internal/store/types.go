package store

import (
	"context"
	"time"

	"styleauth/internal/features"
	"styleauth/internal/model"
)

// DecisionRecord is one authentication outcome. It never carries the prompt.
type DecisionRecord struct {
	ID         int64
	UserID     string
	SessionID  string
	Outcome    string
	Decision   int
	Certainty  float64
	Confidence float64
	Locked     bool
	CreatedAt  time.Time
}

// TrainingRun summarizes one trainer invocation for a user.
type TrainingRun struct {
	ID            int64
	UserID        string
	TrainSamples  int
	TestSamples   int
	Models        int
	SchemaVersion features.Version
	Duration      time.Duration
	CreatedAt     time.Time
}

// DecisionRecorder persists authentication outcomes.
type DecisionRecorder interface {
	RecordDecision(ctx context.Context, r DecisionRecord) error
}

// BatchSaver replaces a set of bundles as a unit: after an error none of
// them has been written.
type BatchSaver interface {
	SaveAll(ctx context.Context, models []*model.UserModel) error
}

// TrainingRecorder persists training run summaries.
type TrainingRecorder interface {
	RecordTrainingRun(ctx context.Context, r TrainingRun) error
}

// HistoryReader reads back recorded decisions and training runs, newest
// first.
type HistoryReader interface {
	Decisions(ctx context.Context, userID string, limit int) ([]DecisionRecord, error)
	TrainingRuns(ctx context.Context, userID string) ([]TrainingRun, error)
}
