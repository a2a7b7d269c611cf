package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evalgo.org/stratum/internal/cluster"
	"evalgo.org/stratum/models"
)

// CreateRemovalTask saves a new removal task.
func (s *Storage) CreateRemovalTask(ctx context.Context, task *models.RemovalTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if task.Context == "" {
		task.Context = documentContext
	}
	task.Type = TypeRemovalTask
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	task.Rev = ""
	return s.saveDocument(task)
}

// GetRemovalTask retrieves a removal task by ID.
func (s *Storage) GetRemovalTask(ctx context.Context, id string) (*models.RemovalTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var task models.RemovalTask
	if err := s.getDocument(id, TypeRemovalTask, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateRemovalTask stores the task state. The executor owns a task, so
// a conflict is resolved by taking over the stored revision, unless the
// stored task already reached a terminal stage.
func (s *Storage) UpdateRemovalTask(ctx context.Context, task *models.RemovalTask) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	task.Type = TypeRemovalTask

	err := s.saveDocument(task)
	if !errors.Is(err, cluster.ErrConflict) {
		return err
	}

	existing, getErr := s.GetRemovalTask(ctx, task.ID)
	if getErr != nil {
		return err
	}
	if existing.Stage.IsTerminal() && existing.Stage != task.Stage {
		return fmt.Errorf("removal task %s is already %s: %w", task.ID, existing.Stage, cluster.ErrConflict)
	}
	task.Rev = existing.Rev
	return s.saveDocument(task)
}

// ListRemovalTasks retrieves tasks in a stage; an empty stage lists all.
func (s *Storage) ListRemovalTasks(ctx context.Context, stage models.TaskStage) ([]*models.RemovalTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	selector := typed(TypeRemovalTask)
	if stage != "" {
		selector["stage"] = map[string]interface{}{"$eq": string(stage)}
	}

	tasks, err := find[models.RemovalTask](s, selector, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list removal tasks: %w", err)
	}

	result := make([]*models.RemovalTask, len(tasks))
	for i := range tasks {
		result[i] = &tasks[i]
	}
	return result, nil
}

// GetTrustedCertificate retrieves an accepted certificate by fingerprint.
func (s *Storage) GetTrustedCertificate(ctx context.Context, fingerprint string) (*models.TrustedCertificate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var cert models.TrustedCertificate
	if err := s.getDocument(models.TrustedCertificateID(fingerprint), TypeTrustedCertificate, &cert); err != nil {
		return nil, err
	}
	return &cert, nil
}

// SaveTrustedCertificate stores an accepted certificate.
func (s *Storage) SaveTrustedCertificate(ctx context.Context, cert *models.TrustedCertificate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cert.Context == "" {
		cert.Context = documentContext
	}
	cert.Type = TypeTrustedCertificate
	cert.ID = models.TrustedCertificateID(cert.Fingerprint)

	err := s.saveDocument(cert)
	if errors.Is(err, cluster.ErrConflict) {
		// Someone trusted the same certificate concurrently.
		return nil
	}
	return err
}
