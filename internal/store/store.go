// Package store persists job stage rows. All tables are insert-only:
// handlers and workers append a row per stage, readers pick the most
// recent row for a job ID. Nothing is ever updated or deleted, so the
// tables double as a permanent audit record.
package store

import (
	"context"

	"github.com/hexlume/castquest/internal/domain"
)

type Store interface {
	InsertValidation(ctx context.Context, v domain.Validation) error
	LatestValidation(ctx context.Context, jobID string) (domain.Validation, bool, error)

	InsertAttestation(ctx context.Context, a domain.Attestation) error
	LatestAttestation(ctx context.Context, jobID string) (domain.Attestation, bool, error)

	InsertNote(ctx context.Context, n domain.Note) error
	LatestNote(ctx context.Context, jobID string) (domain.Note, bool, error)

	InsertTransaction(ctx context.Context, tx domain.Transaction) error
	LatestTransaction(ctx context.Context, txID string) (domain.Transaction, bool, error)
}

// ResolveJob reads whatever stage rows exist for the job and collapses
// them into the tagged state the poll endpoint renders. Absence of rows is
// "stage not yet reached", never an error.
func ResolveJob(ctx context.Context, s Store, jobID string) (domain.JobState, error) {
	var (
		validation  *domain.Validation
		attestation *domain.Attestation
	)

	if v, ok, err := s.LatestValidation(ctx, jobID); err != nil {
		return domain.JobState{}, err
	} else if ok {
		validation = &v
	}

	if a, ok, err := s.LatestAttestation(ctx, jobID); err != nil {
		return domain.JobState{}, err
	} else if ok {
		attestation = &a
	}

	return domain.ResolveState(validation, attestation), nil
}

// ResolveNoteJob is ResolveJob for the review flow.
func ResolveNoteJob(ctx context.Context, s Store, jobID string) (domain.JobState, error) {
	n, ok, err := s.LatestNote(ctx, jobID)
	if err != nil {
		return domain.JobState{}, err
	}
	if !ok {
		return domain.ResolveNoteState(nil), nil
	}
	return domain.ResolveNoteState(&n), nil
}
