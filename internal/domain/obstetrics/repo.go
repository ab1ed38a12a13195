package obstetrics

import (
	"context"

	"github.com/google/uuid"
)

type CaseRepository interface {
	Create(ctx context.Context, c *PatientCase) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientCase, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*PatientCase, int, error)
}

// PregnancyRecordRepository persists records. Implementations return
// ErrNotFound for unknown ids and hand out copies, never shared pointers.
type PregnancyRecordRepository interface {
	Create(ctx context.Context, r *PregnancyRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*PregnancyRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByCase(ctx context.Context, caseID uuid.UUID) ([]*PregnancyRecord, error)
	DeleteByCase(ctx context.Context, caseID uuid.UUID) error
}

// CaseLocker serialises mutations of one case's record list. Repository
// calls made with the ctx passed to fn take part in the locked unit of work.
type CaseLocker interface {
	WithCaseLock(ctx context.Context, caseID uuid.UUID, fn func(ctx context.Context) error) error
}
