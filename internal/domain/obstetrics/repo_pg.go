package obstetrics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/obhistory/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	ongoingIndexName      = "uq_pregnancy_record_ongoing"
)

func translatePGError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUniqueViolation && pgErr.ConstraintName == ongoingIndexName:
			return ErrDuplicateActivePregnancy
		case pgErr.Code == pgForeignKeyViolation:
			return fmt.Errorf("case: %w", ErrNotFound)
		}
	}
	return err
}

// =========== Case Repository ===========

type caseRepoPG struct{ pool *pgxpool.Pool }

func NewCaseRepoPG(pool *pgxpool.Pool) CaseRepository {
	return &caseRepoPG{pool: pool}
}

const caseCols = `id, patient_id, category, patient_birth_year, created_at`

func scanCase(row pgx.Row) (*PatientCase, error) {
	var c PatientCase
	err := row.Scan(&c.ID, &c.PatientID, &c.Category, &c.PatientBirthYear, &c.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	return &c, nil
}

func (r *caseRepoPG) Create(ctx context.Context, c *PatientCase) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_case (id, patient_id, category, patient_birth_year)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, c.PatientID, c.Category, c.PatientBirthYear).Scan(&c.CreatedAt)
	return translatePGError(err)
}

func (r *caseRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientCase, error) {
	return scanCase(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+caseCols+` FROM patient_case WHERE id = $1`, id))
}

func (r *caseRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM patient_case WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *caseRepoPG) List(ctx context.Context, limit, offset int) ([]*PatientCase, int, error) {
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient_case`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+caseCols+` FROM patient_case ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Pregnancy Record Repository ===========

type recordRepoPG struct{ pool *pgxpool.Pool }

func NewRecordRepoPG(pool *pgxpool.Pool) PregnancyRecordRepository {
	return &recordRepoPG{pool: pool}
}

const recordCols = `id, case_id, outcome, outcome_year, lmp_date, gestation_weeks,
	delivery_mode, birth_weight_value, birth_weight_unit, gender, baby_status,
	complications, remarks, created_at`

func scanRecord(row pgx.Row) (*PregnancyRecord, error) {
	var (
		rec        PregnancyRecord
		lmp        *time.Time
		weight     decimal.NullDecimal
		weightUnit *string
	)
	err := row.Scan(&rec.ID, &rec.CaseID, &rec.Outcome, &rec.Year, &lmp, &rec.GestationWeeks,
		&rec.DeliveryMode, &weight, &weightUnit, &rec.Gender, &rec.BabyStatus,
		&rec.Complications, &rec.Remarks, &rec.CreatedAt)
	if err != nil {
		return nil, translatePGError(err)
	}
	if lmp != nil {
		d := NewDate(*lmp)
		rec.LMPDate = &d
	}
	if weight.Valid && weightUnit != nil {
		rec.BirthWeight = &BirthWeight{Value: weight.Decimal, Unit: WeightUnit(*weightUnit)}
	}
	if rec.Complications == nil {
		rec.Complications = []string{}
	}
	return &rec, nil
}

func (r *recordRepoPG) Create(ctx context.Context, rec *PregnancyRecord) error {
	rec.ID = uuid.New()

	var (
		lmp        *time.Time
		weight     decimal.NullDecimal
		weightUnit *string
	)
	if rec.LMPDate != nil {
		t := rec.LMPDate.Time
		lmp = &t
	}
	if rec.BirthWeight != nil {
		weight = decimal.NullDecimal{Decimal: rec.BirthWeight.Value, Valid: true}
		u := string(rec.BirthWeight.Unit)
		weightUnit = &u
	}
	complications := rec.Complications
	if complications == nil {
		complications = []string{}
	}

	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO pregnancy_record (id, case_id, outcome, outcome_year, lmp_date, gestation_weeks,
			delivery_mode, birth_weight_value, birth_weight_unit, gender, baby_status,
			complications, remarks)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at`,
		rec.ID, rec.CaseID, rec.Outcome, rec.Year, lmp, rec.GestationWeeks,
		rec.DeliveryMode, weight, weightUnit, rec.Gender, rec.BabyStatus,
		complications, rec.Remarks).Scan(&rec.CreatedAt)
	return translatePGError(err)
}

func (r *recordRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PregnancyRecord, error) {
	return scanRecord(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+recordCols+` FROM pregnancy_record WHERE id = $1`, id))
}

func (r *recordRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM pregnancy_record WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *recordRepoPG) ListByCase(ctx context.Context, caseID uuid.UUID) ([]*PregnancyRecord, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+recordCols+` FROM pregnancy_record WHERE case_id = $1`, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PregnancyRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rec)
	}
	return items, rows.Err()
}

func (r *recordRepoPG) DeleteByCase(ctx context.Context, caseID uuid.UUID) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM pregnancy_record WHERE case_id = $1`, caseID)
	return err
}

// =========== Case Locker ===========

type caseLockerPG struct{ pool *pgxpool.Pool }

// NewCaseLockerPG serialises case mutations with a transaction-scoped
// advisory lock keyed on the case id.
func NewCaseLockerPG(pool *pgxpool.Pool) CaseLocker {
	return &caseLockerPG{pool: pool}
}

func (l *caseLockerPG) WithCaseLock(ctx context.Context, caseID uuid.UUID, fn func(ctx context.Context) error) error {
	return db.WithAdvisoryLock(ctx, l.pool, "pregnancy_record:"+caseID.String(), fn)
}
