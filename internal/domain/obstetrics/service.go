package obstetrics

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	maxGestationWeeks  = 45
	minMaternalAge     = 12
	earliestRecordYear = 1900
	maxRemarksLen      = 2000
	maxComplicationLen = 100
)

// Recorder receives store events; platform/telemetry implements it.
type Recorder interface {
	RecordAdded(outcome Outcome)
	RecordRemoved()
	RecordRejected(reason string)
	SummaryComputed()
}

type noopRecorder struct{}

func (noopRecorder) RecordAdded(Outcome)   {}
func (noopRecorder) RecordRemoved()        {}
func (noopRecorder) RecordRejected(string) {}
func (noopRecorder) SummaryComputed()      {}

type Service struct {
	cases   CaseRepository
	records PregnancyRecordRepository
	locker  CaseLocker

	now      func() time.Time
	gtpal    GTPALOptions
	logger   zerolog.Logger
	recorder Recorder
}

type Option func(*Service)

// WithClock replaces time.Now as the source of "today".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithGTPALOptions(opts GTPALOptions) Option {
	return func(s *Service) { s.gtpal = opts }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func NewService(cases CaseRepository, records PregnancyRecordRepository, locker CaseLocker, opts ...Option) *Service {
	s := &Service{
		cases:    cases,
		records:  records,
		locker:   locker,
		now:      time.Now,
		logger:   zerolog.Nop(),
		recorder: noopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today is the current calendar day according to the service clock.
func (s *Service) Today() Date {
	return NewDate(s.now())
}

// -- Patient Case --

func (s *Service) CreateCase(ctx context.Context, c *PatientCase) error {
	if c.PatientID == uuid.Nil {
		return invalid("patient_id", "is required")
	}
	category, err := ParseCaseCategory(string(c.Category))
	if err != nil {
		return err
	}
	c.Category = category
	if c.PatientBirthYear != nil {
		y := *c.PatientBirthYear
		if y < earliestRecordYear || y > s.Today().Year() {
			return invalid("patient_birth_year", "must be between %d and %d", earliestRecordYear, s.Today().Year())
		}
	}
	return s.cases.Create(ctx, c)
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*PatientCase, error) {
	c, err := s.cases.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", id, err)
	}
	return c, nil
}

func (s *Service) ListCases(ctx context.Context, limit, offset int) ([]*PatientCase, int, error) {
	return s.cases.List(ctx, limit, offset)
}

// DeleteCase removes a case together with all of its records.
func (s *Service) DeleteCase(ctx context.Context, id uuid.UUID) error {
	return s.locker.WithCaseLock(ctx, id, func(ctx context.Context) error {
		if _, err := s.GetCase(ctx, id); err != nil {
			return err
		}
		if err := s.records.DeleteByCase(ctx, id); err != nil {
			return fmt.Errorf("delete records of case %s: %w", id, err)
		}
		return s.cases.Delete(ctx, id)
	})
}

// -- Pregnancy Record Store --

// AddRecord validates rec and stores it under rec.CaseID. A second ongoing
// pregnancy is rejected with ErrDuplicateActivePregnancy and nothing is written.
func (s *Service) AddRecord(ctx context.Context, rec *PregnancyRecord) (uuid.UUID, error) {
	if rec.CaseID == uuid.Nil {
		return uuid.Nil, invalid("case_id", "is required")
	}
	// The case lookup runs under the lock so a concurrent DeleteCase cannot
	// leave the record without an owner.
	err := s.locker.WithCaseLock(ctx, rec.CaseID, func(ctx context.Context) error {
		pc, err := s.GetCase(ctx, rec.CaseID)
		if err != nil {
			return err
		}
		if err := s.validateRecord(rec, pc); err != nil {
			s.recorder.RecordRejected("validation")
			return err
		}
		if rec.IsOngoing() {
			existing, err := s.records.ListByCase(ctx, rec.CaseID)
			if err != nil {
				return fmt.Errorf("list records of case %s: %w", rec.CaseID, err)
			}
			if active := FindOngoing(existing); active != nil {
				return fmt.Errorf("%w (record %s)", ErrDuplicateActivePregnancy, active.ID)
			}
		}
		return s.records.Create(ctx, rec)
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateActivePregnancy) {
			s.recorder.RecordRejected("duplicate_ongoing")
			s.logger.Warn().Str("case_id", rec.CaseID.String()).Msg("rejected second ongoing pregnancy")
		}
		return uuid.Nil, err
	}

	s.recorder.RecordAdded(rec.Outcome)
	s.logger.Debug().
		Str("case_id", rec.CaseID.String()).
		Str("record_id", rec.ID.String()).
		Str("outcome", string(rec.Outcome)).
		Msg("pregnancy record added")
	return rec.ID, nil
}

// RemoveRecord deletes a record of caseID. Records of other cases are
// reported as not found.
func (s *Service) RemoveRecord(ctx context.Context, caseID, id uuid.UUID) error {
	err := s.locker.WithCaseLock(ctx, caseID, func(ctx context.Context) error {
		if _, err := s.GetRecord(ctx, caseID, id); err != nil {
			return err
		}
		return s.records.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recorder.RecordRemoved()
	s.logger.Debug().Str("case_id", caseID.String()).Str("record_id", id.String()).Msg("pregnancy record removed")
	return nil
}

func (s *Service) GetRecord(ctx context.Context, caseID, id uuid.UUID) (*PregnancyRecord, error) {
	rec, err := s.records.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pregnancy record %s: %w", id, err)
	}
	if rec.CaseID != caseID {
		return nil, fmt.Errorf("pregnancy record %s: %w", id, ErrNotFound)
	}
	return rec, nil
}

// ListRecords returns the case's records in display order.
func (s *Service) ListRecords(ctx context.Context, caseID uuid.UUID) ([]*PregnancyRecord, error) {
	if _, err := s.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	records, err := s.records.ListByCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	SortRecords(records)
	return records, nil
}

// -- Derived views --

// Score applies the configured GTPAL policy to records.
func (s *Service) Score(records []*PregnancyRecord) GTPALScore {
	return CalculateGTPALWith(records, s.gtpal)
}

// Summary recomputes GTPAL, and GA/EDD of the ongoing pregnancy, as of asOf
// (today when nil).
func (s *Service) Summary(ctx context.Context, caseID uuid.UUID, asOf *time.Time) (*ObstetricSummary, error) {
	records, err := s.ListRecords(ctx, caseID)
	if err != nil {
		return nil, err
	}
	day := s.Today()
	if asOf != nil {
		day = NewDate(*asOf)
	}

	summary := &ObstetricSummary{
		CaseID:      caseID,
		AsOf:        day,
		GTPAL:       s.Score(records),
		RecordCount: len(records),
		Warnings:    consistencyWarnings(records),
	}
	if active := FindOngoing(records); active != nil && active.LMPDate != nil {
		ga, err := CalculateGA(active.LMPDate.Time, day.Time)
		if err != nil {
			return nil, err
		}
		edd, err := CalculateEDD(active.LMPDate.Time)
		if err != nil {
			return nil, err
		}
		summary.ActivePregnancy = &ActivePregnancy{
			RecordID:       active.ID,
			LMPDate:        *active.LMPDate,
			GestationalAge: ga,
			EDD:            NewDate(edd),
		}
	}
	s.recorder.SummaryComputed()
	return summary, nil
}

// -- Validation --

func (s *Service) validateRecord(rec *PregnancyRecord, pc *PatientCase) error {
	today := s.Today()

	outcome, err := ParseOutcome(string(rec.Outcome))
	if err != nil {
		return err
	}
	rec.Outcome = outcome
	if rec.DeliveryMode, err = ParseDeliveryMode(string(rec.DeliveryMode)); err != nil {
		return err
	}
	if rec.Gender, err = ParseGender(string(rec.Gender)); err != nil {
		return err
	}
	if rec.BabyStatus, err = ParseBabyStatus(string(rec.BabyStatus)); err != nil {
		return err
	}

	if rec.IsOngoing() {
		if rec.LMPDate == nil {
			return invalid("lmp_date", "is required for an ongoing pregnancy")
		}
		ga, err := CalculateGA(rec.LMPDate.Time, today.Time)
		if err != nil {
			return fmt.Errorf("lmp_date: %w", err)
		}
		if ga.Weeks > maxGestationWeeks {
			return invalid("lmp_date", "gives a gestational age of %s", ga)
		}
		if rec.GestationWeeks != nil {
			return invalid("gestation_weeks", "is derived from lmp_date for an ongoing pregnancy")
		}
	} else {
		if rec.LMPDate != nil {
			return invalid("lmp_date", "is only recorded for the ongoing pregnancy")
		}
		if rec.GestationWeeks == nil && !s.gtpal.MissingWeeksAsZero {
			return invalid("gestation_weeks", "is required for a %s outcome", rec.Outcome)
		}
	}
	if w := rec.GestationWeeks; w != nil && (*w < 0 || *w > maxGestationWeeks) {
		return invalid("gestation_weeks", "must be between 0 and %d", maxGestationWeeks)
	}

	if rec.Year != nil {
		lo, hi := earliestRecordYear, today.Year()
		if pc.PatientBirthYear != nil && *pc.PatientBirthYear+minMaternalAge > lo {
			lo = *pc.PatientBirthYear + minMaternalAge
		}
		if *rec.Year < lo || *rec.Year > hi {
			return invalid("year", "must be between %d and %d", lo, hi)
		}
	}

	if rec.BirthWeight != nil {
		if err := rec.BirthWeight.Validate(); err != nil {
			return err
		}
	}

	rec.Complications = NormalizeComplications(rec.Complications)
	for _, c := range rec.Complications {
		if len(c) > maxComplicationLen {
			return invalid("complications", "label %q exceeds %d characters", c[:20]+"...", maxComplicationLen)
		}
	}
	rec.Remarks = strings.TrimSpace(rec.Remarks)
	if len(rec.Remarks) > maxRemarksLen {
		return invalid("remarks", "exceeds %d characters", maxRemarksLen)
	}
	return nil
}
