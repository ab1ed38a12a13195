//go:build integration

package integration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/obhistory/internal/domain/obstetrics"
	"github.com/ehr/obhistory/internal/platform/db"
	"github.com/ehr/obhistory/migrations"
)

var fixedNow = time.Date(2024, 9, 21, 9, 0, 0, 0, time.UTC)

func newPGService(pool *pgxpool.Pool) *obstetrics.Service {
	return obstetrics.NewService(
		obstetrics.NewCaseRepoPG(pool),
		obstetrics.NewRecordRepoPG(pool),
		obstetrics.NewCaseLockerPG(pool),
		obstetrics.WithClock(func() time.Time { return fixedNow }),
	)
}

func createCase(t *testing.T, ctx context.Context, svc *obstetrics.Service) *obstetrics.PatientCase {
	t.Helper()
	pc := &obstetrics.PatientCase{
		PatientID:        uuid.New(),
		Category:         obstetrics.CaseANC,
		PatientBirthYear: ptrInt(1990),
	}
	if err := svc.CreateCase(ctx, pc); err != nil {
		t.Fatalf("create case: %v", err)
	}
	return pc
}

func ongoing(caseID uuid.UUID, lmp string) *obstetrics.PregnancyRecord {
	d, _ := obstetrics.ParseDate(lmp)
	return &obstetrics.PregnancyRecord{CaseID: caseID, Outcome: obstetrics.OutcomeOngoing, LMPDate: &d}
}

func TestMigrations_Idempotent(t *testing.T) {
	ctx := context.Background()
	pool, schema := newSchemaPool(t, "mig")
	migrator := db.NewMigrator(pool, migrations.FS)

	n, err := migrator.Up(ctx, schema)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected no pending migrations on second run, applied %d", n)
	}
	statuses, err := migrator.Status(ctx, schema)
	if err != nil {
		t.Fatal(err)
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %d %s not applied", s.Version, s.Name)
		}
	}
}

func TestPregnancyRecordCRUD(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "preg")
	svc := newPGService(pool)
	pc := createCase(t, ctx, svc)

	var pastID uuid.UUID
	t.Run("Create", func(t *testing.T) {
		rec := &obstetrics.PregnancyRecord{
			CaseID:         pc.ID,
			Outcome:        obstetrics.OutcomeLiveBirth,
			Year:           ptrInt(2019),
			GestationWeeks: ptrInt(39),
			DeliveryMode:   obstetrics.DeliveryLSCS,
			BirthWeight:    &obstetrics.BirthWeight{Value: decimal.RequireFromString("3.25"), Unit: obstetrics.WeightKilogram},
			Gender:         obstetrics.GenderFemale,
			BabyStatus:     obstetrics.BabyLiving,
			Complications:  []string{"Pre-eclampsia", "anaemia", "Anaemia "},
			Remarks:        "uneventful recovery",
		}
		id, err := svc.AddRecord(ctx, rec)
		if err != nil {
			t.Fatalf("add record: %v", err)
		}
		if id == uuid.Nil {
			t.Fatal("expected non-nil ID")
		}
		pastID = id
	})

	t.Run("GetByID", func(t *testing.T) {
		got, err := svc.GetRecord(ctx, pc.ID, pastID)
		if err != nil {
			t.Fatal(err)
		}
		if got.BirthWeight == nil || !got.BirthWeight.Value.Equal(decimal.RequireFromString("3.25")) || got.BirthWeight.Unit != obstetrics.WeightKilogram {
			t.Errorf("birth weight did not round-trip: %+v", got.BirthWeight)
		}
		if len(got.Complications) != 2 {
			t.Errorf("expected de-duplicated complications, got %v", got.Complications)
		}
		if got.DeliveryMode != obstetrics.DeliveryLSCS || got.Remarks != "uneventful recovery" {
			t.Errorf("unexpected record %+v", got)
		}
	})

	t.Run("Ordering", func(t *testing.T) {
		if _, err := svc.AddRecord(ctx, ongoing(pc.ID, "2024-06-15")); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.AddRecord(ctx, &obstetrics.PregnancyRecord{
			CaseID: pc.ID, Outcome: obstetrics.OutcomeMiscarriage, Year: ptrInt(2016), GestationWeeks: ptrInt(8),
		}); err != nil {
			t.Fatal(err)
		}
		records, err := svc.ListRecords(ctx, pc.ID)
		if err != nil {
			t.Fatal(err)
		}
		if len(records) != 3 {
			t.Fatalf("expected 3 records, got %d", len(records))
		}
		if *records[0].Year != 2016 || *records[1].Year != 2019 || !records[2].IsOngoing() {
			t.Errorf("unexpected order: %v, %v, %s", records[0].Year, records[1].Year, records[2].Outcome)
		}
	})

	t.Run("Summary", func(t *testing.T) {
		s, err := svc.Summary(ctx, pc.ID, nil)
		if err != nil {
			t.Fatal(err)
		}
		if s.GTPAL.String() != "G3 T1 P0 A1 L1" {
			t.Errorf("unexpected GTPAL %s", s.GTPAL)
		}
		if s.ActivePregnancy == nil || s.ActivePregnancy.EDD.String() != "2025-03-22" {
			t.Errorf("unexpected active pregnancy %+v", s.ActivePregnancy)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := svc.RemoveRecord(ctx, pc.ID, pastID); err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetRecord(ctx, pc.ID, pastID); !errors.Is(err, obstetrics.ErrNotFound) {
			t.Errorf("expected not found after delete, got %v", err)
		}
		if err := svc.RemoveRecord(ctx, pc.ID, pastID); !errors.Is(err, obstetrics.ErrNotFound) {
			t.Errorf("expected not found on second delete, got %v", err)
		}
	})
}

func TestOngoingPregnancy_ConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "conc")
	svc := newPGService(pool)
	pc := createCase(t, ctx, svc)

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddRecord(ctx, ongoing(pc.ID, "2024-06-15"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, obstetrics.ErrDuplicateActivePregnancy):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("expected exactly one ongoing pregnancy stored, got %d", succeeded)
	}
}

func TestOngoingPregnancy_UniqueIndex(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "uniq")
	svc := newPGService(pool)
	pc := createCase(t, ctx, svc)

	// Bypass the service lock to exercise the partial unique index directly.
	repo := obstetrics.NewRecordRepoPG(pool)
	first := ongoing(pc.ID, "2024-06-15")
	first.ID = uuid.New()
	if err := repo.Create(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := ongoing(pc.ID, "2024-07-01")
	second.ID = uuid.New()
	if err := repo.Create(ctx, second); !errors.Is(err, obstetrics.ErrDuplicateActivePregnancy) {
		t.Errorf("expected duplicate from unique index, got %v", err)
	}
}

func TestRecord_UnknownCase(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "fk")
	repo := obstetrics.NewRecordRepoPG(pool)

	rec := &obstetrics.PregnancyRecord{
		ID: uuid.New(), CaseID: uuid.New(), Outcome: obstetrics.OutcomeAbortion, GestationWeeks: ptrInt(10),
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, obstetrics.ErrNotFound) {
		t.Errorf("expected not found for unknown case, got %v", err)
	}
}

func TestDeleteCase_Cascades(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "casc")
	svc := newPGService(pool)
	pc := createCase(t, ctx, svc)

	if _, err := svc.AddRecord(ctx, ongoing(pc.ID, "2024-06-15")); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteCase(ctx, pc.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.GetCase(ctx, pc.ID); !errors.Is(err, obstetrics.ErrNotFound) {
		t.Errorf("expected case gone, got %v", err)
	}
	var n int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM pregnancy_record WHERE case_id = $1`, pc.ID).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected records removed with case, %d remain", n)
	}
}

func TestListCases_Paginates(t *testing.T) {
	ctx := context.Background()
	pool, _ := newSchemaPool(t, "list")
	svc := newPGService(pool)
	for i := 0; i < 5; i++ {
		createCase(t, ctx, svc)
	}
	page, total, err := svc.ListCases(ctx, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if total != 5 || len(page) != 2 {
		t.Errorf("expected 2 of 5, got %d of %d", len(page), total)
	}
}

func TestHealthCheck(t *testing.T) {
	pool, _ := newSchemaPool(t, "health")
	stats := db.GetPoolStats(pool)
	if stats == nil || stats.MaxConns != 10 {
		t.Errorf("unexpected pool stats %+v", stats)
	}
}
