package obstetrics

import (
	"errors"
	"testing"
	"time"
)

func ptrInt(v int) *int { return &v }

func mustDate(t *testing.T, s string) Date {
	t.Helper()
	d, err := ParseDate(s)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return d
}

func TestCalculateGA_ScenarioA(t *testing.T) {
	ga, err := GestationalAgeFromString("2024-06-15", "2024-09-21")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ga.Weeks != 14 || ga.Days != 0 {
		t.Errorf("expected 14w 0d, got %s", ga)
	}
	if ga.TotalDays() != 98 {
		t.Errorf("expected 98 days, got %d", ga.TotalDays())
	}
}

func TestCalculateGA_SameDay(t *testing.T) {
	d := mustDate(t, "2024-06-15")
	ga, err := CalculateGA(d.Time, d.Time)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ga != (GestationalAge{}) {
		t.Errorf("expected 0w 0d, got %s", ga)
	}
}

func TestCalculateGA_IgnoresTimeOfDay(t *testing.T) {
	lmp := time.Date(2024, 6, 15, 23, 59, 0, 0, time.UTC)
	asOf := time.Date(2024, 6, 16, 0, 1, 0, 0, time.UTC)
	ga, err := CalculateGA(lmp, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ga.TotalDays() != 1 {
		t.Errorf("expected 1 day, got %s", ga)
	}
}

func TestCalculateGA_AcrossLeapDay(t *testing.T) {
	ga, err := GestationalAgeFromString("2024-02-01", "2024-03-01")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ga.TotalDays() != 29 {
		t.Errorf("expected 29 days, got %d", ga.TotalDays())
	}
	if ga.Weeks != 4 || ga.Days != 1 {
		t.Errorf("expected 4w 1d, got %s", ga)
	}
}

func TestCalculateGA_AcrossDSTInLocalZone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	lmp := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	asOf := time.Date(2024, 3, 15, 0, 0, 0, 0, loc)
	ga, err := CalculateGA(lmp, asOf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ga.Weeks != 2 || ga.Days != 0 {
		t.Errorf("expected 2w 0d, got %s", ga)
	}
}

func TestCalculateGA_LMPAfterAsOf(t *testing.T) {
	_, err := GestationalAgeFromString("2024-09-22", "2024-09-21")
	if !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func TestCalculateGA_ZeroDates(t *testing.T) {
	if _, err := CalculateGA(time.Time{}, time.Now()); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero lmp, got %v", err)
	}
	if _, err := CalculateGA(time.Now(), time.Time{}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate for zero as-of, got %v", err)
	}
}

func TestGestationalAgeFromString_Malformed(t *testing.T) {
	for _, tc := range [][2]string{
		{"15/06/2024", "2024-09-21"},
		{"2024-06-15", "yesterday"},
		{"", "2024-09-21"},
		{"2024-02-30", "2024-09-21"},
	} {
		if _, err := GestationalAgeFromString(tc[0], tc[1]); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("GestationalAgeFromString(%q, %q): expected ErrInvalidDate, got %v", tc[0], tc[1], err)
		}
	}
}

func TestGestationalAge_DaysAlwaysBelowSeven(t *testing.T) {
	lmp := mustDate(t, "2023-01-01")
	for i := 0; i < 400; i++ {
		ga, err := CalculateGA(lmp.Time, lmp.AddDate(0, 0, i))
		if err != nil {
			t.Fatalf("day %d: %v", i, err)
		}
		if ga.Days < 0 || ga.Days > 6 {
			t.Fatalf("day %d: days out of range in %s", i, ga)
		}
		if ga.TotalDays() != i {
			t.Fatalf("day %d: expected total %d, got %d", i, i, ga.TotalDays())
		}
	}
}

func TestCalculateEDD_ScenarioA(t *testing.T) {
	edd, err := EDDFromString("2024-06-15")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 2024-06-15 plus exactly 280 days.
	if edd != "2025-03-22" {
		t.Errorf("expected 2025-03-22, got %s", edd)
	}
}

func TestCalculateEDD_IsLMPPlus280Days(t *testing.T) {
	for _, s := range []string{"2024-01-01", "2024-02-29", "2023-05-31", "2024-12-31"} {
		lmp := mustDate(t, s)
		edd, err := CalculateEDD(lmp.Time)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got := daysBetween(lmp.Time, edd); got != NaegeleDays {
			t.Errorf("%s: expected %d days to EDD, got %d", s, NaegeleDays, got)
		}
		ga, err := CalculateGA(lmp.Time, edd)
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if ga.Weeks != 40 || ga.Days != 0 {
			t.Errorf("%s: expected 40w 0d at EDD, got %s", s, ga)
		}
	}
}

func TestCalculateEDD_Errors(t *testing.T) {
	if _, err := CalculateEDD(time.Time{}); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
	if _, err := EDDFromString("2024-13-01"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("expected ErrInvalidDate, got %v", err)
	}
}

func pastRecord(outcome Outcome, weeks *int, status BabyStatus) *PregnancyRecord {
	return &PregnancyRecord{Outcome: outcome, GestationWeeks: weeks, BabyStatus: status}
}

func TestCalculateGTPAL_ScenarioB(t *testing.T) {
	lmp, _ := ParseDate("2024-06-15")
	records := []*PregnancyRecord{
		pastRecord(OutcomeLiveBirth, ptrInt(39), BabyLiving),
		pastRecord(OutcomeMiscarriage, ptrInt(8), BabyNA),
		{Outcome: OutcomeOngoing, LMPDate: &lmp},
	}
	got := CalculateGTPAL(records)
	want := GTPALScore{G: 3, T: 1, P: 0, A: 1, L: 1}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if got.String() != "G3 T1 P0 A1 L1" {
		t.Errorf("unexpected string %q", got.String())
	}
}

func TestCalculateGTPAL_ScenarioD_Under20WeeksIsAbortion(t *testing.T) {
	got := CalculateGTPAL([]*PregnancyRecord{pastRecord(OutcomeLiveBirth, ptrInt(18), BabyNA)})
	if got.A != 1 || got.T != 0 || got.P != 0 {
		t.Errorf("expected A=1 only, got %+v", got)
	}
}

func TestCalculateGTPAL_Boundaries(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		weeks   int
		want    GTPALScore
	}{
		{"term at 37", OutcomeLiveBirth, 37, GTPALScore{G: 1, T: 1}},
		{"preterm at 36", OutcomeLiveBirth, 36, GTPALScore{G: 1, P: 1}},
		{"preterm at 20", OutcomeLiveBirth, 20, GTPALScore{G: 1, P: 1}},
		{"abortion at 19", OutcomeLiveBirth, 19, GTPALScore{G: 1, A: 1}},
		{"stillbirth at term", OutcomeStillbirth, 40, GTPALScore{G: 1, T: 1}},
		{"stillbirth at 20", OutcomeStillbirth, 20, GTPALScore{G: 1, P: 1}},
		{"miscarriage at 20", OutcomeMiscarriage, 20, GTPALScore{G: 1, A: 1}},
		{"ectopic at 7", OutcomeEctopic, 7, GTPALScore{G: 1, A: 1}},
		{"abortion at 0", OutcomeAbortion, 0, GTPALScore{G: 1, A: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateGTPAL([]*PregnancyRecord{pastRecord(tt.outcome, ptrInt(tt.weeks), BabyNA)})
			if got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestCalculateGTPAL_Empty(t *testing.T) {
	if got := CalculateGTPAL(nil); got != (GTPALScore{}) {
		t.Errorf("expected all zero, got %+v", got)
	}
}

func TestCalculateGTPAL_OngoingOnlyCountsInGravida(t *testing.T) {
	lmp, _ := ParseDate("2024-06-15")
	got := CalculateGTPAL([]*PregnancyRecord{
		{Outcome: OutcomeOngoing, LMPDate: &lmp, BabyStatus: BabyLiving, GestationWeeks: ptrInt(10)},
	})
	if got != (GTPALScore{G: 1}) {
		t.Errorf("expected G1 only, got %+v", got)
	}
}

func TestCalculateGTPAL_LivingIsIndependentOfOutcome(t *testing.T) {
	got := CalculateGTPAL([]*PregnancyRecord{
		pastRecord(OutcomeLiveBirth, ptrInt(39), BabyLiving),
		pastRecord(OutcomeLiveBirth, ptrInt(34), BabyLiving),
		pastRecord(OutcomeMiscarriage, ptrInt(10), BabyLiving),
	})
	// l is not capped at t+p.
	if got.L != 3 {
		t.Errorf("expected L=3, got %+v", got)
	}
	if got.T+got.P != 2 {
		t.Errorf("expected T+P=2, got %+v", got)
	}
}

func TestCalculateGTPAL_MissingWeeksStrict(t *testing.T) {
	got := CalculateGTPAL([]*PregnancyRecord{
		pastRecord(OutcomeLiveBirth, nil, BabyLiving),
		pastRecord(OutcomeMiscarriage, nil, BabyNA),
	})
	want := GTPALScore{G: 2, A: 1, L: 1, Unclassified: 1}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestCalculateGTPAL_MissingWeeksAsZero(t *testing.T) {
	got := CalculateGTPALWith([]*PregnancyRecord{
		pastRecord(OutcomeLiveBirth, nil, BabyLiving),
		pastRecord(OutcomeMiscarriage, nil, BabyNA),
	}, GTPALOptions{MissingWeeksAsZero: true})
	want := GTPALScore{G: 2, A: 2, L: 1}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestCalculateGTPAL_Invariants(t *testing.T) {
	records := []*PregnancyRecord{
		pastRecord(OutcomeLiveBirth, ptrInt(40), BabyLiving),
		pastRecord(OutcomeStillbirth, ptrInt(30), BabyDeceased),
		pastRecord(OutcomeAbortion, ptrInt(9), BabyNA),
		pastRecord(OutcomeLiveBirth, ptrInt(12), BabyNA),
		pastRecord(OutcomeEctopic, ptrInt(6), BabyNA),
		pastRecord(OutcomeLiveBirth, nil, BabyLiving),
	}
	got := CalculateGTPAL(records)
	if got.G != len(records) {
		t.Errorf("expected G=%d, got %d", len(records), got.G)
	}
	if got.T+got.P+got.A+got.Unclassified > got.G {
		t.Errorf("buckets exceed gravida: %+v", got)
	}
	for _, v := range []int{got.G, got.T, got.P, got.A, got.L, got.Unclassified} {
		if v < 0 {
			t.Fatalf("negative count in %+v", got)
		}
	}
}

func TestFindOngoing(t *testing.T) {
	lmp, _ := ParseDate("2024-06-15")
	ongoing := &PregnancyRecord{Outcome: OutcomeOngoing, LMPDate: &lmp}
	if got := FindOngoing([]*PregnancyRecord{pastRecord(OutcomeLiveBirth, ptrInt(39), BabyLiving), ongoing}); got != ongoing {
		t.Errorf("expected ongoing record, got %+v", got)
	}
	if got := FindOngoing([]*PregnancyRecord{pastRecord(OutcomeLiveBirth, ptrInt(39), BabyLiving)}); got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestConsistencyWarnings(t *testing.T) {
	warnings := consistencyWarnings([]*PregnancyRecord{
		pastRecord(OutcomeMiscarriage, ptrInt(10), BabyLiving),
		pastRecord(OutcomeLiveBirth, ptrInt(18), BabyNA),
		pastRecord(OutcomeLiveBirth, ptrInt(39), BabyLiving),
	})
	if len(warnings) != 2 {
		t.Errorf("expected 2 warnings, got %v", warnings)
	}
}
