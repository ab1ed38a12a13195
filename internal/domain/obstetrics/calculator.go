package obstetrics

import (
	"fmt"
	"time"
)

const (
	// NaegeleDays is the span from LMP to the estimated delivery date.
	NaegeleDays = 280

	TermWeeks    = 37
	PretermWeeks = 20
)

// daysBetween counts calendar days from a to b, ignoring time of day and
// location offsets.
func daysBetween(a, b time.Time) int {
	return int(NewDate(b).Sub(NewDate(a).Time).Hours() / 24)
}

// CalculateGA returns the gestational age on asOf for a pregnancy dated by
// lmp. lmp may not be zero or fall after asOf.
func CalculateGA(lmp, asOf time.Time) (GestationalAge, error) {
	if lmp.IsZero() {
		return GestationalAge{}, fmt.Errorf("%w: lmp is required", ErrInvalidDate)
	}
	if asOf.IsZero() {
		return GestationalAge{}, fmt.Errorf("%w: as-of date is required", ErrInvalidDate)
	}
	elapsed := daysBetween(lmp, asOf)
	if elapsed < 0 {
		return GestationalAge{}, fmt.Errorf("%w: lmp %s is after %s",
			ErrInvalidDate, NewDate(lmp), NewDate(asOf))
	}
	return GestationalAge{Weeks: elapsed / 7, Days: elapsed % 7}, nil
}

// CalculateEDD applies Naegele's rule: the calendar day of lmp plus 280 days.
func CalculateEDD(lmp time.Time) (time.Time, error) {
	if lmp.IsZero() {
		return time.Time{}, fmt.Errorf("%w: lmp is required", ErrInvalidDate)
	}
	return NewDate(lmp).AddDate(0, 0, NaegeleDays), nil
}

// GestationalAgeFromString parses ISO-8601 dates and calculates GA.
func GestationalAgeFromString(lmp, asOf string) (GestationalAge, error) {
	l, err := ParseDate(lmp)
	if err != nil {
		return GestationalAge{}, err
	}
	a, err := ParseDate(asOf)
	if err != nil {
		return GestationalAge{}, err
	}
	return CalculateGA(l.Time, a.Time)
}

// EDDFromString parses an ISO-8601 LMP and returns the EDD in the same format.
func EDDFromString(lmp string) (string, error) {
	l, err := ParseDate(lmp)
	if err != nil {
		return "", err
	}
	edd, err := CalculateEDD(l.Time)
	if err != nil {
		return "", err
	}
	return edd.Format(DateLayout), nil
}

// GTPALOptions controls how records without gestation weeks are scored.
type GTPALOptions struct {
	// MissingWeeksAsZero scores a missing gestation length as 0 weeks, which
	// places the record in the abortion bucket regardless of outcome.
	MissingWeeksAsZero bool
}

// CalculateGTPAL scores records with the strict missing-weeks policy.
func CalculateGTPAL(records []*PregnancyRecord) GTPALScore {
	return CalculateGTPALWith(records, GTPALOptions{})
}

// CalculateGTPALWith scores records. Every bucket is an independent pass over
// the non-ongoing records; the <20 weeks rule wins over the outcome label.
func CalculateGTPALWith(records []*PregnancyRecord, opts GTPALOptions) GTPALScore {
	score := GTPALScore{G: len(records)}
	for _, r := range records {
		if r.IsOngoing() {
			continue
		}

		weeks, known := 0, false
		if r.GestationWeeks != nil {
			weeks, known = *r.GestationWeeks, true
		} else if opts.MissingWeeksAsZero {
			known = true
		}

		switch {
		case known && r.Outcome.IsBirth() && weeks >= TermWeeks:
			score.T++
		case known && r.Outcome.IsBirth() && weeks >= PretermWeeks:
			score.P++
		}
		if (known && weeks < PretermWeeks) || r.Outcome.IsLoss() {
			score.A++
		} else if !known && r.Outcome.IsBirth() {
			score.Unclassified++
		}

		if r.BabyStatus == BabyLiving {
			score.L++
		}
	}
	return score
}

// FindOngoing returns the ongoing record, if any.
func FindOngoing(records []*PregnancyRecord) *PregnancyRecord {
	for _, r := range records {
		if r.IsOngoing() {
			return r
		}
	}
	return nil
}

// consistencyWarnings flags record combinations the score does not
// cross-validate.
func consistencyWarnings(records []*PregnancyRecord) []string {
	var warnings []string
	ongoing := 0
	for _, r := range records {
		if r.IsOngoing() {
			ongoing++
			continue
		}
		if r.BabyStatus == BabyLiving && !r.Outcome.IsBirth() {
			warnings = append(warnings, fmt.Sprintf(
				"record %s: living baby recorded on %s outcome", r.ID, r.Outcome))
		}
		if r.GestationWeeks != nil && *r.GestationWeeks < PretermWeeks && r.Outcome.IsBirth() {
			warnings = append(warnings, fmt.Sprintf(
				"record %s: %s at %d weeks counted as abortion", r.ID, r.Outcome, *r.GestationWeeks))
		}
	}
	if ongoing > 1 {
		warnings = append(warnings, fmt.Sprintf("%d ongoing pregnancies recorded", ongoing))
	}
	return warnings
}
