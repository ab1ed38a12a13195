package obstetrics

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Outcome is how a pregnancy ended, or ongoing for the active one.
type Outcome string

const (
	OutcomeOngoing     Outcome = "ongoing"
	OutcomeLiveBirth   Outcome = "live_birth"
	OutcomeStillbirth  Outcome = "stillbirth"
	OutcomeMiscarriage Outcome = "miscarriage"
	OutcomeAbortion    Outcome = "abortion"
	OutcomeEctopic     Outcome = "ectopic"
)

var outcomes = []Outcome{
	OutcomeOngoing, OutcomeLiveBirth, OutcomeStillbirth,
	OutcomeMiscarriage, OutcomeAbortion, OutcomeEctopic,
}

// IsBirth reports whether the outcome is a delivery (term or preterm candidate).
func (o Outcome) IsBirth() bool {
	return o == OutcomeLiveBirth || o == OutcomeStillbirth
}

// IsLoss reports whether the outcome always counts as an abortion in GTPAL.
func (o Outcome) IsLoss() bool {
	return o == OutcomeMiscarriage || o == OutcomeAbortion || o == OutcomeEctopic
}

type DeliveryMode string

const (
	DeliveryNVD          DeliveryMode = "nvd"
	DeliveryLSCS         DeliveryMode = "lscs"
	DeliveryInstrumental DeliveryMode = "instrumental"
	DeliveryVacuum       DeliveryMode = "vacuum"
	DeliveryForceps      DeliveryMode = "forceps"
	DeliveryNA           DeliveryMode = "na"
)

var deliveryModes = []DeliveryMode{
	DeliveryNVD, DeliveryLSCS, DeliveryInstrumental, DeliveryVacuum, DeliveryForceps, DeliveryNA,
}

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderOther  Gender = "other"
	GenderNA     Gender = "na"
)

var genders = []Gender{GenderMale, GenderFemale, GenderOther, GenderNA}

type BabyStatus string

const (
	BabyLiving   BabyStatus = "living"
	BabyDeceased BabyStatus = "deceased"
	BabyNA       BabyStatus = "na"
)

var babyStatuses = []BabyStatus{BabyLiving, BabyDeceased, BabyNA}

// normalizeToken folds case and drops separators so "Live Birth",
// "live_birth" and "LiveBirth" compare equal.
func normalizeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch r {
		case ' ', '_', '-', '/', '.':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func parseEnum[T ~string](field, raw string, values []T, def T) (T, error) {
	if strings.TrimSpace(raw) == "" {
		if def == "" {
			return "", invalid(field, "is required")
		}
		return def, nil
	}
	key := normalizeToken(raw)
	for _, v := range values {
		if normalizeToken(string(v)) == key {
			return v, nil
		}
	}
	return "", invalid(field, "unknown value %q", raw)
}

func ParseOutcome(s string) (Outcome, error) {
	return parseEnum("outcome", s, outcomes, "")
}

func ParseDeliveryMode(s string) (DeliveryMode, error) {
	return parseEnum("delivery_mode", s, deliveryModes, DeliveryNA)
}

func ParseGender(s string) (Gender, error) {
	return parseEnum("gender", s, genders, GenderNA)
}

func ParseBabyStatus(s string) (BabyStatus, error) {
	return parseEnum("baby_status", s, babyStatuses, BabyNA)
}

// DateLayout is the ISO-8601 calendar date format used on every boundary.
const DateLayout = "2006-01-02"

// Date is a calendar day, held as UTC midnight.
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar day in t's own location.
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q is not a YYYY-MM-DD date", ErrInvalidDate, s)
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: expected a YYYY-MM-DD string", ErrInvalidDate)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type WeightUnit string

const (
	WeightGram     WeightUnit = "g"
	WeightKilogram WeightUnit = "kg"
	WeightPound    WeightUnit = "lb"
)

var (
	gramsPerPound   = decimal.RequireFromString("453.59237")
	gramsPerKilo    = decimal.NewFromInt(1000)
	maxBirthWeightG = decimal.NewFromInt(7000)

	// birth_weight_value is NUMERIC(9, 3).
	birthWeightScale int32 = 3

	birthWeightPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]+)\s*$`)

	weightUnitAliases = map[string]WeightUnit{
		"g": WeightGram, "gm": WeightGram, "gms": WeightGram, "gram": WeightGram, "grams": WeightGram,
		"kg": WeightKilogram, "kgs": WeightKilogram, "kilogram": WeightKilogram, "kilograms": WeightKilogram,
		"lb": WeightPound, "lbs": WeightPound, "pound": WeightPound, "pounds": WeightPound,
	}
)

// BirthWeight is a measured weight with an explicit unit.
type BirthWeight struct {
	Value decimal.Decimal `json:"value"`
	Unit  WeightUnit      `json:"unit"`
}

// ParseBirthWeight reads legacy free text such as "3.2 kg", "3200g" or
// "7.5 lbs". A number without a unit is ambiguous and rejected.
func ParseBirthWeight(s string) (*BirthWeight, error) {
	m := birthWeightPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, invalid("birth_weight", "%q must be a number followed by g, kg or lb", s)
	}
	unit, ok := weightUnitAliases[strings.ToLower(m[2])]
	if !ok {
		return nil, invalid("birth_weight", "unknown unit %q", m[2])
	}
	w := &BirthWeight{Value: decimal.RequireFromString(m[1]), Unit: unit}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

// Grams converts the weight to grams.
func (w BirthWeight) Grams() decimal.Decimal {
	switch w.Unit {
	case WeightKilogram:
		return w.Value.Mul(gramsPerKilo)
	case WeightPound:
		return w.Value.Mul(gramsPerPound)
	default:
		return w.Value
	}
}

func (w BirthWeight) Validate() error {
	switch w.Unit {
	case WeightGram, WeightKilogram, WeightPound:
	default:
		return invalid("birth_weight", "unit must be g, kg or lb")
	}
	if !w.Value.IsPositive() {
		return invalid("birth_weight", "must be positive")
	}
	if !w.Value.Equal(w.Value.Truncate(birthWeightScale)) {
		return invalid("birth_weight", "at most %d decimal places", birthWeightScale)
	}
	if w.Grams().GreaterThan(maxBirthWeightG) {
		return invalid("birth_weight", "%s exceeds %s g", w, maxBirthWeightG)
	}
	return nil
}

func (w BirthWeight) String() string {
	return w.Value.String() + " " + string(w.Unit)
}

// UnmarshalJSON accepts both {"value":"3.2","unit":"kg"} and "3.2 kg".
func (w *BirthWeight) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseBirthWeight(s)
		if err != nil {
			return err
		}
		*w = *parsed
		return nil
	}
	type plain BirthWeight
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if unit, ok := weightUnitAliases[strings.ToLower(string(p.Unit))]; ok {
		p.Unit = unit
	}
	*w = BirthWeight(p)
	return w.Validate()
}

// SuggestedComplications is the vocabulary offered by the entry form. Records
// may carry labels outside it.
var SuggestedComplications = []string{
	"Anaemia",
	"Antepartum haemorrhage",
	"Gestational diabetes",
	"IUGR",
	"Malpresentation",
	"Obstructed labour",
	"Placenta previa",
	"Placental abruption",
	"Postpartum haemorrhage",
	"Pre-eclampsia",
	"Pregnancy-induced hypertension",
	"Preterm labour",
	"PROM",
	"Puerperal sepsis",
}

// NormalizeComplications trims labels, drops blanks and case-insensitive
// duplicates, and sorts the result.
func NormalizeComplications(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, c := range in {
		c = strings.Join(strings.Fields(c), " ")
		if c == "" {
			continue
		}
		key := strings.ToLower(c)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i]) < strings.ToLower(out[j])
	})
	return out
}

// PregnancyRecord is one historical or ongoing pregnancy of a patient case.
type PregnancyRecord struct {
	ID             uuid.UUID    `json:"id"`
	CaseID         uuid.UUID    `json:"case_id"`
	Outcome        Outcome      `json:"outcome"`
	Year           *int         `json:"year,omitempty"`
	LMPDate        *Date        `json:"lmp_date,omitempty"`
	GestationWeeks *int         `json:"gestation_weeks,omitempty"`
	DeliveryMode   DeliveryMode `json:"delivery_mode"`
	BirthWeight    *BirthWeight `json:"birth_weight,omitempty"`
	Gender         Gender       `json:"gender"`
	BabyStatus     BabyStatus   `json:"baby_status"`
	Complications  []string     `json:"complications"`
	Remarks        string       `json:"remarks,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func (r *PregnancyRecord) IsOngoing() bool {
	return r.Outcome == OutcomeOngoing
}

func (r *PregnancyRecord) clone() *PregnancyRecord {
	c := *r
	if r.Year != nil {
		y := *r.Year
		c.Year = &y
	}
	if r.LMPDate != nil {
		d := *r.LMPDate
		c.LMPDate = &d
	}
	if r.GestationWeeks != nil {
		w := *r.GestationWeeks
		c.GestationWeeks = &w
	}
	if r.BirthWeight != nil {
		bw := *r.BirthWeight
		c.BirthWeight = &bw
	}
	c.Complications = append([]string(nil), r.Complications...)
	return &c
}

type CaseCategory string

const (
	CaseANC CaseCategory = "anc"
	CasePNC CaseCategory = "pnc"
)

var caseCategories = []CaseCategory{CaseANC, CasePNC}

func ParseCaseCategory(s string) (CaseCategory, error) {
	return parseEnum("category", s, caseCategories, CaseANC)
}

// PatientCase owns a patient's list of pregnancy records.
type PatientCase struct {
	ID               uuid.UUID    `json:"id"`
	PatientID        uuid.UUID    `json:"patient_id"`
	Category         CaseCategory `json:"category"`
	PatientBirthYear *int         `json:"patient_birth_year,omitempty"`
	CreatedAt        time.Time    `json:"created_at"`
}

// GestationalAge is completed weeks plus remainder days since LMP.
type GestationalAge struct {
	Weeks int `json:"weeks"`
	Days  int `json:"days"`
}

func (ga GestationalAge) TotalDays() int {
	return ga.Weeks*7 + ga.Days
}

func (ga GestationalAge) String() string {
	return fmt.Sprintf("%dw %dd", ga.Weeks, ga.Days)
}

// GTPALScore is the derived Gravida/Term/Preterm/Abortion/Living tuple.
// Unclassified counts past records that lacked gestation weeks under the
// strict policy and so fell into none of T, P or A.
type GTPALScore struct {
	G            int `json:"g"`
	T            int `json:"t"`
	P            int `json:"p"`
	A            int `json:"a"`
	L            int `json:"l"`
	Unclassified int `json:"unclassified,omitempty"`
}

func (s GTPALScore) String() string {
	return fmt.Sprintf("G%d T%d P%d A%d L%d", s.G, s.T, s.P, s.A, s.L)
}

type ActivePregnancy struct {
	RecordID       uuid.UUID      `json:"record_id"`
	LMPDate        Date           `json:"lmp_date"`
	GestationalAge GestationalAge `json:"gestational_age"`
	EDD            Date           `json:"edd"`
}

// ObstetricSummary is the read model shown on the case header.
type ObstetricSummary struct {
	CaseID          uuid.UUID        `json:"case_id"`
	AsOf            Date             `json:"as_of"`
	GTPAL           GTPALScore       `json:"gtpal"`
	ActivePregnancy *ActivePregnancy `json:"active_pregnancy,omitempty"`
	RecordCount     int              `json:"record_count"`
	Warnings        []string         `json:"warnings,omitempty"`
}
