package obstetrics

import (
	"github.com/google/uuid"
)

type CreateCaseRequest struct {
	PatientID        string `json:"patient_id" validate:"required,uuid"`
	Category         string `json:"category" validate:"omitempty,oneof=anc pnc ANC PNC"`
	PatientBirthYear *int   `json:"patient_birth_year" validate:"omitempty,gte=1900"`
}

func (r *CreateCaseRequest) toCase() (*PatientCase, error) {
	pid, err := uuid.Parse(r.PatientID)
	if err != nil {
		return nil, invalid("patient_id", "must be a UUID")
	}
	category, err := ParseCaseCategory(r.Category)
	if err != nil {
		return nil, err
	}
	return &PatientCase{PatientID: pid, Category: category, PatientBirthYear: r.PatientBirthYear}, nil
}

// PregnancyRecordRequest is the add-pregnancy form payload. Enumerations are
// accepted in any case or separator style ("LiveBirth", "live_birth").
type PregnancyRecordRequest struct {
	Outcome        string       `json:"outcome" validate:"required"`
	Year           *int         `json:"year" validate:"omitempty,gte=1900"`
	LMPDate        string       `json:"lmp_date" validate:"omitempty,datetime=2006-01-02"`
	GestationWeeks *int         `json:"gestation_weeks" validate:"omitempty,gte=0,lte=45"`
	DeliveryMode   string       `json:"delivery_mode"`
	BirthWeight    *BirthWeight `json:"birth_weight"`
	Gender         string       `json:"gender"`
	BabyStatus     string       `json:"baby_status"`
	Complications  []string     `json:"complications" validate:"omitempty,dive,max=100"`
	Remarks        string       `json:"remarks" validate:"max=2000"`
}

func (r *PregnancyRecordRequest) toRecord(caseID uuid.UUID) (*PregnancyRecord, error) {
	rec := &PregnancyRecord{
		CaseID:         caseID,
		Year:           r.Year,
		GestationWeeks: r.GestationWeeks,
		BirthWeight:    r.BirthWeight,
		Complications:  r.Complications,
		Remarks:        r.Remarks,
	}
	var err error
	if rec.Outcome, err = ParseOutcome(r.Outcome); err != nil {
		return nil, err
	}
	if rec.DeliveryMode, err = ParseDeliveryMode(r.DeliveryMode); err != nil {
		return nil, err
	}
	if rec.Gender, err = ParseGender(r.Gender); err != nil {
		return nil, err
	}
	if rec.BabyStatus, err = ParseBabyStatus(r.BabyStatus); err != nil {
		return nil, err
	}
	if r.LMPDate != "" {
		d, err := ParseDate(r.LMPDate)
		if err != nil {
			return nil, err
		}
		rec.LMPDate = &d
	}
	return rec, nil
}

type GTPALRequest struct {
	Records []PregnancyRecordRequest `json:"records" validate:"dive"`
}

type GestationalAgeResponse struct {
	LMPDate string `json:"lmp_date"`
	AsOf    string `json:"as_of"`
	Weeks   int    `json:"weeks"`
	Days    int    `json:"days"`
	Display string `json:"display"`
}

type EDDResponse struct {
	LMPDate string `json:"lmp_date"`
	EDD     string `json:"edd"`
}
