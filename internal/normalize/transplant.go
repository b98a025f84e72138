package normalize

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// RawTransplant is a registry transplant row before canonicalisation. The
// modality fields are only populated for sources that report them directly;
// UKRR rows instead carry the donor attributes the modality is derived from.
type RawTransplant struct {
	PatientRef     string
	Source         domain.Source
	RecordID       string
	ModalityCode   string
	UnitCode       string
	TransplantDate time.Time
	FailureDate    *time.Time
	CreatedAt      *time.Time
	ModifiedAt     *time.Time

	// UKRR donor attributes.
	TransplantType         string
	TransplantRelationship string
	TransplantSex          string

	// Canonical marks rows read back from the canonical database, whose
	// patient, modality and unit references need no translation.
	Canonical bool
}

// Donor relationship codes as reported by the renal registry.
const (
	relationshipChild  = "0"
	relationshipParent = "2"
	donorSexMale       = "1"
	donorSexFemale     = "2"
)

// DeriveRRTransplantModality derives the transplant modality from the renal
// registry's donor attributes. Living donors split by relationship to the
// recipient, cadaveric donors collapse to a single code. Codes 25 to 28 have
// no derivation rule yet.
// TODO map relationship codes 25 to 28 once the registry confirms their meaning.
func DeriveRRTransplantModality(transplantType, relationship, sex string) (string, bool) {
	alive := transplantType == "Live"
	dead := transplantType == "DCD" || transplantType == "DBD"

	switch {
	case alive && relationship == relationshipChild:
		return "77", true
	case alive && oneOf(relationship, "3", "4", "5", "6", "7", "8"):
		return "21", true
	case alive && relationship == relationshipParent && sex == donorSexMale:
		return "74", true
	case alive && relationship == relationshipParent && sex == donorSexFemale:
		return "75", true
	case alive && relationship == "9":
		return "23", true
	case alive && oneOf(relationship, "10", "11", "12", "15", "16", "19"):
		return "24", true
	case dead:
		return "20", true
	case relationship == "88" || relationship == "99":
		return "99", true
	}
	return "", false
}

func oneOf(v string, set ...string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Transplants canonicalises a batch of raw transplant rows. A transplant is a
// point event, so the interval closes on the day it opens; a recorded failure
// date travels in the payload rather than the interval itself. UKRR rows get
// their modality derived from donor attributes; underivable rows are dropped
// and counted like any other unmapped modality.
func (n *Normalizer) Transplants(raw []RawTransplant) ([]domain.IntervalRecord, DropCounts) {
	out := make([]domain.IntervalRecord, 0, len(raw))
	var drops DropCounts

	for _, t := range raw {
		patientID := t.PatientRef
		if !t.Canonical {
			var ok bool
			patientID, ok = n.ResolvePatient(t.Source, t.PatientRef)
			if !ok {
				drops.UnmappedPatient++
				n.log.WithFields(logrus.Fields{
					"source":      t.Source,
					"patient_ref": t.PatientRef,
				}).Debug("Dropping transplant with unmapped patient")
				continue
			}
		}

		modality := t.ModalityCode
		if !t.Canonical && t.Source == domain.SourceRR {
			m, ok := DeriveRRTransplantModality(t.TransplantType, t.TransplantRelationship, t.TransplantSex)
			if !ok {
				drops.UnmappedModality++
				n.log.WithFields(logrus.Fields{
					"source":       t.Source,
					"type":         t.TransplantType,
					"relationship": t.TransplantRelationship,
				}).Debug("Dropping transplant with underivable modality")
				continue
			}
			modality = m
		}

		groupID := t.UnitCode
		if !t.Canonical {
			groupID = n.ResolveSourceGroup(t.UnitCode)
		}

		date := t.TransplantDate
		out = append(out, domain.IntervalRecord{
			PatientID:  patientID,
			Modality:   modality,
			Source:     t.Source,
			SourceRank: domain.TransplantSourceRank(t.Source),
			RecordID:   t.RecordID,
			FromDate:   date,
			ToDate:     &date,
			CreatedAt:  copyTimePtr(t.CreatedAt),
			ModifiedAt: copyTimePtr(t.ModifiedAt),
			Payload: map[string]any{
				"source_group_id": groupID,
				"failure_date":    copyTimePtr(t.FailureDate),
			},
		})
	}

	if drops.Total() > 0 {
		n.log.WithFields(logrus.Fields{
			"unmapped_patient":  drops.UnmappedPatient,
			"unmapped_modality": drops.UnmappedModality,
		}).Warn("Dropped transplant rows during normalisation")
	}
	return out, drops
}
