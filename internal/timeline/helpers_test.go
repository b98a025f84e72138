package timeline

import (
	"time"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

// Shared fixtures for the timeline tests.

func mustDate(s string) time.Time {
	t, err := time.Parse(domain.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// rec builds a treatment-ranked UKRDC record; to == "" means open-ended.
func rec(patient, modality, from, to string) domain.IntervalRecord {
	r := domain.IntervalRecord{
		PatientID:  patient,
		Modality:   modality,
		Source:     domain.SourceUKRDC,
		SourceRank: domain.TreatmentSourceRank(domain.SourceUKRDC),
		FromDate:   mustDate(from),
	}
	if to != "" {
		d := mustDate(to)
		r.ToDate = &d
	}
	return r
}

func withSource(r domain.IntervalRecord, s domain.Source) domain.IntervalRecord {
	r.Source = s
	r.SourceRank = domain.TreatmentSourceRank(s)
	return r
}

func withID(r domain.IntervalRecord, id string) domain.IntervalRecord {
	r.RecordID = id
	return r
}

func withProvenance(r domain.IntervalRecord, created, modified string) domain.IntervalRecord {
	if created != "" {
		c := mustDate(created)
		r.CreatedAt = &c
	}
	if modified != "" {
		m := mustDate(modified)
		r.ModifiedAt = &m
	}
	return r
}
