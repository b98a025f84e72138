package normalize

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/renalreg/radar-timeline-data/internal/domain"
)

const defaultGroupCacheSize = 4096

// Mappings holds the registry lookup tables loaded once per run. Keys are the
// external codes as reported by each registry; values are canonical ids.
type Mappings struct {
	// UKRDCToPatient maps a ukrdcid to the canonical patient id.
	UKRDCToPatient map[string]string
	// RRToPatient maps an rr_no to the canonical patient id.
	RRToPatient map[string]string
	// SatelliteToMain maps a satellite dialysis unit code to its main unit code.
	SatelliteToMain map[string]string
	// GroupCodeToID maps a unit code to the internal source group id.
	GroupCodeToID map[string]string
	// ModalityByRegistryCode maps a registry treatment code to the
	// equivalent internal modality code.
	ModalityByRegistryCode map[string]string
}

// RawTreatment is a registry treatment row before canonicalisation. Patient
// and unit references are still in the source registry's code space unless
// Canonical is set; rows read back from the canonical database were already
// translated when they were first imported.
type RawTreatment struct {
	PatientRef      string
	Source          domain.Source
	RecordID        string
	ModalityCode    string
	SourceGroupCode string
	FromDate        time.Time
	ToDate          *time.Time
	CreatedAt       *time.Time
	ModifiedAt      *time.Time
	Canonical       bool
}

// DropCounts records how many rows each normalisation step discarded. Dropped
// rows are data the registries sent but the canonical model cannot represent;
// they are counted and logged, never silently lost.
type DropCounts struct {
	UnmappedPatient  int
	UnmappedModality int
}

func (d DropCounts) Total() int { return d.UnmappedPatient + d.UnmappedModality }

// Normalizer converts raw registry rows into canonical interval records. It
// is safe for use from a single run goroutine; lookups behind the group cache
// are read-only after construction.
type Normalizer struct {
	maps   Mappings
	groups *lru.Cache[string, string]
	log    *logrus.Logger
}

// NewNormalizer creates a normalizer over one run's mappings. cacheSize
// bounds the unit lookup cache; values at or below zero fall back to the
// default.
func NewNormalizer(maps Mappings, cacheSize int, logger *logrus.Logger) (*Normalizer, error) {
	if cacheSize <= 0 {
		cacheSize = defaultGroupCacheSize
	}
	cache, err := lru.New[string, string](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating group cache: %w", err)
	}
	return &Normalizer{maps: maps, groups: cache, log: logger}, nil
}

// ResolvePatient maps a registry patient reference to the canonical patient
// id. References from the canonical system pass through unchanged.
func (n *Normalizer) ResolvePatient(source domain.Source, ref string) (string, bool) {
	switch source {
	case domain.SourceUKRDC:
		id, ok := n.maps.UKRDCToPatient[ref]
		return id, ok
	case domain.SourceRR, domain.SourceNHSBT:
		id, ok := n.maps.RRToPatient[ref]
		return id, ok
	default:
		return ref, ref != ""
	}
}

// ResolveSourceGroup maps a unit code to a source group id, folding satellite
// units into their main unit first. Unknown codes resolve to the empty id.
func (n *Normalizer) ResolveSourceGroup(code string) string {
	if code == "" {
		return ""
	}
	if id, ok := n.groups.Get(code); ok {
		return id
	}
	unit := code
	if main, ok := n.maps.SatelliteToMain[code]; ok {
		unit = main
	}
	id := n.maps.GroupCodeToID[unit]
	n.groups.Add(code, id)
	return id
}

// TranslateModality maps a registry treatment code to the internal modality.
func (n *Normalizer) TranslateModality(registryCode string) (string, bool) {
	m, ok := n.maps.ModalityByRegistryCode[registryCode]
	return m, ok
}

// Treatments canonicalises a batch of raw treatment rows. Rows whose patient
// or modality cannot be mapped are dropped and counted; everything else comes
// back as interval records ready for consolidation.
func (n *Normalizer) Treatments(raw []RawTreatment) ([]domain.IntervalRecord, DropCounts) {
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
				}).Debug("Dropping treatment with unmapped patient")
				continue
			}
		}

		modality := t.ModalityCode
		if !t.Canonical && (t.Source == domain.SourceUKRDC || t.Source == domain.SourceRR) {
			m, ok := n.TranslateModality(t.ModalityCode)
			if !ok {
				drops.UnmappedModality++
				n.log.WithFields(logrus.Fields{
					"source":   t.Source,
					"modality": t.ModalityCode,
				}).Debug("Dropping treatment with unmapped modality")
				continue
			}
			modality = m
		}

		groupID := t.SourceGroupCode
		if !t.Canonical {
			groupID = n.ResolveSourceGroup(t.SourceGroupCode)
		}

		out = append(out, domain.IntervalRecord{
			PatientID:  patientID,
			Modality:   modality,
			Source:     t.Source,
			SourceRank: domain.TreatmentSourceRank(t.Source),
			RecordID:   t.RecordID,
			FromDate:   t.FromDate,
			ToDate:     copyTimePtr(t.ToDate),
			CreatedAt:  copyTimePtr(t.CreatedAt),
			ModifiedAt: copyTimePtr(t.ModifiedAt),
			Payload: map[string]any{
				"source_group_id": groupID,
			},
		})
	}

	if drops.Total() > 0 {
		n.log.WithFields(logrus.Fields{
			"unmapped_patient":  drops.UnmappedPatient,
			"unmapped_modality": drops.UnmappedModality,
		}).Warn("Dropped treatment rows during normalisation")
	}
	return out, drops
}

func copyTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	d := *t
	return &d
}
