package hl7v2

import (
	"fmt"
	"time"
)

// Observation is a single analyzer measurement extracted from an ORU^R01
// message. SampleBarcode comes from OBR-3.1 (filler order number), the rest
// from the OBX segment.
type Observation struct {
	SampleBarcode  string
	TestCode       string
	TestName       string
	ValueType      string // OBX-2: NM, ST, CE, TX...
	Value          string
	Units          string
	ReferenceRange string
	AbnormalFlag   string // OBX-8: H, L, HH, LL, N...
	ResultStatus   string // OBX-11: F, P, C
	ObservedAt     time.Time
}

// ObservationError records a segment that could not be decoded. The rest of
// the frame is still processed.
type ObservationError struct {
	SegmentIndex int
	Segment      string
	Reason       string
}

func (e ObservationError) Error() string {
	return fmt.Sprintf("hl7v2: segment %d (%s): %s", e.SegmentIndex, e.Segment, e.Reason)
}

// IsORU reports whether the message is an observation result (ORU^R01 or
// other ORU trigger).
func (m *Message) IsORU() bool {
	return len(m.Type) >= 3 && m.Type[:3] == "ORU"
}

// ExtractObservations walks an ORU message and returns one Observation per
// OBX segment. Each OBX is associated with the most recent preceding OBR; a
// malformed OBX produces an ObservationError entry instead of aborting the
// frame.
func (m *Message) ExtractObservations() ([]Observation, []ObservationError) {
	var (
		observations []Observation
		errs         []ObservationError
		sampleID     string
	)

	for i, seg := range m.Segments {
		switch seg.Name {
		case "OBR":
			sampleID = seg.GetComponent(3, 1)
		case "OBX":
			obs, err := decodeOBX(&m.Segments[i], sampleID)
			if err != "" {
				errs = append(errs, ObservationError{SegmentIndex: i, Segment: "OBX", Reason: err})
				continue
			}
			observations = append(observations, obs)
		}
	}

	return observations, errs
}

// decodeOBX maps one OBX segment to an Observation. It returns a non-empty
// reason string when the segment is unusable.
func decodeOBX(obx *Segment, sampleID string) (Observation, string) {
	testCode := obx.GetComponent(3, 1)
	if testCode == "" {
		return Observation{}, "missing observation identifier (OBX-3)"
	}

	value := obx.GetField(5)
	if value == "" {
		return Observation{}, fmt.Sprintf("missing observation value (OBX-5) for test %s", testCode)
	}

	obs := Observation{
		SampleBarcode:  sampleID,
		TestCode:       testCode,
		TestName:       obx.GetComponent(3, 2),
		ValueType:      obx.GetField(2),
		Value:          value,
		Units:          obx.GetComponent(6, 1),
		ReferenceRange: obx.GetField(7),
		AbnormalFlag:   obx.GetField(8),
		ResultStatus:   obx.GetField(11),
	}

	if ts := obx.GetField(14); ts != "" {
		if t, err := parseHL7Timestamp(ts); err == nil {
			obs.ObservedAt = t
		}
	}

	return obs, ""
}
