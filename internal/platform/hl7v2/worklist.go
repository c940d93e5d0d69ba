package hl7v2

import (
	"fmt"
	"strings"
	"time"
)

// WorklistOrder describes a pending order to be downloaded to an analyzer as
// an ORM^O01 message.
type WorklistOrder struct {
	OrderNo       string
	SampleBarcode string
	PatientID     string
	PatientFamily string
	PatientGiven  string
	BirthDate     string // YYYYMMDD
	Gender        string // M/F/O/U
	Tests         []WorklistTest
}

// WorklistTest is a single requested test on a worklist order.
type WorklistTest struct {
	Code string
	Name string
}

// GenerateWorklistORM builds an ORM^O01 message for the given order. One
// ORC/OBR pair is emitted per requested test.
func GenerateWorklistORM(order WorklistOrder) ([]byte, error) {
	if order.SampleBarcode == "" {
		return nil, fmt.Errorf("hl7v2: worklist order requires a sample barcode")
	}
	if len(order.Tests) == 0 {
		return nil, fmt.Errorf("hl7v2: worklist order %s has no tests", order.OrderNo)
	}

	now := time.Now().UTC()
	timestamp := now.Format("20060102150405")
	controlID := fmt.Sprintf("WL%s", now.Format("20060102150405.000"))

	var segments []string

	segments = append(segments, fmt.Sprintf(
		"MSH|^~\\&|LIS|LAB|ANALYZER|LAB|%s||ORM^O01|%s|P|2.5.1",
		timestamp, controlID))

	segments = append(segments, fmt.Sprintf(
		"PID|1||%s||%s^%s||%s|%s",
		escapeHL7(order.PatientID),
		escapeHL7(order.PatientFamily), escapeHL7(order.PatientGiven),
		order.BirthDate, order.Gender))

	for i, test := range order.Tests {
		segments = append(segments, fmt.Sprintf(
			"ORC|NW|%s|%s|||||||%s",
			escapeHL7(order.OrderNo), escapeHL7(order.SampleBarcode), timestamp))
		segments = append(segments, fmt.Sprintf(
			"OBR|%d|%s|%s|%s^%s|||%s",
			i+1,
			escapeHL7(order.OrderNo), escapeHL7(order.SampleBarcode),
			escapeHL7(test.Code), escapeHL7(test.Name),
			timestamp))
	}

	return []byte(strings.Join(segments, "\r")), nil
}

// escapeHL7 escapes HL7 special characters in a string.
// The HL7 escape sequences are:
//
//	\F\ = |  (field separator)
//	\S\ = ^  (component separator)
//	\R\ = ~  (repetition separator)
//	\E\ = \  (escape character)
//	\T\ = &  (subcomponent separator)
func escapeHL7(s string) string {
	// Escape backslash first to avoid double-escaping
	s = strings.ReplaceAll(s, "\\", "\\E\\")
	s = strings.ReplaceAll(s, "|", "\\F\\")
	s = strings.ReplaceAll(s, "^", "\\S\\")
	s = strings.ReplaceAll(s, "~", "\\R\\")
	s = strings.ReplaceAll(s, "&", "\\T\\")
	return s
}
