package hl7v2

import (
	"strings"
	"testing"
)

func TestGenerateWorklistORM(t *testing.T) {
	order := WorklistOrder{
		OrderNo:       "ORD-2025-0042",
		SampleBarcode: "SAMPLE042",
		PatientID:     "P12345",
		PatientFamily: "Doe",
		PatientGiven:  "Jane",
		BirthDate:     "19800101",
		Gender:        "F",
		Tests: []WorklistTest{
			{Code: "GLU", Name: "Glucose"},
			{Code: "CREA", Name: "Creatinine"},
		},
	}

	data, err := GenerateWorklistORM(order)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	text := string(data)
	segments := strings.Split(text, "\r")

	// MSH + PID + 2 x (ORC + OBR)
	if len(segments) != 6 {
		t.Fatalf("expected 6 segments, got %d: %q", len(segments), text)
	}
	if !strings.Contains(segments[0], "ORM^O01") {
		t.Errorf("expected ORM^O01 in MSH, got %q", segments[0])
	}
	if !strings.Contains(segments[1], "Doe^Jane") {
		t.Errorf("expected patient name in PID, got %q", segments[1])
	}
	if !strings.Contains(segments[2], "SAMPLE042") {
		t.Errorf("expected sample barcode in ORC, got %q", segments[2])
	}
	if !strings.Contains(segments[3], "GLU^Glucose") {
		t.Errorf("expected test code in OBR, got %q", segments[3])
	}
	if !strings.Contains(segments[5], "CREA^Creatinine") {
		t.Errorf("expected second test in OBR, got %q", segments[5])
	}

	// Generated message must round-trip through the parser.
	msg, err := Parse(data)
	if err != nil {
		t.Fatalf("generated message failed to parse: %v", err)
	}
	if msg.Type != "ORM^O01" {
		t.Errorf("expected ORM^O01, got %s", msg.Type)
	}
}

func TestGenerateWorklistORM_RequiresBarcode(t *testing.T) {
	_, err := GenerateWorklistORM(WorklistOrder{
		OrderNo: "ORD-1",
		Tests:   []WorklistTest{{Code: "GLU", Name: "Glucose"}},
	})
	if err == nil {
		t.Fatal("expected error for missing barcode")
	}
}

func TestGenerateWorklistORM_RequiresTests(t *testing.T) {
	_, err := GenerateWorklistORM(WorklistOrder{
		OrderNo:       "ORD-1",
		SampleBarcode: "S1",
	})
	if err == nil {
		t.Fatal("expected error for empty test list")
	}
}

func TestGenerateWorklistORM_EscapesSpecialCharacters(t *testing.T) {
	data, err := GenerateWorklistORM(WorklistOrder{
		OrderNo:       "ORD|1",
		SampleBarcode: "S^1",
		Tests:         []WorklistTest{{Code: "GLU", Name: "Glucose"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\\F\\") {
		t.Error("expected field separator to be escaped")
	}
	if !strings.Contains(text, "\\S\\") {
		t.Error("expected component separator to be escaped")
	}
}
