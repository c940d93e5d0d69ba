package hl7v2

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Handler provides HTTP endpoints for inspecting raw analyzer traffic. These
// are operational tools: paste a captured frame and see how it parses and
// which observations it yields.
type Handler struct{}

// NewHandler creates a new HL7v2 handler.
func NewHandler() *Handler {
	return &Handler{}
}

// RegisterRoutes registers HL7v2 endpoints on the provided route group.
//
//	POST /api/v1/hl7v2/parse   - Parse HL7v2 message to JSON
//	POST /api/v1/hl7v2/decode  - Extract analyzer observations from an ORU frame
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/hl7v2/parse", h.ParseMessage)
	g.POST("/hl7v2/decode", h.DecodeObservations)
}

// segmentJSON is the JSON representation of a parsed segment.
type segmentJSON struct {
	Name   string      `json:"name"`
	Fields []fieldJSON `json:"fields"`
}

// fieldJSON is the JSON representation of a parsed field.
type fieldJSON struct {
	Value      string     `json:"value"`
	Components []string   `json:"components,omitempty"`
	Repeats    [][]string `json:"repeats,omitempty"`
}

// ParseMessage handles POST /api/v1/hl7v2/parse.
// It reads raw HL7v2 from the request body and returns parsed JSON.
func (h *Handler) ParseMessage(c echo.Context) error {
	msg, ok := readAndParse(c)
	if !ok {
		return nil
	}

	segments := make([]segmentJSON, len(msg.Segments))
	for i, seg := range msg.Segments {
		fields := make([]fieldJSON, len(seg.Fields))
		for j, f := range seg.Fields {
			fields[j] = fieldJSON{
				Value:      f.Value,
				Components: f.Components,
				Repeats:    f.Repeats,
			}
		}
		segments[i] = segmentJSON{
			Name:   seg.Name,
			Fields: fields,
		}
	}

	result := map[string]interface{}{
		"type":         msg.Type,
		"controlId":    msg.ControlID,
		"version":      msg.Version,
		"timestamp":    msg.Timestamp.Format("2006-01-02T15:04:05Z"),
		"sendingApp":   msg.SendingApp,
		"sendingFac":   msg.SendingFac,
		"receivingApp": msg.ReceivingApp,
		"receivingFac": msg.ReceivingFac,
		"segments":     segments,
	}

	return c.JSON(http.StatusOK, result)
}

// DecodeObservations handles POST /api/v1/hl7v2/decode.
// It reads a raw ORU frame and returns the observations it carries, along
// with per-segment decode errors.
func (h *Handler) DecodeObservations(c echo.Context) error {
	msg, ok := readAndParse(c)
	if !ok {
		return nil
	}

	if !msg.IsORU() {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "message type " + msg.Type + " is not an observation result",
		})
	}

	observations, errs := msg.ExtractObservations()
	errStrings := make([]string, len(errs))
	for i, e := range errs {
		errStrings[i] = e.Error()
	}

	family, given := msg.PatientName()
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patient": map[string]string{
			"id":            msg.PatientID(),
			"family_name":   family,
			"given_name":    given,
			"date_of_birth": msg.DateOfBirth(),
			"gender":        msg.Gender(),
		},
		"observations": observations,
		"errors":       errStrings,
	})
}

// readAndParse reads the request body and parses it as HL7v2. On failure it
// writes a JSON error response and reports ok=false.
func readAndParse(c echo.Context) (*Message, bool) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return nil, false
	}

	if len(body) == 0 {
		c.JSON(http.StatusBadRequest, map[string]string{
			"error": "request body is empty",
		})
		return nil, false
	}

	msg, err := Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse HL7v2 message: " + err.Error(),
		})
		return nil, false
	}

	return msg, true
}
