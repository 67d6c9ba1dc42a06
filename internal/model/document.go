package model

import (
	"encoding/base64"
	"time"
)

// NotAvailable is the sentinel the models understand as "no value".
const NotAvailable = "N/A"

// Supported image MIME types.
const (
	MIMEJPEG = "image/jpeg"
	MIMEPNG  = "image/png"
)

// Values holds named field values for one inference call, either the
// inputs sent to the model or the typed outputs decoded from its answer.
type Values map[string]any

// Image is a binary image payload with its detected MIME type.
type Image struct {
	Data []byte `json:"-"`
	MIME string `json:"mime"`
}

// Base64 returns the standard base64 encoding of the image bytes.
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// MediaType returns the MIME type, defaulting to JPEG.
func (i Image) MediaType() string {
	if i.MIME == "" {
		return MIMEJPEG
	}
	return i.MIME
}

// DataURL returns the image as a data: URL.
func (i Image) DataURL() string {
	return "data:" + i.MediaType() + ";base64," + i.Base64()
}

// Document is one unit of work: an identification-document image plus an
// optional reference transcription.
type Document struct {
	ID            string         `json:"id"`
	Image         Image          `json:"image"`
	ReferenceText string         `json:"reference_text"`
	Source        string         `json:"source,omitempty"` // file path for directory inputs
	Input         map[string]any `json:"input,omitempty"`  // dataset line minus the image

	// Invalid is set when the source could not read the document; such a
	// document fails without reaching the pipeline.
	Invalid error `json:"-"`
}

// ErrorCheck is the decoded output of the verification call.
type ErrorCheck struct {
	Reasoning     string  `json:"reasoning"`
	HasErrors     bool    `json:"has_errors"`
	ErrorFeedback string  `json:"error_feedback"`
	Score         float64 `json:"score"`
}

// PipelineResult is the outcome of one pipeline run. FinalPass is nil unless
// ErrorCheck.HasErrors is true.
type PipelineResult struct {
	FirstPass      Values     `json:"first_pass"`
	ErrorCheck     ErrorCheck `json:"error_check"`
	FinalPass      Values     `json:"final_pass"`
	PIIExtraction  string     `json:"pii_extraction,omitempty"`
	Identification string     `json:"identification,omitempty"`
	Calls          int        `json:"-"`
}

// Authoritative returns the pass the caller should trust: the retried pass
// when one was made, otherwise the first pass.
func (r *PipelineResult) Authoritative() Values {
	if r.FinalPass != nil {
		return r.FinalPass
	}
	return r.FirstPass
}

// OutputRecord is the envelope persisted as one line of the output file.
type OutputRecord struct {
	ID        string          `json:"id"`
	Filename  string          `json:"filename,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Results   *PipelineResult `json:"results"`
}

// NewOutputRecord wraps a pipeline result for the given document.
func NewOutputRecord(doc Document, result *PipelineResult, now time.Time) OutputRecord {
	return OutputRecord{
		ID:        doc.ID,
		Filename:  doc.Source,
		Input:     doc.Input,
		Timestamp: now,
		Results:   result,
	}
}
