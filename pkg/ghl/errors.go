package ghl

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// RateLimitError is returned after the retry ladder for 429 responses is
// exhausted. The request was never silently dropped; Attempts records how
// many times it was tried.
type RateLimitError struct {
	Method   string
	Path     string
	Attempts int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("ghl: %s %s rate limited after %d attempts", e.Method, e.Path, e.Attempts)
}

// ValidationError is a non-retryable rejection from the upstream API (4xx).
// Duplicate marks the specific "contact already has an opportunity in this
// pipeline" rejection, which callers treat as a skip rather than a failure.
type ValidationError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
	Duplicate  bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("ghl: %s %s rejected (%d): %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// IsRateLimited reports whether err is a rate-limit exhaustion.
func IsRateLimited(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

// IsValidation reports whether err is an upstream validation rejection.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsDuplicateOpportunity reports whether err is the duplicate-opportunity
// validation rejection.
func IsDuplicateOpportunity(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Duplicate
}

// duplicateOpportunityBody matches the upstream error body for "this contact
// already has an opportunity in this pipeline". The API signals the condition
// only through free-text wording, so the heuristic is isolated here and fails
// safe: an unrecognized body classifies as a plain validation error.
func duplicateOpportunityBody(body []byte) bool {
	var parsed struct {
		ContactID struct {
			Message string `json:"message"`
		} `json:"contactId"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		if strings.Contains(strings.ToLower(parsed.ContactID.Message), "already opportunity exists") {
			return true
		}
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "already opportunity exists") ||
		strings.Contains(lower, "opportunity already exists")
}

// validationMessage extracts a human-readable reason from an error body,
// falling back to the raw body text.
func validationMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil {
		for _, m := range []string{parsed.Message, parsed.Msg, parsed.Error} {
			if m != "" {
				return m
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		return "request rejected"
	}
	if len(msg) > 300 {
		msg = msg[:300]
	}
	return msg
}
