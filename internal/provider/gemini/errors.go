package gemini

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/api/googleapi"
	"google.golang.org/genai"

	"github.com/tatianab/storyforge/internal/provider"
)

// classify maps SDK errors onto provider kinds. Context errors pass through
// unchanged so callers can tell a cancel from a failure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fromStatus(apiErr.Code, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fromStatus(apiErrPtr.Code, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return fromStatus(gerr.Code, err)
	}
	var coded interface{ HTTPCode() int }
	if errors.As(err, &coded) && coded.HTTPCode() > 0 {
		return fromStatus(coded.HTTPCode(), err)
	}

	if provider.KindOf(err) == provider.KindTransient {
		return provider.Transient(err)
	}
	return provider.Invalid(err)
}

// fromStatus classifies an HTTP status. Gemini rejects an unknown key with
// 400 INVALID_ARGUMENT and reason API_KEY_INVALID rather than 401.
func fromStatus(status int, err error) error {
	if status == http.StatusBadRequest && keyRejected(err) {
		return &provider.Error{Kind: provider.KindAuth, Status: status, Err: err}
	}
	return provider.FromStatus(status, err)
}

func keyRejected(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "API_KEY_INVALID") || strings.Contains(msg, "API key not valid")
}
