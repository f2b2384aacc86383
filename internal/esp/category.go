package esp

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// categoryBlob is the JSON written by the ESP tracker into each
// <Category>.Status registry value.
type categoryBlob struct {
	CategoryState         *string         `json:"categoryState"`
	CategoryStatusMessage string          `json:"categoryStatusMessage"`
	CategoryStatusText    string          `json:"categoryStatusText"`
	CategorySucceeded     json.RawMessage `json:"categorySucceeded"`
}

// ParseCategory decodes one raw status blob. An empty blob means the
// category has not reported yet. Malformed JSON is recorded in Err and the
// category is treated as not started; it never aborts an evaluation.
func ParseCategory(raw string) CategoryStatus {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return CategoryStatus{State: StateNotStarted}
	}

	var blob categoryBlob
	if err := json.Unmarshal([]byte(raw), &blob); err != nil {
		return CategoryStatus{
			State: StateNotStarted,
			Err:   newError(KindParseFailure, "category status", fmt.Errorf("%w: %v", ErrMalformedStatus, err)),
		}
	}

	status := CategoryStatus{Message: firstNonEmpty(blob.CategoryStatusText, blob.CategoryStatusMessage)}

	for _, text := range []string{blob.CategoryStatusMessage, blob.CategoryStatusText} {
		switch {
		case strings.EqualFold(text, "Complete"):
			status.State = StateSucceeded
			return status
		case strings.EqualFold(text, "Failed"):
			status.State = StateFailed
			return status
		}
	}

	if succeeded(blob.CategorySucceeded) {
		status.State = StateSucceeded
		return status
	}

	if blob.CategoryState == nil {
		status.State = StateNotStarted
		return status
	}

	state := strings.TrimSpace(*blob.CategoryState)
	switch {
	case state == "", strings.EqualFold(state, string(StateNotStarted)):
		status.State = StateNotStarted
	case strings.EqualFold(state, string(StateInProgress)):
		status.State = StateInProgress
	case strings.EqualFold(state, string(StateSucceeded)):
		status.State = StateSucceeded
	case strings.EqualFold(state, string(StateFailed)):
		status.State = StateFailed
	default:
		status.State = StateUnknown
		if status.Message == "" {
			status.Message = state
		}
	}
	return status
}

// succeeded accepts both "True" and true; the tracker has written either.
func succeeded(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		return err == nil && v
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
