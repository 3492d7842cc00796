package graphapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/orgball2608/insta-metrics-collector/internal/instagram"
)

type graphError struct {
	Message      string `json:"message"`
	Type         string `json:"type"`
	Code         int    `json:"code"`
	ErrorSubcode int    `json:"error_subcode"`
}

type errorEnvelope struct {
	Error *graphError `json:"error"`
}

// classify maps a Graph API response to the source error taxonomy.
// A nil return means the body holds a regular payload.
func classify(resp *http.Response, body []byte) error {
	var env errorEnvelope
	_ = json.Unmarshal(body, &env)
	ge := env.Error

	if ge != nil {
		switch ge.Code {
		case 190, 102:
			return fmt.Errorf("%w: %s (code %d)", instagram.ErrAuthInvalid, ge.Message, ge.Code)
		case 4, 17, 32, 613:
			return &instagram.RateLimitedError{RetryAfter: retryAfter(resp.Header)}
		}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized && (ge == nil || ge.Type == "OAuthException"):
		return fmt.Errorf("%w: status %d", instagram.ErrAuthInvalid, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return &instagram.RateLimitedError{RetryAfter: retryAfter(resp.Header)}
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", instagram.ErrTransient, resp.StatusCode)
	case ge != nil:
		return fmt.Errorf("graph api error: %s (code %d, status %d)", ge.Message, ge.Code, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("graph api error: status %d", resp.StatusCode)
	}
	return nil
}

func retryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
