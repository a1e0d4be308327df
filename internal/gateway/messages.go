package gateway

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
)

var (
	fieldLineRe   = regexp.MustCompile(`^-\s*(\w+):\s*(.+)$`)
	messageLineRe = regexp.MustCompile(`message:\s*(.+?)(?:\n|$)`)
)

// UserMessage converts err into a short message suitable for showing to the user.
func UserMessage(err error) string {
	if err == nil {
		return "An unknown error occurred."
	}
	if errors.Is(err, ErrSessionExpired) {
		return "Your session has expired. Please log in again."
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "The request timed out. Please try again shortly."
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		if ne.Timeout() {
			return "The request timed out. Please try again shortly."
		}
		return "Please check your network connection."
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		return "Something went wrong. Please try again shortly."
	}

	msg := he.ServerMessage()
	switch {
	case he.Status == http.StatusBadRequest:
		if fields := validationMessages(string(he.Body)); len(fields) > 0 {
			return strings.Join(fields, ", ")
		}
		if m := messageLineRe.FindStringSubmatch(string(he.Body)); m != nil && msg == "" {
			return strings.TrimSpace(m[1])
		}
		if msg != "" {
			return msg
		}
		return "Please check the information you entered."
	case he.Status == http.StatusUnauthorized:
		if msg != "" {
			lower := strings.ToLower(msg)
			if strings.Contains(lower, "bad credentials") || strings.Contains(lower, "password") {
				return "Incorrect username or password."
			}
			return msg
		}
		return "Incorrect username or password."
	case he.Status == http.StatusForbidden:
		if msg != "" {
			return msg
		}
		return "You do not have permission to do that."
	case he.Status == http.StatusNotFound:
		if msg != "" {
			return msg
		}
		return "The requested item could not be found."
	case he.Status >= 500:
		return "The server is having a temporary problem. Please try again shortly."
	case msg != "":
		return msg
	}
	return "Something went wrong. Please try again shortly."
}

// FieldErrors extracts per-field validation messages from a 400 body of the form
// "message: ...\nerrors:\n - field: error". Returns an empty map otherwise.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var he *HTTPError
	if !errors.As(err, &he) || he.Status != http.StatusBadRequest {
		return out
	}
	for _, line := range strings.Split(string(he.Body), "\n") {
		if m := fieldLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out[m[1]] = strings.TrimSpace(m[2])
		}
	}
	return out
}

func validationMessages(body string) []string {
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if m := fieldLineRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			out = append(out, strings.TrimSpace(m[2]))
		}
	}
	return out
}
