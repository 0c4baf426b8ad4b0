package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"kesefly/internal/core"
)

const maxBodyBytes = 1 << 20

// DecodeBody reads a JSON or form-encoded body into dst. Form values are
// mapped onto the json field names of dst, so both encodings share one
// request struct.
func DecodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" {
		if err := r.ParseForm(); err != nil {
			return bodyError(err)
		}
		raw, err := json.Marshal(formObject(r.PostForm))
		if err != nil {
			return bodyError(err)
		}
		return bodyError(json.Unmarshal(raw, dst))
	}

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return core.NewValidationError("body", "request body is empty")
		}
		return bodyError(err)
	}
	return nil
}

// formObject keeps the first value of each key. Numeric-looking values
// stay strings; decimal fields accept quoted numbers.
func formObject(form url.Values) map[string]any {
	obj := make(map[string]any, len(form))
	for k, v := range form {
		if len(v) > 0 {
			obj[k] = strings.TrimSpace(v[0])
		}
	}
	return obj
}

func bodyError(err error) error {
	if err == nil {
		return nil
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return core.NewValidationError("body", "request body too large")
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return core.NewValidationError(typeErr.Field, "invalid value")
	}
	return core.NewValidationError("body", "malformed request body")
}

// QueryScope reads ?scope=, falling back to def.
func QueryScope(query url.Values, def core.Scope) (core.Scope, error) {
	scope, err := core.ParseScope(query.Get("scope"), def)
	if err != nil {
		return "", core.FieldError(err)
	}
	return scope, nil
}

// ParseYear validates a four-digit year from a path or query value. An
// empty value yields def.
func ParseYear(field, raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	y, err := strconv.Atoi(raw)
	if err != nil || y < 1970 || y > 9999 {
		return 0, core.NewValidationError(field, "invalid year")
	}
	return y, nil
}

// ParseMonthParams reads yearKey and monthKey from the query, defaulting
// each to the month of now.
func ParseMonthParams(query url.Values, yearKey, monthKey string, now time.Time) (core.YearMonth, error) {
	ym := core.YearMonthOf(now)
	year, err := ParseYear(yearKey, query.Get(yearKey), ym.Year)
	if err != nil {
		return core.YearMonth{}, err
	}
	ym.Year = year
	if v := strings.TrimSpace(query.Get(monthKey)); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return core.YearMonth{}, core.NewValidationError(monthKey, "invalid month")
		}
		ym.Month = m
	}
	return ym, nil
}

// APIKey returns the key from the x-api-key header or the apiKey query
// parameter.
func APIKey(r *http.Request) string {
	if k := strings.TrimSpace(r.Header.Get("x-api-key")); k != "" {
		return k
	}
	return strings.TrimSpace(r.URL.Query().Get("apiKey"))
}
