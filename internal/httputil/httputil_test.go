package httputil

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONError(rec, http.StatusTeapot, "short and stout")

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "short and stout", body["error"])
}

func TestWriteJSONErrorFields(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSONErrorFields(rec, http.StatusUnprocessableEntity, "missing", map[string]string{
		"missing_feature": "blink_rate",
		"error":           "overridden",
	})

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "missing", body["error"])
	assert.Equal(t, "blink_rate", body["missing_feature"])
}

func TestHelpersStatusCodes(t *testing.T) {
	tests := []struct {
		fn   func(http.ResponseWriter, string)
		want int
	}{
		{BadRequest, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{Conflict, http.StatusConflict},
		{InternalServerError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		tt.fn(rec, "x")
		assert.Equal(t, tt.want, rec.Code)
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}
	tests := []struct {
		name       string
		body       string
		allowEmpty bool
		wantErr    string
		want       string
	}{
		{name: "ok", body: `{"name":"a"}`, want: "a"},
		{name: "empty allowed", body: "", allowEmpty: true},
		{name: "empty rejected", body: "", wantErr: "empty"},
		{name: "bad json", body: `{"name":`, wantErr: "invalid JSON"},
		{name: "trailing", body: `{"name":"a"} {"name":"b"}`, wantErr: "unexpected data"},
		{name: "too large", body: `{"name":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, wantErr: "exceeds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), req, &p, tt.allowEmpty)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Name)
		})
	}
}

func TestJSONClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/echo":
			var in map[string]int
			_ = json.NewDecoder(r.Body).Decode(&in)
			in["n"]++
			WriteJSONOK(w, in)
		case "/conflict":
			Conflict(w, "already running")
		default:
			http.Error(w, "plain failure", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := NewJSONClient(srv.URL+"/", nil)

	var out map[string]int
	require.NoError(t, c.Post("/echo", map[string]int{"n": 1}, &out))
	assert.Equal(t, 2, out["n"])

	err := c.Post("/conflict", nil, nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.Equal(t, "already running", se.Message)

	err = c.Get("/other", nil)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.Equal(t, "plain failure", se.Message)
}
