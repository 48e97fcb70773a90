package handlers

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestValidateCSRF(t *testing.T) {
	h := &Handler{}
	token, err := csrf.issue()
	if err != nil {
		t.Fatal(err)
	}
	other, _ := csrf.issue()

	multipartBody := func(fields map[string]string) (string, string) {
		var body bytes.Buffer
		mw := multipart.NewWriter(&body)
		for k, v := range fields {
			mw.WriteField(k, v)
		}
		mw.Close()
		return body.String(), mw.FormDataContentType()
	}

	tests := []struct {
		name        string
		method      string
		cookie      string
		header      string
		body        string
		contentType string
		want        bool
	}{
		{name: "GET needs no token", method: http.MethodGet, want: true},
		{name: "missing cookie", method: http.MethodPost, header: token, want: false},
		{name: "header token", method: http.MethodPost, cookie: token, header: token, want: true},
		{
			name: "urlencoded token", method: http.MethodPost, cookie: token,
			body:        url.Values{csrfFormField: {token}}.Encode(),
			contentType: "application/x-www-form-urlencoded",
			want:        true,
		},
		{name: "multipart token", method: http.MethodPost, cookie: token, contentType: "multipart", want: true},
		{name: "token differs from cookie", method: http.MethodPost, cookie: token, header: other, want: false},
		{name: "unknown token", method: http.MethodPost, cookie: "forged", header: "forged", want: false},
		{name: "empty token", method: http.MethodPost, cookie: token, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body, contentType := tt.body, tt.contentType
			if contentType == "multipart" {
				body, contentType = multipartBody(map[string]string{csrfFormField: token, "job_criteria": "{}"})
			}

			req := httptest.NewRequest(tt.method, "/criteria/update", strings.NewReader(body))
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeader, tt.header)
			}

			if got := h.validateCSRF(req); got != tt.want {
				t.Errorf("validateCSRF() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateCSRF_MultipartKeepsFields(t *testing.T) {
	h := &Handler{}
	token, _ := csrf.issue()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField(csrfFormField, token)
	mw.WriteField("job_criteria", `{"skills":["go"]}`)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/criteria/update", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: token})

	if !h.validateCSRF(req) {
		t.Fatal("multipart token should validate")
	}
	if got := req.FormValue("job_criteria"); got != `{"skills":["go"]}` {
		t.Errorf("job_criteria = %q after validation", got)
	}
}

func TestTokenStore_Expiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := newTokenStore()
	s.now = func() time.Time { return now }

	token, err := s.issue()
	if err != nil {
		t.Fatal(err)
	}
	if !s.valid(token) {
		t.Fatal("fresh token should be valid")
	}

	now = now.Add(csrfMaxAge - time.Second)
	if removed := s.sweep(); removed != 0 {
		t.Errorf("sweep removed %d live tokens", removed)
	}

	now = now.Add(time.Second)
	if s.valid(token) {
		t.Error("token should expire after csrfMaxAge")
	}
	if removed := s.sweep(); removed != 1 {
		t.Errorf("sweep removed %d, want 1", removed)
	}
}
