package feelfit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"
)

// newTestClient builds a client pointed at a fake upstream server.
func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(zap.NewNop().Sugar(), "bob@x.com", Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
}

// writeEnvelope answers with the upstream {code, data} convention.
func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"code": "200", "data": data})
}

func TestAuthenticatedCallsRequireToken(t *testing.T) {
	called := false
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		writeEnvelope(w, map[string]any{})
	}))

	ctx := context.Background()
	calls := []struct {
		name string
		call func() error
	}{
		{"GetPrimaryUser", func() error { _, err := c.GetPrimaryUser(ctx); return err }},
		{"GetUserSettings", func() error { _, err := c.GetUserSettings(ctx); return err }},
		{"ListGoals", func() error { _, err := c.ListGoals(ctx, "1"); return err }},
		{"ListDeviceBinds", func() error { _, err := c.ListDeviceBinds(ctx); return err }},
		{"ListMeasurements", func() error { _, err := c.ListMeasurements(ctx, "1", 0, 0); return err }},
		{"ListAllProfiles", func() error { _, err := c.ListAllProfiles(ctx); return err }},
		{"FetchAll", func() error { _, err := c.FetchAll(ctx, nil); return err }},
	}
	for _, tc := range calls {
		err := tc.call()
		var authErr *AuthError
		if !errors.As(err, &authErr) {
			t.Errorf("%s without token: got %v, want AuthError", tc.name, err)
		}
	}
	if called {
		t.Error("server was contacted before authentication")
	}
}

func TestGetAppendsDefaultQueryParams(t *testing.T) {
	var gotQuery map[string]string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{}
		for k := range r.URL.Query() {
			gotQuery[k] = r.URL.Query().Get(k)
		}
		writeEnvelope(w, map[string]any{})
	}))
	c.Token = "tok"

	if _, err := c.GetUserSettings(context.Background()); err != nil {
		t.Fatalf("GetUserSettings() error = %v", err)
	}

	for k, want := range map[string]string{
		"app_id":       "Feelfit",
		"platform":     "android",
		"app_revision": "4.16.0",
	} {
		if gotQuery[k] != want {
			t.Errorf("query %s = %q, want %q", k, gotQuery[k], want)
		}
	}
}

func TestGetSendsBearerToken(t *testing.T) {
	var gotAuth string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		writeEnvelope(w, map[string]any{})
	}))
	c.Token = "secret-token"

	if _, err := c.GetUserSettings(context.Background()); err != nil {
		t.Fatalf("GetUserSettings() error = %v", err)
	}
	if gotAuth != "Bearer secret-token" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
	}
}

func TestEnvelopeUnwrap(t *testing.T) {
	tests := []struct {
		name string
		body string
		want map[string]any
	}{
		{
			name: "data object unwrapped",
			body: `{"code":"200","data":{"k":"v"}}`,
			want: map[string]any{"k": "v"},
		},
		{
			name: "null data becomes empty",
			body: `{"code":"200","data":null}`,
			want: map[string]any{},
		},
		{
			name: "no envelope returned as-is",
			body: `{"k":"v"}`,
			want: map[string]any{"k": "v"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}))
			c.Token = "tok"
			got, err := c.GetUserSettings(context.Background())
			if err != nil {
				t.Fatalf("GetUserSettings() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("got[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestRequestErrorCarriesStatusAndBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	c.Token = "tok"

	_, err := c.GetUserSettings(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("got %v, want RequestError", err)
	}
	if reqErr.Status != http.StatusInternalServerError {
		t.Errorf("Status = %d, want %d", reqErr.Status, http.StatusInternalServerError)
	}
	if reqErr.Body == "" {
		t.Error("Body is empty, want server payload")
	}
}

func TestRequestErrorOnBadJSON(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	c.Token = "tok"

	_, err := c.GetUserSettings(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("got %v, want RequestError", err)
	}
}

func TestCursorAccessorDefaults(t *testing.T) {
	c := NewClient(zap.NewNop().Sugar(), "bob@x.com", Config{})
	if upd, id := c.Cursor("unknown"); upd != 0 || id != 0 {
		t.Errorf("Cursor(unknown) = (%d, %d), want (0, 0)", upd, id)
	}
}

func TestAdvanceCursorMonotonic(t *testing.T) {
	c := NewClient(zap.NewNop().Sugar(), "bob@x.com", Config{})

	c.advanceCursor("1", 100, 5)
	if upd, id := c.Cursor("1"); upd != 100 || id != 5 {
		t.Fatalf("cursor = (%d, %d), want (100, 5)", upd, id)
	}

	// zero-valued response fields leave the cursor untouched
	c.advanceCursor("1", 0, 0)
	if upd, id := c.Cursor("1"); upd != 100 || id != 5 {
		t.Errorf("cursor after zero update = (%d, %d), want (100, 5)", upd, id)
	}

	// independent field advance
	c.advanceCursor("1", 200, 0)
	if upd, id := c.Cursor("1"); upd != 200 || id != 5 {
		t.Errorf("cursor after partial update = (%d, %d), want (200, 5)", upd, id)
	}
}
