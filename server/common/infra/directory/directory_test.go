package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"negotiation_server/server/common/errs"
)

func TestCheckPartiesOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, BasePath+"/parties/check", r.URL.Path)
		var p Parties
		require.NoError(t, json.NewDecoder(r.Body).Decode(&p))
		ok := p.ContextID == "hall-1"
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": ok, "missing": "hall"})
	}))
	defer srv.Close()

	svc := NewService(NewClient(Options{}, srv.URL))
	require.NoError(t, svc.CheckParties(context.Background(), Parties{ContextKind: "hall", ContextID: "hall-1"}))

	err := svc.CheckParties(context.Background(), Parties{ContextKind: "hall", ContextID: "hall-9"})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
	assert.Contains(t, err.Error(), "hall-9")
}

func TestIsPaidClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		switch body["user_id"] {
		case "paid":
			_ = json.NewEncoder(w).Encode(map[string]bool{"paid": true, "verified": true})
		case "unverified":
			_ = json.NewEncoder(w).Encode(map[string]bool{"paid": true, "verified": false})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	svc := NewService(NewClient(Options{}, srv.URL))
	ctx := context.Background()

	ok, err := svc.IsPaidClient(ctx, "a1", "paid")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.IsPaidClient(ctx, "a1", "unverified")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.IsPaidClient(ctx, "a1", "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClientFailsOverAndReportsNetworkError(t *testing.T) {
	var badHits int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&badHits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
	}))
	defer good.Close()

	client := NewClient(Options{FailThreshold: 1}, bad.URL, good.URL)
	for i := 0; i < 4; i++ {
		var out map[string]bool
		require.NoError(t, client.Post(context.Background(), "/x", map[string]string{}, &out))
		assert.True(t, out["ok"])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&badHits), "failing endpoint should be cooling down")

	onlyBad := NewClient(Options{}, bad.URL)
	var out map[string]bool
	err := onlyBad.Post(context.Background(), "/x", map[string]string{}, &out)
	assert.True(t, errors.Is(err, errs.ErrNetwork))
}

func TestClientWithoutEndpoints(t *testing.T) {
	err := NewClient(Options{}).Post(context.Background(), "/x", nil, nil)
	assert.True(t, errors.Is(err, errs.ErrNetwork))
}
