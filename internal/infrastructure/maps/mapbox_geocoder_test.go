package maps

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapboxGeocoder_ReverseGeocode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/geocoding/v5/mapbox.places/139.767100,35.681200.json", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("access_token"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"features":[{"place_name":"Marunouchi, Chiyoda, Tokyo, Japan"}]}`))
	}))
	defer srv.Close()

	g := NewMapboxGeocoder("test-token", srv.URL, time.Second)
	address, err := g.ReverseGeocode(context.Background(), 139.7671, 35.6812)
	require.NoError(t, err)
	assert.Equal(t, "Marunouchi, Chiyoda, Tokyo, Japan", address)
}

func TestMapboxGeocoder_Errors(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[]}`))
	}))
	defer empty.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer failing.Close()

	_, err := NewMapboxGeocoder("", empty.URL, time.Second).ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)

	_, err = NewMapboxGeocoder("token", empty.URL, time.Second).ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)

	_, err = NewMapboxGeocoder("token", failing.URL, time.Second).ReverseGeocode(context.Background(), 0, 0)
	assert.Error(t, err)
}
