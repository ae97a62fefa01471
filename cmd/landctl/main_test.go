package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSessionClosesOnError(t *testing.T) {
	var closed []string
	open := func() (*session, error) {
		return &session{closers: []func(){
			func() { closed = append(closed, "sqlite") },
			func() { closed = append(closed, "redis") },
		}}, nil
	}

	err := runSession(context.Background(), "unknown", nil, open)
	require.Error(t, err)
	assert.Equal(t, []string{"redis", "sqlite"}, closed, "開いた逆順に閉じる")

	err = runSession(context.Background(), "profile", nil, func() (*session, error) {
		return nil, errors.New("open failed")
	})
	assert.EqualError(t, err, "open failed")
}

func TestParsePoint(t *testing.T) {
	lng, lat, err := parsePoint("139.7671, 35.6812")
	require.NoError(t, err)
	assert.Equal(t, 139.7671, lng)
	assert.Equal(t, 35.6812, lat)

	for _, in := range []string{"", "139.7", "a,1", "1,b", "-1e15,10", "181,0", "0,-90.5", "NaN,0", "Inf,0"} {
		_, _, err := parsePoint(in)
		assert.Errorf(t, err, "input %q should fail", in)
	}
}
