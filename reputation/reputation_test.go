// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package reputation_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lakayvote/intake/mocks"
	"github.com/lakayvote/intake/reputation"
)

func TestHTTPLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/203.0.113.7":
			w.Write([]byte(`{"isProxy": true, "geoCountry": "us"}`))
		case "/198.51.100.1":
			w.WriteHeader(http.StatusNotFound)
		case "/192.0.2.1":
			w.Write([]byte(`not json`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	lookup := reputation.NewHTTPLookup(srv.URL+"/", time.Second)
	ctx := context.Background()

	report, err := lookup.Lookup(ctx, "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, reputation.Report{Known: true, IsProxy: true, GeoCountry: "US"}, report)

	report, err = lookup.Lookup(ctx, "198.51.100.1")
	require.NoError(t, err)
	assert.False(t, report.Known)

	_, err = lookup.Lookup(ctx, "192.0.2.1")
	assert.Error(t, err)

	_, err = lookup.Lookup(ctx, "10.0.0.1")
	assert.Error(t, err)
}

func TestSafe_DegradesToUnknown(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inner := mocks.NewMockLookup(ctrl)
	inner.EXPECT().Lookup(gomock.Any(), "203.0.113.7").Return(reputation.Report{}, errors.New("dns failure"))
	inner.EXPECT().Lookup(gomock.Any(), "198.51.100.1").Return(reputation.Report{Known: true, GeoCountry: "HT"}, nil)

	safe := reputation.NewSafe(inner, time.Second, zaptest.NewLogger(t))

	report, err := safe.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, reputation.Report{}, report)

	report, err = safe.Lookup(context.Background(), "198.51.100.1")
	require.NoError(t, err)
	assert.Equal(t, "HT", report.GeoCountry)
}

func TestSafe_Timeout(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	inner := mocks.NewMockLookup(ctrl)
	inner.EXPECT().Lookup(gomock.Any(), gomock.Any()).DoAndReturn(
		func(ctx context.Context, ip string) (reputation.Report, error) {
			<-ctx.Done()
			return reputation.Report{}, ctx.Err()
		})

	safe := reputation.NewSafe(inner, 10*time.Millisecond, zaptest.NewLogger(t))
	report, err := safe.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, report.Known)
}

func TestUnknown(t *testing.T) {
	report, err := reputation.Unknown{}.Lookup(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, report.Known)
}
