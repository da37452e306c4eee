package ingest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		req    interface{}
		fields []string
	}{
		{
			name: "valid page view",
			req:  &PageViewRequest{Domain: strPtr("example.com"), Path: strPtr("/")},
		},
		{
			name:   "missing path",
			req:    &PageViewRequest{Domain: strPtr("example.com")},
			fields: []string{"path"},
		},
		{
			name:   "visitor id too long",
			req:    &PageViewRequest{Domain: strPtr("a"), Path: strPtr("/"), VisitorID: string(make([]byte, 129))},
			fields: []string{"visitor_id"},
		},
		{
			name: "valid download",
			req:  &DownloadRequest{AppName: strPtr("app")},
		},
		{
			name: "empty app name is present",
			req:  &DownloadRequest{AppName: strPtr("")},
		},
		{
			name:   "missing app name",
			req:    &DownloadRequest{Version: "1.0"},
			fields: []string{"app_name"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.req)
			if len(tt.fields) == 0 {
				require.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			for _, f := range tt.fields {
				require.Contains(t, verr.Fields, f)
			}
			require.Contains(t, err.Error(), "invalid event")
		})
	}
}

func TestPageViewDefaults(t *testing.T) {
	pv := PageViewRequest{Domain: strPtr("example.com"), Path: strPtr("/")}.PageView()
	require.Equal(t, "", pv.VisitorID)
	require.Equal(t, "", pv.Referrer)
	require.Zero(t, pv.ID)
}

func TestDownloadDefaults(t *testing.T) {
	d := DownloadRequest{AppName: strPtr("")}.Download()
	require.Equal(t, "", d.AppName)
	require.Equal(t, "", d.Platform)
	require.Zero(t, d.ID)
}
