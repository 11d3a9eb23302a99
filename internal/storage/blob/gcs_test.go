package blob

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestGCSStoreStats(t *testing.T) {
	pages := map[string]map[string]interface{}{
		"": {
			"items": []map[string]interface{}{
				{"name": "attachments/m1/1_a.pdf", "bucket": "mail", "size": "100"},
				{"name": "attachments/m1/2_b.PDF", "bucket": "mail", "size": "50"},
			},
			"nextPageToken": "p2",
		},
		"p2": {
			"items": []map[string]interface{}{
				{"name": "attachments/m2/1_notes", "bucket": "mail", "size": "7"},
			},
		},
	}

	var prefixes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/storage/v1/b/mail/o", r.URL.Path)
		prefixes = append(prefixes, r.URL.Query().Get("prefix"))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pages[r.URL.Query().Get("pageToken")])
	}))
	t.Cleanup(srv.Close)

	s, err := NewGCSStore(context.Background(), "mail", "",
		option.WithEndpoint(srv.URL+"/storage/v1/"),
		option.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	stats, err := s.Stats(context.Background(), "attachments/")
	require.NoError(t, err)

	assert.Equal(t, 3, stats["object_count"])
	assert.Equal(t, int64(157), stats["total_size_bytes"])
	assert.Equal(t, map[string]int{".pdf": 2, "(none)": 1}, stats["by_extension"])
	assert.Equal(t, "mail", stats["bucket"])
	assert.Equal(t, []string{"attachments/", "attachments/"}, prefixes)
}
