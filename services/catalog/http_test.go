package catalogsvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
	testutil "github.com/trezcool/karibu/tests"
)

var ctx = context.Background()

func newCatalog(t *testing.T, handler http.HandlerFunc) *httpCatalog {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := testutil.NewConfig()
	conf.Catalog.BaseURL = srv.URL
	conf.Catalog.Timeout = 2 * time.Second
	return NewHTTPCatalog(conf)
}

func Test_httpCatalog_Modules(t *testing.T) {
	cat := newCatalog(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != modulesPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": "m1", "is_required": true, "points": 100, "order": 1},
			{"id": "m2", "is_required": false, "points": 50, "order": 2}
		]`))
	})

	mods, err := cat.Modules(ctx)
	if err != nil {
		t.Fatalf("Modules() failed: %v", err)
	}
	want := []progress.Module{
		{ID: "m1", IsRequired: true, Points: 100, Order: 1},
		{ID: "m2", IsRequired: false, Points: 50, Order: 2},
	}
	if len(mods) != len(want) {
		t.Fatalf("Modules() = %+v, want %+v", mods, want)
	}
	for i, m := range mods {
		if m != want[i] {
			t.Errorf("modules[%d] = %+v, want %+v", i, m, want[i])
		}
	}
}

func Test_httpCatalog_Modules_unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "server error", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{name: "not found", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cat := newCatalog(t, tt.handler)
			_, err := cat.Modules(ctx)
			if errors.Cause(err) != progress.ErrCatalogUnavailable {
				t.Errorf("Modules() error = %v, want %v", err, progress.ErrCatalogUnavailable)
			}
		})
	}

	t.Run("connection refused", func(t *testing.T) {
		conf := &core.Config{}
		conf.Catalog.BaseURL = "http://127.0.0.1:1"
		conf.Catalog.Timeout = time.Second
		cat := NewHTTPCatalog(conf)
		if _, err := cat.Modules(ctx); errors.Cause(err) != progress.ErrCatalogUnavailable {
			t.Errorf("Modules() error = %v, want %v", err, progress.ErrCatalogUnavailable)
		}
	})
}

func Test_staticCatalog_Modules(t *testing.T) {
	mods, err := NewStaticCatalog(progress.Module{ID: "m1"}).Modules(ctx)
	if err != nil {
		t.Fatalf("Modules() failed: %v", err)
	}
	if len(mods) != 1 || mods[0].ID != "m1" {
		t.Errorf("Modules() = %+v", mods)
	}
	if mods, _ = NewStaticCatalog().Modules(ctx); len(mods) != 0 {
		t.Errorf("empty catalog returned %+v", mods)
	}
}
