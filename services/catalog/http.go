// Package catalogsvc provides module catalog providers: the content service
// owns the curriculum; this app only consumes it.
package catalogsvc

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/trezcool/karibu/core"
	"github.com/trezcool/karibu/core/progress"
)

const modulesPath = "/api/v1/modules"

type httpCatalog struct {
	client *resty.Client
}

var _ progress.ModuleCatalog = (*httpCatalog)(nil)

// NewHTTPCatalog fetches the module catalog from the content service.
// Any failure maps to progress.ErrCatalogUnavailable so callers defer
// instead of mistaking it for an empty curriculum.
func NewHTTPCatalog(conf *core.Config) *httpCatalog {
	client := resty.New().
		SetBaseURL(conf.Catalog.BaseURL).
		SetTimeout(conf.Catalog.Timeout).
		SetHeader("Accept", "application/json")
	return &httpCatalog{client: client}
}

func (cat *httpCatalog) Modules(ctx context.Context) ([]progress.Module, error) {
	var mods []progress.Module
	res, err := cat.client.R().
		SetContext(ctx).
		SetResult(&mods).
		Get(modulesPath)
	if err != nil {
		return nil, errors.Wrap(progress.ErrCatalogUnavailable, err.Error())
	}
	if res.IsError() {
		return nil, errors.Wrap(progress.ErrCatalogUnavailable, fmt.Sprintf("content service status %d", res.StatusCode()))
	}
	return mods, nil
}
