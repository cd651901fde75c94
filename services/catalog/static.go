package catalogsvc

import (
	"context"

	"github.com/trezcool/karibu/core/progress"
)

type staticCatalog struct {
	modules []progress.Module
}

var _ progress.ModuleCatalog = (*staticCatalog)(nil)

// NewStaticCatalog serves a fixed module list; for tests and local dev
// without a content service.
func NewStaticCatalog(modules ...progress.Module) *staticCatalog {
	return &staticCatalog{modules: modules}
}

func (cat *staticCatalog) Modules(context.Context) ([]progress.Module, error) {
	return cat.modules, nil
}
