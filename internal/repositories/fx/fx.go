package fx

import (
	"github.com/orgball2608/insta-metrics-collector/internal/repositories/collection"
	"go.uber.org/fx"
)

var Module = fx.Options(
	collection.Module,
)
