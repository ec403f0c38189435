package metrics

import (
	"sync"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-zap/types"
)

var customMetricsCreators = sync.Map{}

func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	customMetricsCreators.Store(metricsManagerName, creator)
}

// NewManager returns the configured metrics backend, or a no-op manager when
// metrics are disabled.
func NewManager(config *types.MetricsConfig, logger types.Logger) (types.MetricsManager, error) {
	if config == nil || !config.Enabled {
		return NewNoopMetrics(), nil
	}

	var manager types.MetricsManager
	var err error

	switch config.Type {
	case "prometheus", "":
		manager, err = NewPrometheusMetrics(logger, config)
	case "memory":
		manager = NewMemoryMetrics(logger)
	case "noop":
		manager = NewNoopMetrics()
	default:
		creator, exists := customMetricsCreators.Load(config.Type)
		if !exists {
			return nil, types.Errorf(types.ErrMetricsTypeUnknown, "type: %s", config.Type)
		}
		manager, err = creator.(types.MetricsManagerCreator)(config)
	}

	if err != nil {
		return nil, types.WrapError(err, "failed to initialize metrics manager")
	}

	logger.Info("Metrics manager initialized", zap.String("type", config.Type))
	return manager, nil
}
