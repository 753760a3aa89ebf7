package obs

import "go.uber.org/zap"

// NewLogger builds the shared structured logger. Production config emits
// JSON to stdout; anything else gets the human-readable development encoder.
func NewLogger(production bool) (*zap.Logger, error) {
	if production {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
