package ports

import "context"

// Params is the flat argument mapping of a broker operation.
type Params map[string]any

// Broker is the broker API client. Each op names one remote endpoint
// (placeorder, quotes, funds, ...). Failures come back as errors; the
// response body is returned as a generic mapping.
type Broker interface {
	Do(ctx context.Context, op string, params Params) (map[string]any, error)
}
