package models

// Requests for the serving API. Defined in domain for consistency and reuse.

type ForecastRequest struct {
	Type     string `param:"type" json:"type" validate:"required,oneof=demand solar wind"`
	EntityID string `query:"entity" json:"entity"`
}

type PriceCurveRequest struct {
	N int `query:"n" json:"n" default:"24" validate:"gte=1,lte=48"`
}

type RetrainRequest struct {
	ForecastType string `json:"forecast_type" validate:"required,oneof=demand solar wind"`
	Reason       string `json:"reason" validate:"max=200"`
}

type AccuracyRequest struct {
	Type string `param:"type" json:"type" validate:"required,oneof=demand solar wind"`
	N    int    `query:"n" json:"n" default:"30" validate:"gte=1,lte=500"`
}

// RetrainResponse reports whether an operator retrain request was queued or
// collapsed into one already in flight.
type RetrainResponse struct {
	ForecastType string `json:"forecast_type"`
	Queued       bool   `json:"queued"`
}
