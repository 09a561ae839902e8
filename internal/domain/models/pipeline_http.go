package models

// Requests for the ops HTTP endpoints. Defined in domain for consistency and reuse.

type RetrainRequest struct {
	Symbol string `query:"symbol" json:"symbol"` // empty = full run over all configured symbols
}

type PredictRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
}

type CandlesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	N      int    `query:"n" json:"n" default:"120" validate:"gte=1,lte=5000"`
}

type RollbackRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required"`
	Backup string `query:"backup" json:"backup" validate:"required"`
}

type StatusRequest struct {
	Symbol string `query:"symbol" json:"symbol"` // empty = all instruments
}
