package usecase

import (
	"context"
	"fmt"
	"math"
	"time"

	"FinTrain/internal/domain/models"
	domrepo "FinTrain/internal/domain/repository"
	domsvc "FinTrain/internal/domain/service"
	"FinTrain/internal/services/train"
	"FinTrain/pkg/cache"
	applogger "FinTrain/pkg/logger"
)

const (
	buyThreshold  = 0.6
	sellThreshold = 0.4

	// extra bars fetched beyond window+warm-up to survive dropped
	// duplicates in the raw history
	predictSlack = 10

	predictionTTL = time.Minute
)

// Predictor runs one-shot inference against the deployed production
// artifact: latest bars in, trading signal out.
type Predictor struct {
	source   domrepo.CandleSource
	deployer domsvc.Deployer
	feats    domsvc.FeatureBuilder
	window   int
	cache    cache.Service
	l        *applogger.Logger
}

type PredictorOption func(*Predictor)

// WithPredictionCache caches predictions briefly per instrument.
func WithPredictionCache(c cache.Service) PredictorOption {
	return func(p *Predictor) { p.cache = c }
}

// WithPredictorLogger injects a structured logger.
func WithPredictorLogger(l *applogger.Logger) PredictorOption {
	return func(p *Predictor) { p.l = l }
}

// NewPredictor creates the predictor. The window must match the sequence
// length models are trained with.
func NewPredictor(source domrepo.CandleSource, deployer domsvc.Deployer, feats domsvc.FeatureBuilder, window int, opts ...PredictorOption) *Predictor {
	p := &Predictor{
		source:   source,
		deployer: deployer,
		feats:    feats,
		window:   window,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict loads the production model for the instrument and scores the
// most recent feature window. models.ErrNoArtifact when nothing is
// deployed yet.
func (p *Predictor) Predict(ctx context.Context, symbol string) (models.Prediction, error) {
	if p.cache != nil {
		var cached models.Prediction
		if err := p.cache.Get(ctx, predictionKey(symbol), &cached); err == nil && cached.Symbol != "" {
			return cached, nil
		}
	}

	artifact, version, err := p.deployer.Load(ctx, symbol)
	if err != nil {
		return models.Prediction{}, err
	}
	model, err := train.LoadModel(artifact.Weights)
	if err != nil {
		return models.Prediction{}, &models.DeploymentError{
			Symbol: symbol,
			Reason: models.DeployBadArtifact,
			Err:    err,
		}
	}

	need := p.window + p.feats.WarmUp() + predictSlack
	candles, err := p.source.GetLatestNCandles(ctx, symbol, need)
	if err != nil {
		return models.Prediction{}, &models.DataError{
			Symbol: symbol,
			Reason: models.DataEmpty,
			Detail: fmt.Sprintf("fetch failed: %v", err),
		}
	}
	matrix, targets, err := p.feats.Build(ctx, models.MarketSeries{Symbol: symbol, Candles: candles})
	if err != nil {
		return models.Prediction{}, err
	}
	scaled, err := artifact.Transform.Apply(&matrix)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("apply deployed transform: %w", err)
	}
	if scaled.Len() < p.window {
		return models.Prediction{}, &models.DataError{
			Symbol: symbol,
			Reason: models.DataInsufficientRows,
			Detail: fmt.Sprintf("%d feature rows, window needs %d", scaled.Len(), p.window),
		}
	}

	window := scaled.Rows[scaled.Len()-p.window:]
	pred, err := model.Predict(window)
	if err != nil {
		return models.Prediction{}, fmt.Errorf("predict: %w", err)
	}

	// Direction models already emit an up-move probability. Regression
	// models map the predicted move relative to the last close onto the
	// same probability-like axis so one signal rule covers both.
	var score, raw float64
	if model.Mode() == models.LabelDirection {
		score, raw = pred, pred
	} else {
		raw = model.Denormalize(pred)
		lastClose := targets[len(targets)-1]
		move := pred - model.Normalize(lastClose)
		if move > 0.5 {
			move = 0.5
		} else if move < -0.5 {
			move = -0.5
		}
		score = 0.5 + move
	}

	signal := models.SignalHold
	switch {
	case score > buyThreshold:
		signal = models.SignalBuy
	case score < sellThreshold:
		signal = models.SignalSell
	}

	out := models.Prediction{
		Symbol:       symbol,
		Signal:       signal,
		Confidence:   math.Abs(score-0.5) * 2,
		Predicted:    score,
		PredictedRaw: raw,
		ModelVersion: version,
		Timestamp:    time.Now().UTC(),
	}
	if p.cache != nil {
		if err := p.cache.Set(ctx, predictionKey(symbol), out, predictionTTL); err != nil && p.l != nil {
			p.l.Warn("prediction cache failed", applogger.String("symbol", symbol), applogger.Error(err))
		}
	}
	if p.l != nil {
		p.l.Debug("prediction served",
			applogger.String("symbol", symbol),
			applogger.String("signal", string(signal)),
			applogger.Float64("confidence", out.Confidence),
			applogger.String("model_version", version),
		)
	}
	return out, nil
}

func predictionKey(symbol string) string {
	return cache.GenerateKey("prediction", symbol)
}
