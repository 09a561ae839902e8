// Package train fits the per-instrument forecasting model: a stacked
// recurrent network trained with Adam, early stopping on validation loss,
// and learning-rate decay on plateau. Weights serialize to JSON so the
// deployment layer can treat them as an opaque blob.
package train

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"FinTrain/internal/domain/models"
	applogger "FinTrain/pkg/logger"
)

const (
	modeRegression = string(models.LabelRegression)
	modeDirection  = string(models.LabelDirection)

	// minSequences is the smallest dataset that still yields a non-empty
	// train and validation partition worth fitting on.
	minSequences = 5

	gradClipNorm     = 5.0
	divergenceFactor = 100.0
)

// Params are the immutable training hyperparameters for one service
// instance. Zero values fall back to the production defaults.
type Params struct {
	Mode         models.LabelMode
	Epochs       int
	BatchSize    int
	HiddenSizes  []int
	DenseSize    int
	Dropout      float64
	LearningRate float64
	TrainSplit   float64
	Patience     int
	LRPatience   int
	LRDecay      float64
	MinLR        float64
	Seed         int64
}

// DefaultParams returns the production architecture and schedule.
func DefaultParams() Params {
	return Params{
		Mode:         models.LabelRegression,
		Epochs:       50,
		BatchSize:    32,
		HiddenSizes:  []int{100, 100, 50},
		DenseSize:    25,
		Dropout:      0.2,
		LearningRate: 0.001,
		TrainSplit:   0.8,
		Patience:     10,
		LRPatience:   5,
		LRDecay:      0.5,
		MinLR:        0.00001,
		Seed:         42,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.Mode == "" {
		p.Mode = def.Mode
	}
	if p.Epochs <= 0 {
		p.Epochs = def.Epochs
	}
	if p.BatchSize <= 0 {
		p.BatchSize = def.BatchSize
	}
	if len(p.HiddenSizes) == 0 {
		p.HiddenSizes = def.HiddenSizes
	}
	if p.DenseSize <= 0 {
		p.DenseSize = def.DenseSize
	}
	if p.LearningRate <= 0 {
		p.LearningRate = def.LearningRate
	}
	if p.TrainSplit <= 0 || p.TrainSplit >= 1 {
		p.TrainSplit = def.TrainSplit
	}
	if p.Patience <= 0 {
		p.Patience = def.Patience
	}
	if p.LRPatience <= 0 {
		p.LRPatience = def.LRPatience
	}
	if p.LRDecay <= 0 || p.LRDecay >= 1 {
		p.LRDecay = def.LRDecay
	}
	if p.MinLR <= 0 {
		p.MinLR = def.MinLR
	}
	return p
}

// Service trains candidate models. Safe for sequential use per instrument;
// the orchestrator runs instruments one at a time.
type Service struct {
	p Params
	l *applogger.Logger
}

// Option configures Service.
type Option func(*Service)

// WithLogger injects a structured logger.
func WithLogger(l *applogger.Logger) Option {
	return func(s *Service) { s.l = l }
}

// New creates the trainer with the given hyperparameters.
func New(p Params, opts ...Option) *Service {
	s := &Service{p: p.withDefaults()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Train fits a fresh model on the sequences and returns the candidate
// artifact. Too little data, an exploding loss, or non-finite numbers all
// come back as TrainingError for this instrument.
func (s *Service) Train(ctx context.Context, symbol string, seqs []models.Sequence, transform *models.NormalizationTransform) (models.ModelArtifact, error) {
	start := time.Now()

	if len(seqs) == 0 {
		return models.ModelArtifact{}, &models.TrainingError{
			Symbol: symbol,
			Reason: models.TrainingEmptySequences,
			Detail: "no sequences",
		}
	}
	if len(seqs) < minSequences {
		return models.ModelArtifact{}, &models.TrainingError{
			Symbol: symbol,
			Reason: models.TrainingEmptySequences,
			Detail: fmt.Sprintf("%d sequences, need at least %d", len(seqs), minSequences),
		}
	}
	if len(seqs[0].Window) == 0 || len(seqs[0].Window[0]) == 0 {
		return models.ModelArtifact{}, &models.TrainingError{
			Symbol: symbol,
			Reason: models.TrainingEmptySequences,
			Detail: "sequences have empty windows",
		}
	}

	inputSize := len(seqs[0].Window[0])
	mode := string(s.p.Mode)

	labels, labelMin, labelMax := s.scaleLabels(seqs)

	n := len(seqs)
	split := int(float64(n) * s.p.TrainSplit)
	if split < 1 {
		split = 1
	}
	if split >= n {
		split = n - 1
	}
	trainSeqs, trainLabels := seqs[:split], labels[:split]
	valSeqs, valLabels := seqs[split:], labels[split:]

	if s.l != nil {
		s.l.Info("training started",
			applogger.String("symbol", symbol),
			applogger.String("mode", mode),
			applogger.Int("sequences", n),
			applogger.Int("train_samples", len(trainSeqs)),
			applogger.Int("val_samples", len(valSeqs)),
			applogger.Int("features", inputSize),
			applogger.Int("epochs", s.p.Epochs),
		)
	}

	rng := rand.New(rand.NewSource(s.p.Seed))
	net := newNetwork(inputSize, s.p.HiddenSizes, s.p.DenseSize, mode, rng)
	net.LabelMin, net.LabelMax = labelMin, labelMax
	adam := newAdamState(net)

	lr := s.p.LearningRate
	bestVal := math.Inf(1)
	var best *network
	bestEpoch := 0
	wait, lrWait := 0, 0
	firstLoss := 0.0
	stoppedAt := s.p.Epochs

	order := make([]int, len(trainSeqs))
	for i := range order {
		order[i] = i
	}

	for epoch := 1; epoch <= s.p.Epochs; epoch++ {
		select {
		case <-ctx.Done():
			return models.ModelArtifact{}, ctx.Err()
		default:
		}

		// Shuffle inside the train partition only; the validation tail
		// stays temporally after everything the model fits on.
		rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

		for from := 0; from < len(order); from += s.p.BatchSize {
			to := from + s.p.BatchSize
			if to > len(order) {
				to = len(order)
			}
			g := newGradients(net)
			for _, idx := range order[from:to] {
				var masks [][]float64
				if s.p.Dropout > 0 {
					masks = dropoutMasks(net, s.p.Dropout, rng)
				}
				tr := net.forward(trainSeqs[idx].Window, masks)
				dOut := outputGradient(mode, tr.pred, trainLabels[idx])
				net.backward(tr, dOut, masks, g)
			}
			g.scale(float64(to - from))
			if norm := g.clip(gradClipNorm); !isFinite(norm) {
				return models.ModelArtifact{}, &models.TrainingError{
					Symbol: symbol,
					Reason: models.TrainingNumericalError,
					Detail: fmt.Sprintf("non-finite gradient norm at epoch %d", epoch),
				}
			}
			adam.apply(net, g, lr)
		}

		trainLoss, _ := evaluate(net, mode, trainSeqs, trainLabels)
		valLoss, _ := evaluate(net, mode, valSeqs, valLabels)
		if !isFinite(trainLoss) || !isFinite(valLoss) {
			return models.ModelArtifact{}, &models.TrainingError{
				Symbol: symbol,
				Reason: models.TrainingNumericalError,
				Detail: fmt.Sprintf("non-finite loss at epoch %d", epoch),
			}
		}
		if epoch == 1 {
			firstLoss = trainLoss
		} else if firstLoss > 0 && trainLoss > firstLoss*divergenceFactor {
			return models.ModelArtifact{}, &models.TrainingError{
				Symbol: symbol,
				Reason: models.TrainingDivergence,
				Detail: fmt.Sprintf("epoch %d loss %.6g exceeds %.0fx first epoch loss %.6g", epoch, trainLoss, divergenceFactor, firstLoss),
			}
		}

		if valLoss < bestVal-1e-9 {
			bestVal = valLoss
			best = net.clone()
			bestEpoch = epoch
			wait, lrWait = 0, 0
		} else {
			wait++
			lrWait++
		}

		if s.l != nil {
			s.l.Debug("epoch finished",
				applogger.String("symbol", symbol),
				applogger.Int("epoch", epoch),
				applogger.Float64("train_loss", trainLoss),
				applogger.Float64("val_loss", valLoss),
				applogger.Float64("lr", lr),
			)
		}

		if wait >= s.p.Patience {
			stoppedAt = epoch
			break
		}
		if lrWait >= s.p.LRPatience {
			lr *= s.p.LRDecay
			if lr < s.p.MinLR {
				lr = s.p.MinLR
			}
			lrWait = 0
		}
	}

	if best != nil {
		net = best
	}

	trainLoss, trainPreds := evaluate(net, mode, trainSeqs, trainLabels)
	valLoss, valPreds := evaluate(net, mode, valSeqs, valLabels)
	trainAcc := directionalAccuracy(mode, trainPreds, trainLabels)
	valAcc := directionalAccuracy(mode, valPreds, valLabels)

	weights, err := net.marshal()
	if err != nil {
		return models.ModelArtifact{}, &models.TrainingError{
			Symbol: symbol,
			Reason: models.TrainingNumericalError,
			Detail: fmt.Sprintf("serialize weights: %v", err),
		}
	}

	var features []string
	if transform != nil {
		features = append([]string(nil), transform.Features...)
	}
	artifact := models.ModelArtifact{
		Symbol:    symbol,
		Weights:   weights,
		Transform: transform,
		Metrics: models.ModelMetrics{
			Symbol:        symbol,
			TrainLoss:     trainLoss,
			ValLoss:       valLoss,
			TrainAccuracy: trainAcc,
			ValAccuracy:   valAcc,
			TrainingDate:  time.Now().UTC(),
			DataPoints:    n,
			TrainSamples:  len(trainSeqs),
			ValSamples:    len(valSeqs),
			Features:      features,
		},
	}

	if s.l != nil {
		s.l.Info("training finished",
			applogger.String("symbol", symbol),
			applogger.Float64("train_loss", trainLoss),
			applogger.Float64("val_loss", valLoss),
			applogger.Float64("train_accuracy", trainAcc),
			applogger.Float64("val_accuracy", valAcc),
			applogger.Int("stopped_epoch", stoppedAt),
			applogger.Int("best_epoch", bestEpoch),
			applogger.Duration("duration", time.Since(start)),
		)
	}
	return artifact, nil
}

// scaleLabels maps labels into [0, 1]. Direction labels are already 0/1;
// regression labels min/max scale over the full set, matching the
// feature transform's single-pass fit.
func (s *Service) scaleLabels(seqs []models.Sequence) (scaled []float64, lo, hi float64) {
	scaled = make([]float64, len(seqs))
	if s.p.Mode == models.LabelDirection {
		for i, seq := range seqs {
			scaled[i] = seq.Label
		}
		return scaled, 0, 1
	}
	lo, hi = math.Inf(1), math.Inf(-1)
	for _, seq := range seqs {
		if seq.Label < lo {
			lo = seq.Label
		}
		if seq.Label > hi {
			hi = seq.Label
		}
	}
	if hi-lo < 1e-12 {
		hi = lo + 1
	}
	for i, seq := range seqs {
		scaled[i] = (seq.Label - lo) / (hi - lo)
	}
	return scaled, lo, hi
}

// outputGradient is dLoss/dOutput at the network's pre-activation output
// for one example: MSE for regression, cross-entropy through the sigmoid
// for direction.
func outputGradient(mode string, pred, label float64) float64 {
	if mode == modeDirection {
		return pred - label
	}
	return 2 * (pred - label)
}

// evaluate computes the mean loss and per-example predictions over a
// partition, in temporal order and without dropout.
func evaluate(net *network, mode string, seqs []models.Sequence, labels []float64) (float64, []float64) {
	if len(seqs) == 0 {
		return 0, nil
	}
	preds := make([]float64, len(seqs))
	sum := 0.0
	for i, seq := range seqs {
		p := net.predict(seq.Window)
		preds[i] = p
		if mode == modeDirection {
			pc := clamp(p, 1e-12, 1-1e-12)
			sum += -labels[i]*math.Log(pc) - (1-labels[i])*math.Log(1-pc)
		} else {
			d := p - labels[i]
			sum += d * d
		}
	}
	return sum / float64(len(seqs)), preds
}

// directionalAccuracy is the percentage of steps where the predicted move
// direction matches the actual one. Regression compares consecutive
// differences of the temporally ordered series; direction compares the
// thresholded class.
func directionalAccuracy(mode string, preds, labels []float64) float64 {
	if mode == modeDirection {
		if len(preds) == 0 {
			return 0
		}
		hits := 0
		for i := range preds {
			if (preds[i] > 0.5) == (labels[i] > 0.5) {
				hits++
			}
		}
		return float64(hits) / float64(len(preds)) * 100
	}
	if len(preds) < 2 {
		return 0
	}
	hits := 0
	for i := 1; i < len(preds); i++ {
		if (labels[i]-labels[i-1] > 0) == (preds[i]-preds[i-1] > 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(preds)-1) * 100
}

func dropoutMasks(n *network, rate float64, rng *rand.Rand) [][]float64 {
	keep := 1 - rate
	masks := make([][]float64, len(n.HiddenSizes))
	for l, h := range n.HiddenSizes {
		m := make([]float64, h)
		for i := range m {
			if rng.Float64() < keep {
				m[i] = 1 / keep
			}
		}
		masks[l] = m
	}
	return masks
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
