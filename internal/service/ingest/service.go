// Package ingest is the server side of the collection pipeline: it validates
// incoming sample batches, drops repeats, and buffers the rest for batched
// writes to the sample store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/vitals/internal/model"
	"github.com/ashita-ai/vitals/internal/telemetry"
)

// DefaultMaxBatchSamples caps how many samples one request may carry.
const DefaultMaxBatchSamples = 100

// ErrBatchTooLarge is returned when a request carries more samples than the
// configured limit. The whole batch is rejected.
var ErrBatchTooLarge = errors.New("ingest: batch too large")

// Service validates and buffers incoming samples.
type Service struct {
	buffer   *Buffer
	deduper  *Deduper
	logger   *slog.Logger
	maxBatch int
	now      func() time.Time

	samplesCounter metric.Int64Counter
}

// NewService creates an ingestion service. deduper may be nil, in which case
// repeats are only collapsed at aggregation time.
func NewService(buffer *Buffer, deduper *Deduper, logger *slog.Logger, maxBatch int) *Service {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSamples
	}
	counter, _ := telemetry.Meter("vitals/ingest").Int64Counter("vitals.ingest.samples",
		metric.WithDescription("Samples received, by outcome"),
	)
	return &Service{
		buffer:         buffer,
		deduper:        deduper,
		logger:         logger,
		maxBatch:       maxBatch,
		now:            time.Now,
		samplesCounter: counter,
	}
}

// Ingest accepts a batch. Malformed samples are discarded one by one and
// counted as rejected; they never fail the rest of the batch. The returned
// error is non-nil only when the batch as a whole cannot be taken: it is too
// large or the buffer is applying backpressure.
func (s *Service) Ingest(ctx context.Context, req model.IngestRequest) (model.IngestResponse, error) {
	var resp model.IngestResponse
	if len(req.Samples) > s.maxBatch {
		return resp, fmt.Errorf("%w: %d samples (max %d)", ErrBatchTooLarge, len(req.Samples), s.maxBatch)
	}

	receivedAt := s.now().UTC()
	accepted := make([]model.RawVitalSample, 0, len(req.Samples))
	var marked []string
	for i, sample := range req.Samples {
		sample = canonicalize(sample)
		if err := model.ValidateSample(sample); err != nil {
			resp.Rejected++
			s.logger.Warn("ingest: rejected sample", "index", i, "reason", err.Error())
			continue
		}
		if s.deduper != nil {
			key := DedupeKey(sample.SessionID, string(sample.Metric), sample.PagePath)
			if s.deduper.Seen(key) {
				resp.Duplicates++
				continue
			}
			marked = append(marked, key)
		}
		sample.ReceivedAt = receivedAt
		accepted = append(accepted, sample)
	}

	if err := s.buffer.Append(accepted); err != nil {
		// Let the client retry these later.
		for _, key := range marked {
			s.deduper.Forget(key)
		}
		return model.IngestResponse{}, err
	}
	resp.Accepted = len(accepted)

	s.record(ctx, "accepted", resp.Accepted)
	s.record(ctx, "rejected", resp.Rejected)
	s.record(ctx, "duplicate", resp.Duplicates)
	return resp, nil
}

func (s *Service) record(ctx context.Context, outcome string, n int) {
	if n == 0 || s.samplesCounter == nil {
		return
	}
	s.samplesCounter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("outcome", outcome)))
}

// canonicalize fixes letter case on the enum fields so "lcp" and "Mobile"
// from hand-rolled clients are accepted, and normalizes absolute page paths.
// Relative or empty paths are left alone for validation to reject.
func canonicalize(s model.RawVitalSample) model.RawVitalSample {
	s.Metric = model.Metric(strings.ToUpper(strings.TrimSpace(string(s.Metric))))
	s.DeviceClass = model.DeviceClass(strings.ToLower(strings.TrimSpace(string(s.DeviceClass))))
	s.PageTitle = strings.TrimSpace(s.PageTitle)
	if strings.HasPrefix(s.PagePath, "/") {
		s.PagePath = model.NormalizePagePath(s.PagePath)
	}
	return s
}
