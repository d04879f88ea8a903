package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-lab-api/internal/dto"
	"github.com/noah-isme/gema-lab-api/internal/observability"
)

const submissionUpdatesTopic = "submission_updates"

// UpdatePublisher broadcasts submission status changes to every session.
type UpdatePublisher interface {
	Publish(ctx context.Context, update dto.SubmissionUpdate) error
}

// UpdateChannels names the broker destinations for submission updates.
type UpdateChannels struct {
	Redis string
	NATS  string
}

// SubmissionUpdateChannels derives the Redis channel and NATS subject from a
// shared base name. An empty base yields the bare topic name.
func SubmissionUpdateChannels(channelBase string) UpdateChannels {
	if channelBase == "" {
		return UpdateChannels{Redis: submissionUpdatesTopic, NATS: submissionUpdatesTopic}
	}
	return UpdateChannels{
		Redis: channelBase + ":" + submissionUpdatesTopic,
		NATS:  strings.ReplaceAll(channelBase, ":", ".") + "." + submissionUpdatesTopic,
	}
}

type resultPublisher struct {
	redis    *redis.Client
	nats     *nats.Conn
	channels UpdateChannels
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewResultPublisher publishes to every configured transport. Either client may be nil.
func NewResultPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) UpdatePublisher {
	return &resultPublisher{
		redis:    redisClient,
		nats:     natsConn,
		channels: SubmissionUpdateChannels(channelBase),
		tracer:   otel.Tracer("github.com/noah-isme/gema-lab-api/internal/service/result_publisher"),
		logger:   logger.With().Str("component", "result_publisher").Logger(),
	}
}

// Publish sends the update as a bare JSON document. Delivery is at-least-once
// per transport and no replay is kept for absent subscribers.
func (p *resultPublisher) Publish(ctx context.Context, update dto.SubmissionUpdate) error {
	ctx, span := p.tracer.Start(ctx, "submission.update.publish", trace.WithAttributes(
		attribute.Int64("submission.id", int64(update.ID)),
		attribute.String("submission.status", string(update.Status)),
	))
	defer span.End()

	payload, err := json.Marshal(update)
	if err != nil {
		span.RecordError(err)
		return err
	}

	var errs []error
	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.channels.Redis, payload).Err(); err != nil {
			errs = append(errs, err)
		} else {
			observability.UpdatesPublished().WithLabelValues(string(update.Status), "redis").Inc()
		}
	}
	if p.nats != nil {
		if err := p.nats.Publish(p.channels.NATS, payload); err != nil {
			errs = append(errs, err)
		} else {
			observability.UpdatesPublished().WithLabelValues(string(update.Status), "nats").Inc()
		}
	}

	if err := errors.Join(errs...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	p.logger.Debug().
		Uint("submission_id", update.ID).
		Str("status", string(update.Status)).
		Msg("submission update published")
	return nil
}
