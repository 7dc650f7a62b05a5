// Package feed consume de Kafka los pares candidatos que publica el matcher
// externo y los registra en la cola de revisión.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"tnr-records/internal/domain/merges"
	"tnr-records/internal/domain/records"
	"tnr-records/internal/platform/logger"
	"tnr-records/internal/platform/tracing"

	"github.com/segmentio/kafka-go"
)

// CandidateMessage es el payload de cada mensaje del tópico.
type CandidateMessage struct {
	EntityType    string `json:"entity_type"`
	LeftEntityID  string `json:"left_entity_id"`
	RightEntityID string `json:"right_entity_id"`
	MatchType     string `json:"match_type"`
}

type Submitter interface {
	Submit(ctx context.Context, in merges.SubmitInput) (merges.SubmitResult, error)
}

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

type Consumer struct {
	reader reader
	submit Submitter
	log    logger.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewConsumer(cfg Config, submit Submitter, log logger.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: 0,
	})
	return newConsumer(r, submit, log)
}

func newConsumer(r reader, submit Submitter, log logger.Logger) *Consumer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Consumer{
		reader: r,
		submit: submit,
		log:    log.With(map[string]any{"component": "candidate_feed"}),
	}
}

func (c *Consumer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.loop(ctx)
	c.log.Info("candidate feed started", nil)
}

func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *Consumer) loop(ctx context.Context) {
	defer c.wg.Done()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			c.log.Error("failed to fetch message", map[string]any{"error": err.Error()})
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.HandleMessage(ctx, msg); err != nil {
			// sin commit: el mensaje se vuelve a leer
			continue
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("failed to commit message", map[string]any{"error": err.Error(), "offset": msg.Offset})
		}
	}
}

// HandleMessage registra el par. Devuelve error solo cuando vale la pena
// reintentar (falla de storage); los mensajes inválidos, pares suprimidos o
// entidades inexistentes se descartan con un log.
func (c *Consumer) HandleMessage(ctx context.Context, msg kafka.Message) error {
	ctx, span := tracing.StartSpan(ctx, "feed.HandleMessage")
	defer span.End()

	log := c.log.With(map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})

	var m CandidateMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		log.Warn("discarding malformed candidate message", map[string]any{"error": err.Error()})
		return nil
	}
	kind, err := records.ParseKind(m.EntityType)
	if err != nil {
		log.Warn("discarding candidate with unknown entity type", map[string]any{"entity_type": m.EntityType})
		return nil
	}

	res, err := c.submit.Submit(ctx, merges.SubmitInput{
		Kind:      kind,
		LeftID:    m.LeftEntityID,
		RightID:   m.RightEntityID,
		MatchType: m.MatchType,
	})
	if err != nil {
		fields := map[string]any{
			"entity_type":     kind,
			"left_entity_id":  m.LeftEntityID,
			"right_entity_id": m.RightEntityID,
			"code":            records.CodeOf(err),
		}
		if errors.Is(err, records.ErrValidation) || errors.Is(err, records.ErrNotFound) || errors.Is(err, records.ErrConflict) {
			log.Info("candidate skipped", fields)
			return nil
		}
		fields["error"] = err.Error()
		log.Error("failed to submit candidate", fields)
		return err
	}

	log.Debug("candidate submitted", map[string]any{
		"pair_id":           res.Pair.PairID,
		"created":           res.Created,
		"match_probability": res.Pair.MatchProbability,
	})
	return nil
}
