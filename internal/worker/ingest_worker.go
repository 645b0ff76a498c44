package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"nexora-chat/internal/model"
)

// IngestProcessor indexes the document referenced by a job.
type IngestProcessor interface {
	ProcessIngestJob(ctx context.Context, job model.IngestJob) error
}

// IngestWorker consumes ingestion jobs one at a time. Failed jobs are not
// requeued; their status is recorded by the processor.
type IngestWorker struct {
	conn      *amqp.Connection
	processor IngestProcessor
	queueName string
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewIngestWorker(conn *amqp.Connection, processor IngestProcessor, queueName string, logger *zap.Logger) *IngestWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestWorker{
		conn:      conn,
		processor: processor,
		queueName: queueName,
		logger:    logger.Named("ingest_worker"),
	}
}

func (w *IngestWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}

	if _, err := ch.QueueDeclare(w.queueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("declare worker queue failed: %w", err)
	}

	// Ingestion is CPU and network heavy; take one job at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(w.queueName, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					w.logger.Warn("delivery channel closed")
					return
				}
				w.handle(workerCtx, d)
			}
		}
	}()

	w.logger.Info("ingest worker started", zap.String("queue", w.queueName))
	return nil
}

func (w *IngestWorker) handle(ctx context.Context, d amqp.Delivery) {
	var job model.IngestJob
	if err := json.Unmarshal(d.Body, &job); err != nil {
		w.logger.Error("decode ingest job failed", zap.Error(err))
		_ = d.Nack(false, false)
		return
	}

	if err := w.processor.ProcessIngestJob(ctx, job); err != nil {
		w.logger.Error("process ingest job failed",
			zap.String("job_id", job.JobID),
			zap.Uint("document_id", job.DocumentID),
			zap.String("store", job.Store),
			zap.Error(err),
		)
		_ = d.Nack(false, false)
		return
	}

	_ = d.Ack(false)
}

func (w *IngestWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
