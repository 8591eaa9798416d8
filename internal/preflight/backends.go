package preflight

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"leadpipe/internal/config"
	"leadpipe/internal/queue"
	"leadpipe/internal/redisledger"
)

// CheckDatabase reports whether the queue database is present, readable,
// and carries the full schema.
func CheckDatabase(ctx context.Context, store *queue.Store) Result {
	const name = "Database"

	if store == nil {
		return Result{Name: name, Detail: "not opened"}
	}
	health, err := store.CheckHealth(ctx)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", health.DBPath, err)}
	}
	switch {
	case !health.DatabaseExists:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", health.DBPath)}
	case len(health.MissingTables) > 0:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: missing tables %v)", health.DBPath, health.MissingTables)}
	case !health.IntegrityCheck:
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: integrity check failed)", health.DBPath)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (schema v%d, %d records)", health.DBPath, health.SchemaVersion, health.TotalRecords)}
}

// CheckRedis verifies the credential ledger's Redis server answers a ping.
func CheckRedis(ctx context.Context, cfg config.Ledger) Result {
	const name = "Redis ledger"

	ledger, err := redisledger.New(ctx, cfg)
	if err != nil {
		return Result{Name: name, Detail: err.Error()}
	}
	_ = ledger.Close()
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable", cfg.RedisAddr)}
}

// CheckKafka dials the first reachable broker and confirms the event topic
// has partitions.
func CheckKafka(ctx context.Context, cfg config.Events) Result {
	const name = "Kafka events"

	if len(cfg.KafkaBrokers) == 0 {
		return Result{Name: name, Detail: "no brokers configured"}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range cfg.KafkaBrokers {
		conn, err := kafka.DialContext(checkCtx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		partitions, err := conn.ReadPartitions(cfg.KafkaTopic)
		_ = conn.Close()
		if err != nil {
			return Result{Name: name, Detail: fmt.Sprintf("%s reachable, topic %q unavailable (%v)", broker, cfg.KafkaTopic, err)}
		}
		return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s reachable, topic %q has %d partition(s)", broker, cfg.KafkaTopic, len(partitions))}
	}
	return Result{Name: name, Detail: fmt.Sprintf("no broker reachable (%v)", lastErr)}
}
