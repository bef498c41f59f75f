package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// NoticeRoutingKey routes part-dispatched notices to the watcher queue.
const NoticeRoutingKey = "watch.part"

// ConverterPayload is the dispatch payload sent to a converter function.
type ConverterPayload struct {
	Identifier         string            `json:"identifier"`
	SourceURL          string            `json:"source_url"`
	ResourceID         string            `json:"resource_id"`
	OutputBucket       string            `json:"output_location_bucket"`
	OutputKey          string            `json:"output_location_key"`
	Options            map[string]string `json:"options"`
	ConvertCallbackURL string            `json:"convert_callback_url"`
	ResultsKey         string            `json:"s3_results_key"`
}

// LinterPayload is the dispatch payload sent to a linter function.
type LinterPayload struct {
	Identifier      string            `json:"identifier"`
	SourceURL       string            `json:"source_url"`
	ResourceID      string            `json:"resource_id"`
	Options         map[string]string `json:"options"`
	LintCallbackURL string            `json:"lint_callback_url"`
	CommitData      json.RawMessage   `json:"commit_data,omitempty"`
	ResultsKey      string            `json:"s3_results_key"`
	SingleFile      string            `json:"single_file,omitempty"`
}

// PartNotice tells the watcher service that a part was dispatched to a
// converter and its completion marker should be polled for.
type PartNotice struct {
	Identifier string    `json:"identifier"`
	ResultsKey string    `json:"s3_results_key"`
	MasterKey  string    `json:"master_results_key"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// publisher is the message-broker surface the dispatcher needs.
type publisher interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// Dispatcher submits payloads to named remote functions through the message
// broker. submit(function_name, payload) semantics: the broker acknowledges
// the publish, the function runs out of process and reports back through
// the blob store and callbacks.
type Dispatcher struct {
	logger *slog.Logger
	broker publisher
	prefix string
}

func NewDispatcher(logger *slog.Logger, broker publisher, prefix string) *Dispatcher {
	return &Dispatcher{
		logger: logger,
		broker: broker,
		prefix: prefix,
	}
}

// ConverterFunction returns the routing key for a converter module name.
func (d *Dispatcher) ConverterFunction(name string) string {
	return fmt.Sprintf("%stx_convert_%s", d.prefix, name)
}

// LinterFunction returns the routing key for a linter module name.
func (d *Dispatcher) LinterFunction(name string) string {
	return fmt.Sprintf("%stx_lint_%s", d.prefix, name)
}

// Submit publishes payload to the named function.
func (d *Dispatcher) Submit(ctx context.Context, functionName string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", functionName, err)
	}

	if err := d.broker.PublishWithRetry(ctx, functionName, body, "application/json"); err != nil {
		return fmt.Errorf("failed to submit to %s: %w", functionName, err)
	}

	d.logger.Debug("Payload submitted",
		slog.String("function", functionName),
		slog.Int("body_size", len(body)),
	)
	return nil
}

// NotifyPartDispatched publishes a notice for the watcher service.
func (d *Dispatcher) NotifyPartDispatched(ctx context.Context, notice *PartNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return fmt.Errorf("failed to encode part notice: %w", err)
	}

	if err := d.broker.PublishWithRetry(ctx, NoticeRoutingKey, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish part notice: %w", err)
	}
	return nil
}
