// Package tele is optional telemetry of gateway activity over MQTT.
// Contract:
// - Init() fails only with invalid config, network issues are logged and retried in background
// - Report/Error block at most for disk write, delivery happens in background
// - messages are delivered at least once, undelivered survive restart in persist_path
// - Close() waits for message in flight, rest stays in queue
package tele

import (
	"context"

	"github.com/temoto/iotgw/log2"
	tele_config "github.com/temoto/iotgw/tele/config"
)

// Teler is consumed by engine and log error hook.
type Teler interface {
	Report(*Report)
	Error(error)
}

// Transporter delivers marshaled messages. Send returns false on failure.
type Transporter interface {
	Init(ctx context.Context, log *log2.Log, teleConfig tele_config.Config) error
	SendReport(payload []byte) bool
	SendError(payload []byte) bool
	Close()
}
