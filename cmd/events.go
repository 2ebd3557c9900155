package cmd

import (
	"go.uber.org/zap"

	"github.com/agentic-research/topoproc/internal/notify"
)

// eventLogger logs every overlay event at debug level.
type eventLogger struct {
	logger *zap.Logger
}

func (e eventLogger) log(what string, ev notify.Event) {
	e.logger.Debug(what,
		zap.String("store", string(ev.Store)),
		zap.String("topology", ev.Topology),
		zap.String("key", ev.Key),
	)
}

func (e eventLogger) OnNodeCreated(ev notify.Event) { e.log("Node created", ev) }
func (e eventLogger) OnNodeUpdated(ev notify.Event) { e.log("Node updated", ev) }
func (e eventLogger) OnNodeDeleted(ev notify.Event) { e.log("Node deleted", ev) }
func (e eventLogger) OnTpCreated(ev notify.Event)   { e.log("Termination point created", ev) }
func (e eventLogger) OnTpUpdated(ev notify.Event)   { e.log("Termination point updated", ev) }
func (e eventLogger) OnTpDeleted(ev notify.Event)   { e.log("Termination point deleted", ev) }
func (e eventLogger) OnLinkCreated(ev notify.Event) { e.log("Link created", ev) }
func (e eventLogger) OnLinkUpdated(ev notify.Event) { e.log("Link updated", ev) }
func (e eventLogger) OnLinkDeleted(ev notify.Event) { e.log("Link deleted", ev) }

var _ notify.Listener = eventLogger{}
