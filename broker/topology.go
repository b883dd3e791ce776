// SPDX-FileCopyrightText: © 2023 Siemens AG
// SPDX-License-Identifier: MIT

package broker

// ExchangeName is the single durable topic exchange all pipeline messages
// are published through (spec.md §6.1).
const ExchangeName = "pdf.conversion"

// DeadLetterExchangeName is the durable topic exchange every queue's
// x-dead-letter-exchange points at (spec.md §6.1).
const DeadLetterExchangeName = "dead.letter"

// DeadLetterQueueName is the queue bound to DeadLetterExchangeName that
// collects poison messages.
const DeadLetterQueueName = "dead-letter-queue"

// QueueDef describes one durable queue and the fixed routing key it is
// bound to on ExchangeName.
type QueueDef struct {
	Name       string
	RoutingKey string
	Persistent bool // publish-time default: requests persistent, progress transient
	TTL        int  // message TTL in ms for transient (progress) queues; 0 = none
}

// Queues enumerates every queue of spec.md §6.1 bound to ExchangeName, in the
// table's order. The dead-letter queue (DeadLetterQueueName) is not listed
// here; it is declared separately and bound to DeadLetterExchangeName.
var Queues = []QueueDef{
	{Name: "pdf-analysis-request", RoutingKey: "pdf.analysis.request", Persistent: true},
	{Name: "pdf-analysis-completed", RoutingKey: "pdf.analysis.completed", Persistent: true},
	{Name: "pdf-analysis-failed", RoutingKey: "pdf.analysis.failed", Persistent: true},
	{Name: "pdf-splitting-request", RoutingKey: "pdf.splitting.request", Persistent: true},
	{Name: "pdf-conversion-request", RoutingKey: "pdf.conversion.request", Persistent: true},
	{Name: "pdf-conversion-progress", RoutingKey: "pdf.conversion.progress", Persistent: false, TTL: 300_000},
	{Name: "pdf-conversion-completed", RoutingKey: "pdf.conversion.completed", Persistent: true},
	{Name: "pdf-conversion-failed", RoutingKey: "pdf.conversion.failed", Persistent: true},
	{Name: "pdf-part-conversion-request", RoutingKey: "pdf.part.conversion.request", Persistent: true},
	{Name: "pdf-part-conversion-completed", RoutingKey: "pdf.part.conversion.completed", Persistent: true},
	{Name: "pdf-part-conversion-failed", RoutingKey: "pdf.part.conversion.failed", Persistent: true},
	{Name: "pdf-merging-request", RoutingKey: "pdf.merging.request", Persistent: true},
	{Name: "pdf-merging-progress", RoutingKey: "pdf.merging.progress", Persistent: false, TTL: 300_000},
	{Name: "markdown-storage-request", RoutingKey: "markdown.storage.request", Persistent: true},
	{Name: "markdown-storage-completed", RoutingKey: "markdown.storage.completed", Persistent: true},
	{Name: "markdown-storage-failed", RoutingKey: "markdown.storage.failed", Persistent: true},
}

// QueueByName looks up a QueueDef by its queue name; ok is false if no such
// queue is declared.
func QueueByName(name string) (QueueDef, bool) {
	for _, q := range Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueDef{}, false
}
