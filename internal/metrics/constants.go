package metrics

// Sync queue metric names
const (
	MetricNameOperationsTotal  = "careunity_sync_operations_total"
	MetricNameQueueDepth       = "careunity_sync_queue_depth"
	MetricNameDrainDuration    = "careunity_sync_drain_duration_seconds"
	MetricNameDrainsTotal      = "careunity_sync_drains_total"
	MetricNameConflictsTotal   = "careunity_sync_conflicts_total"
	MetricNameLedgerBumpsTotal = "careunity_sync_ledger_bumps_total"
	MetricNameCacheLookupTotal = "careunity_cache_lookups_total"
	MetricNameTransportLatency = "careunity_transport_request_duration_seconds"
)

// Sync queue metric help text
const (
	HelpTextOperationsTotal  = "Queued operations processed by drain, by outcome"
	HelpTextQueueDepth       = "Operations currently persisted in the sync queue"
	HelpTextDrainDuration    = "Duration of drain passes in seconds"
	HelpTextDrainsTotal      = "Drain invocations, by result"
	HelpTextConflictsTotal   = "Server versions observed ahead of the local ledger"
	HelpTextLedgerBumpsTotal = "Entity versions advanced after a successful sync"
	HelpTextCacheLookupTotal = "Content cache lookups, by result"
	HelpTextTransportLatency = "Latency of remote requests issued by the transport"
)

// Label names
const (
	LabelOutcome = "outcome"
	LabelResult  = "result"
	LabelLayer   = "layer"
	LabelMethod  = "method"
	LabelStatus  = "status"
)

// Operation outcomes
const (
	OutcomeSuccess   = "success"
	OutcomeFailed    = "failed"
	OutcomeAbandoned = "abandoned"
	OutcomeSkipped   = "skipped"
	OutcomeDeferred  = "deferred"
)

// Drain and cache results
const (
	ResultOK           = "ok"
	ResultDisconnected = "disconnected"
	ResultError        = "error"
	ResultHit          = "hit"
	ResultMiss         = "miss"
	ResultExpired      = "expired"
	LayerMemory        = "memory"
	LayerStore         = "store"
)

// DrainLatencyBuckets covers a single fast request up to a long backlog.
var DrainLatencyBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300}

// TransportLatencyBuckets covers typical mobile round trips.
var TransportLatencyBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}
