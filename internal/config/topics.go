package config

const (
	// TopicIngestRun carries queued ingestion runs (features/ingest publishes, the worker consumes).
	TopicIngestRun = "ingest.run"

	// ChannelIngestWorker is the consumer channel shared by all ingestion workers.
	ChannelIngestWorker = "worker"
)
