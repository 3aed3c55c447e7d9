package worker

// IngestRunPayload is the body of an ingest.run message: one queued ingestion run.
type IngestRunPayload struct {
	RunID         string `json:"run_id"`
	Directory     string `json:"directory"`
	CorrelationID string `json:"correlation_id"`
}
