// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// FileIngestTask represents the data structure for a document ingestion job.
type FileIngestTask struct {
	FileID     string `json:"file_id"`
	StorageKey string `json:"storage_key"`
	FileName   string `json:"file_name"`
	UserID     uint   `json:"user_id"`
}
