package settings

import "time"

const (
	CategoryWatchFolder = "watch_folder"
	CategoryLicense     = "license"
	CategoryHeartbeat   = "heartbeat"
)

// Well-known setting keys.
const (
	KeyLicenseKey           = "license_key"
	KeyWatchFolderEnabled   = "watch_folder_enabled"
	KeyWatchFolderPath      = "watch_folder_path"
	KeyWatchFolderInterval  = "watch_folder_poll_interval"
	KeyWatchFolderHeartbeat = "watch_folder_worker_heartbeat"
	KeyWatchFolderLastCheck = "watch_folder_last_check"
	KeyEmbeddingWorkerBeat  = "embedding_worker_heartbeat"
)

// Setting is a durable KV row used for runtime configuration and health
// signals. No transactions across keys are required.
type Setting struct {
	ID        string    `gorm:"type:text;primaryKey" json:"id"`
	Value     string    `gorm:"type:text;not null;default:''" json:"value"`
	Category  string    `gorm:"type:text;not null;default:'';index" json:"category"`
	UpdatedAt time.Time `gorm:"not null;default:now()" json:"updated_at"`
}

func (Setting) TableName() string { return "settings" }
