package job

import (
	"encoding/json"
	"time"
)

// Job is a stage delivery that exhausted its attempts or failed
// permanently. Payload is the original queue message body.
type Job struct {
	ID        string          `json:"id"`
	ItemID    string          `json:"item_id"`
	OwnerID   string          `json:"owner_id"`
	Stage     string          `json:"stage"`
	Payload   json.RawMessage `json:"payload"`
	Error     string          `json:"error"`
	Retries   int             `json:"retries"`
	CreatedAt time.Time       `json:"created_at"`
}
