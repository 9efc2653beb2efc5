package worker

import (
	"encoding/json"

	"kbingest/internal/config"
	"kbingest/internal/content"
)

// Payload is the body of every stage message. Items are loaded from the
// store, so the message only names them.
type Payload struct {
	ItemID        string `json:"item_id"`
	OwnerID       string `json:"owner_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func (p Payload) Encode() []byte {
	b, _ := json.Marshal(p)
	return b
}

// TopicFor maps a stage to the topic its jobs are published on.
func TopicFor(stage content.Stage) string {
	switch stage {
	case content.StageCrawl:
		return config.TopicCrawl
	case content.StageMinify:
		return config.TopicMinify
	default:
		return config.TopicTrain
	}
}

// FirstStage is the stage a new item of kind is enqueued for.
func FirstStage(kind content.Kind) content.Stage {
	return content.Pipeline(kind)[0]
}

// nextStage returns the stage after s in kind's pipeline.
func nextStage(kind content.Kind, s content.Stage) (content.Stage, bool) {
	p := content.Pipeline(kind)
	for i := range p[:len(p)-1] {
		if p[i] == s {
			return p[i+1], true
		}
	}
	return "", false
}
