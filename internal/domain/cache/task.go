package cache

import (
	"encoding/json"
	"fmt"

	"newsstand/internal/domain/content"

	"github.com/hibiken/asynq"
)

// TaskTypeMirrorItem is the asynq task type for mirroring a cached article.
const TaskTypeMirrorItem = "cache:mirror_item"

// MirrorItemPayload is the serialized payload for a mirror task.
type MirrorItemPayload struct {
	Article content.Article `json:"article"`
}

// NewMirrorItemTask creates a new asynq task for mirroring an article.
func NewMirrorItemTask(a content.Article) (*asynq.Task, error) {
	payload, err := json.Marshal(MirrorItemPayload{Article: a})
	if err != nil {
		return nil, fmt.Errorf("marshaling task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeMirrorItem, payload), nil
}

// ParseMirrorItemPayload deserializes the task payload.
func ParseMirrorItemPayload(data []byte) (*MirrorItemPayload, error) {
	var p MirrorItemPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshaling task payload: %w", err)
	}
	return &p, nil
}
