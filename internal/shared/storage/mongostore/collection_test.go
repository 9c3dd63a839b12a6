package mongostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/v2/bson"

	"agents-eval/internal/shared/storage"
)

func TestBuildFilter(t *testing.T) {
	cutoff := time.Unix(1700000000, 0)
	f := storage.Filter{
		ProjectID:       "proj-1",
		Statuses:        []string{"queued"},
		EvalID:          "eval-1",
		HeartbeatBefore: &cutoff,
	}

	got := buildFilter(f)
	keys := make([]string, 0, len(got))
	for _, e := range got {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"project_id", "status", "eval_id", "$or"}, keys)
	assert.Equal(t, bson.D{{Key: "$in", Value: []string{"queued"}}}, got[1].Value)
}

func TestBuildFilter_Empty(t *testing.T) {
	assert.Empty(t, buildFilter(storage.Filter{}))
}
