package bucketing

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"waste-auth-service/internal/config"
)

func testManager() *BucketingManager {
	return NewBucketingManager(&config.Config{
		Bucketing: config.BucketingConfig{
			UserBuckets:  256,
			EventBuckets: 64,
		},
	})
}

func TestGetUserBucketDeterministic(t *testing.T) {
	bm := testManager()

	id := uuid.New()
	first := bm.GetUserBucket(id)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, bm.GetUserBucket(id))
	}
	assert.Equal(t, first, bm.GetUserBucket(id.String()))
}

func TestBucketsInRange(t *testing.T) {
	bm := testManager()

	for i := 0; i < 1000; i++ {
		user := bm.GetUserBucket(uuid.New())
		assert.GreaterOrEqual(t, user, 0)
		assert.Less(t, user, 256)

		event := bm.GetEventBucket(uuid.New().String())
		assert.GreaterOrEqual(t, event, 0)
		assert.Less(t, event, 64)
	}
}

func TestGetDateBucketFormat(t *testing.T) {
	bm := testManager()
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2}$`, bm.GetDateBucket())
}
