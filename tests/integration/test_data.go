package integration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripmesh/tripmesh/internal/models"
)

// TestUser generates unique test user credentials using timestamp
func TestUser(suffix string) (email, password string) {
	ts := time.Now().UnixNano()
	email = fmt.Sprintf("test-%d-%s@example.com", ts, suffix)
	password = "TestPassword123!"
	return
}

// TestSession builds a refresh-session row for the given user, expiring
// ttl from now. The token hash is unique per call.
func TestSession(userID string, ttl time.Duration) *models.RefreshSession {
	now := time.Now()
	return &models.RefreshSession{
		ID:          uuid.New().String(),
		TokenHash:   "hash-" + uuid.New().String(),
		UserID:      userID,
		UserAgent:   "integration-test",
		IPAddress:   "203.0.113.1",
		DeviceClass: "web",
		ExpiresAt:   now.Add(ttl),
		CreatedAt:   now,
	}
}
