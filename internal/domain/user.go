package domain

import "time"

// User is an end-user identified by their origin-platform account.
type User struct {
	ID               string
	OriginPlatformID string
	DisplayName      string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
