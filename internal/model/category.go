package model

import "time"

// Category is a spending category that patterns assign transactions to.
type Category struct {
	CreatedAt   time.Time
	Name        string
	Description string
	ID          int
	IsActive    bool
}
