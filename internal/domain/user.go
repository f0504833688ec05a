// Package domain contains core domain types for the SparkPath application.
package domain

import "time"

// User is the career profile slice of a user record that the engine and the
// confirmation step read and write.
type User struct {
	UserID        string    `json:"userId"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	Location      string    `json:"location,omitempty"`
	Race          string    `json:"race,omitempty"`
	Ethnicity     string    `json:"ethnicity,omitempty"`
	Category      string    `json:"category,omitempty"`
	Subcategories []string  `json:"subcategories"`
	IsNewUser     bool      `json:"isNewUser"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// HasCategory returns true if the user has confirmed a career category.
func (u *User) HasCategory() bool {
	return u.Category != ""
}
