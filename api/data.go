package main

import "time"

type user struct {
	ID           int       `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Email        string    `json:"email"`
	Username     string    `json:"username"`
	PasswordHash []byte    `json:"-"`
	IsActive     bool      `json:"is_active"`
}

type todo struct {
	ID          int       `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UserID      int       `json:"user_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Completed   bool      `json:"completed"`
}

// otp is a one-time password-reset code. It is tied to an email address, not
// a user id, so the same table serves emails with no matching account.
type otp struct {
	ID        int
	Email     string
	Code      string
	CreatedAt time.Time
	ExpiresAt time.Time
	IsUsed    bool
}
