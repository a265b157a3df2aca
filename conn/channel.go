package conn

import (
	"context"
	"time"
)

// Channel is one open duplex connection carrying encoded envelopes.
// Receive blocks until a message arrives or the channel closes; Close
// unblocks a pending Receive.
type Channel interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
}

// Dialer opens new channels.
type Dialer interface {
	Dial(ctx context.Context) (Channel, error)
}

// Credentials are the stored staff credentials sent with authenticate.
type Credentials struct {
	Token     string
	StaffID   string
	StaffName string
	ExpiresAt time.Time
}

// CredentialSource loads credentials at authentication time.
type CredentialSource interface {
	Credentials() (Credentials, error)
}
