package telepathy

import "time"

// Config holds the tunables shared by Client and Server. MaxMessageSize
// is fixed for the lifetime of a Client or Server; the rest may be changed
// before Connect or Start.
type Config struct {
	// MaxMessageSize bounds every frame payload, in both directions. Both
	// ends must agree on it out of band.
	MaxMessageSize int

	NoDelay        bool
	SendTimeout    time.Duration // 0 disables the write deadline
	ReceiveTimeout time.Duration // 0 disables the read deadline

	// Outstanding message caps per connection. A connection whose send
	// pipe or receive queue reaches its cap is disconnected.
	SendQueueLimit    int
	ReceiveQueueLimit int
}

func DefaultConfig(maxMessageSize int) Config {
	return Config{
		MaxMessageSize:    maxMessageSize,
		NoDelay:           true,
		SendTimeout:       5 * time.Second,
		ReceiveTimeout:    0,
		SendQueueLimit:    10000,
		ReceiveQueueLimit: 10000,
	}
}
