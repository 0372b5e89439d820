package domain

// FanoutResult reports how a single chunk or notification was delivered.
type FanoutResult struct {
	Recipients int
	Delivered  int
	Failed     []ConnectionID
}
