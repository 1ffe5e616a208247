package bollywood

import "github.com/felixgeelhaar/bolt/v3"

// Context provides information to an agent's handler while it processes a message.
type Context interface {
	// Self returns the PID of the agent processing the message.
	Self() *PID
	// Dispatcher returns the name of the dispatcher running the handler.
	Dispatcher() string
	// Logger returns the engine's logger.
	Logger() *bolt.Logger
}

// handlerContext implements the Context interface.
type handlerContext struct {
	self       *PID
	dispatcher string
	logger     *bolt.Logger
}

func (c *handlerContext) Self() *PID           { return c.self }
func (c *handlerContext) Dispatcher() string   { return c.dispatcher }
func (c *handlerContext) Logger() *bolt.Logger { return c.logger }
