// Package session implements the registration lifecycle of one client
// session against one management server.
//
// A session moves through the states
//
//	UNREGISTERED -> REGISTERING -> REGISTERED <-> UPDATING
//	REGISTERED -> DEREGISTERING -> DEREGISTERED
//
// The decision logic lives in [Machine], a pure state machine that consumes
// events (registry changes, exchange outcomes, explicit commands) and
// returns the actions to perform. [Session] is the runtime around it: it
// serializes events under one lock, executes actions through an
// [exchange.Driver] and feeds outcomes back into the machine.
//
// # Exchanges
//
// At most one exchange is outstanding per session. Registry changes that
// arrive while an exchange is in flight mark the session dirty and are
// re-evaluated once the exchange resolves. Every exchange carries a
// sequence number; outcomes for any other sequence number are strays and
// are ignored.
//
// # Security and Server instances
//
// A session is bound to one Security instance and its paired Server
// instance. Removing the Security instance deregisters the session.
// Removing only the Server instance leaves the session orphaned: changes
// are observed but no exchange is scheduled.
package session
