// Package consistency evaluates cross-object invariants before a mutation
// reaches the instance registry.
//
// The only rule the registration interface depends on is the pairing
// between Security and Server instances. A Security instance describes how
// to reach a server; its paired Server instance describes the session with
// that server. The two are meant to come and go together.
//
// The engine never rejects a mutation. A mutation that leaves a Security
// instance without its Server instance is accepted, so queries reflect
// reality, but is tagged AcceptSuppress: sessions bound to the orphaned
// Security instance observe the new snapshot without scheduling an
// exchange. Removal of a Security instance is always authoritative.
package consistency
