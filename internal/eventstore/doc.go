// Package eventstore defines the narrow view linktrunc has of an event
// store: forward paged reads with link resolution, last-event reads,
// optimistic stream metadata writes, and the management listings of
// persistent subscriptions and projections.
//
// Two adapters are provided. GRPCStore talks to EventStoreDB through the
// official Go client. HTTPManager lists subscriptions and projections
// through the server's management endpoints. The in-memory implementation
// used by tests lives in internal/testutil.
package eventstore
