// Package event carries facts raised by tables after a successful update and
// delivers them to the table groups that subscribed to them.
//
// The subscription graph is built once at startup with GraphBuilder and is
// immutable afterwards. Build rejects graphs in which a group could trigger
// itself, directly or through other groups, so every cascade terminates.
//
// Router.Publish delivers each event to every subscriber in subscription
// order. A delivery is a table synchronization which may raise further
// events; those are published recursively before Publish returns.
package event
