// Package fakehub is an in-memory hub server for tests and local
// development. It speaks the same REST envelope and streaming protocol as
// a real hub: a client sends its user id as the first frame, every command
// is answered by exactly one ack, and events are pushed to subscribers.
//
// The bearer token is the user id; there is no account store.
package fakehub
