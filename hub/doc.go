// Package hub defines the wire types shared by the chat-hub REST API and
// the duplex streaming protocol: identifiers, hubs, channels, messages,
// members, permissions, server error codes and the response envelope.
package hub
