// Package ingress exposes the chatbot over HTTP: plain and streamed chat,
// a websocket chat, history listing and clearing, health and metrics.
package ingress
