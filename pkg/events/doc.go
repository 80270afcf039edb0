/*
Package events receives repository events from the message broker and
decides which ones deserve processing.

Events arrive as JSON messages on a STOMP queue with client-individual
acknowledgement: a message is acknowledged only after the dispatcher has
scheduled work for it, so unprocessed events survive a crash. The filter
accepts an event only when it is a created or modified event for a
Submission, raised by someone other than this agent, and the referenced
submission was submitted by a user. Everything else is dropped silently;
malformed bodies are logged and rejected without propagating.
*/
package events
