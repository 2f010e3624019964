// Package bridge consumes assistant events from the message broker and turns
// them into durable state plus realtime broadcasts.
//
// Three channels are handled:
//
//	ai:response   -> assistant message saved, new_message to the conversation room
//	ai:escalation -> agent assigned (conversation_escalated, new_widget_conversation)
//	                 or, with nobody available, a fallback message
//	ai:resolution -> closing message, then status_updated
//
// Every instance receives every event. An event carrying a nonce is claimed
// through a dedupe.Claimer before any side effect, so exactly one instance
// handles it. State is written before anything is broadcast; a failed write
// means no broadcast.
//
// Transports implement Subscriber. Redis pub/sub and RabbitMQ topic
// exchanges are provided.
package bridge
