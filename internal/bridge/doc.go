// Package bridge turns a consultation graph's snapshot stream into the
// small event vocabulary clients consume over SSE.
//
// A turn always opens with a thread event. While the engine streams, each
// tool call and each piece of new assistant text is reported once. When
// the stream ends the bridge asks the engine where it stopped: an
// ask-user node yields ask_user, anything else yields final. A failure or
// a turn running past its timeout yields error instead.
//
// Resuming a paused thread is PendingAsk, then InjectReply, then Run with
// a nil input and the ask's snapshot as Prior.
package bridge
