// Package chat connects to Twitch chat for one channel and moves its messages
// off the network goroutine.
//
// It provides three pieces:
//   - Session.Open: authenticates to Twitch IRC with a user token
//     ("oauth:<token>") and the account's display name, joins exactly one
//     channel and returns a Stream once Twitch confirms the join.
//   - Stream: the channel's messages in arrival order. Recv blocks for the
//     next one. Nothing is filtered, synthesized or rate limited. The stream
//     ends on Close, when the connection drops or when Twitch sends RECONNECT.
//     The IRC client redials on its own after a drop; a second welcome or a
//     RECONNECT ends the stream with ErrConnectionLost and the redialed
//     connection is disconnected, so a stream is never resumed.
//   - Worker: pulls from a Source on its own goroutine and hands every message
//     to a Sink. Any source failure ends the worker and is reported once to
//     its ErrSink. There is no reconnect at this layer.
//
// Archive is an optional Sink that records messages into the chat_messages
// table (see package db) when CHAT_ARCHIVE_DSN is configured. It runs behind
// a Queue so inserts never delay the sinks ahead of it.
package chat
