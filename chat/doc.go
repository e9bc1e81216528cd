// Package chat is the Twitch chat transport for the bot core.
//
// TwitchTransport keeps an IRC connection per account: the streamer account
// listens to the channel and feeds inbound messages to registered handlers;
// the optional bot account is preferred for outbound messages. Outbound text
// is split into fragments of at most MaxMessageLength characters. Messages the
// streamer account sends into the channel are echoed back through the message
// handlers, because IRC never delivers a client's own messages to it.
//
// Whispers and moderation (delete, timeout, ban) are not IRC commands any more;
// they go through Helix via the Moderator interface.
package chat
