// Package chat bridges Twitch chat into the vote pipeline.
//
// StartVoteBot connects to Twitch IRC for TWITCH_CHANNEL and treats
// "!vote <item-id>" messages as votes for the tournament named by
// TOURNAMENT_ID. Each chatter's login becomes their voter key, so a chatter
// gets the same one-vote-per-match dedup as an HTTP client, and their votes
// fan out to stream subscribers like any other.
//
// Credentials: the IRC client requires a bot username (TWITCH_BOT_USERNAME)
// and an OAuth token (TWITCH_OAUTH_TOKEN) with chat:read scope. Without
// them the bot is disabled and the rest of the service runs normally.
package chat
