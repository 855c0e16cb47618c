package chat

import (
	"context"
	"log/slog"
	"os"
	"strings"

	twitch "github.com/gempir/go-twitch-irc/v4"

	"github.com/onnwee/bracket-live/backend/session"
	"github.com/onnwee/bracket-live/backend/telemetry"
	"github.com/onnwee/bracket-live/backend/vote"
)

// VoteRecorder is the slice of the vote service the bot needs. Chat votes go
// through the same write path as HTTP votes, so dedup and broadcast apply.
type VoteRecorder interface {
	RecordVote(ctx context.Context, tournamentID string, matchIndex int, itemID, voterKey string) (vote.Vote, vote.Tally, error)
}

// ProgressSource resolves which match a chat vote lands on.
type ProgressSource interface {
	LoadProgress(ctx context.Context, tournamentID string) (session.Progress, error)
}

const voteCommand = "!vote"

// StartVoteBot joins TWITCH_CHANNEL and turns "!vote <item-id>" messages into
// votes for the tournament named by TOURNAMENT_ID, attributed to the chatter's
// login. Blocks until the context is cancelled. If credentials are not
// configured the bot logs and returns immediately.
func StartVoteBot(ctx context.Context, votes VoteRecorder, progress ProgressSource) {
	channel := os.Getenv("TWITCH_CHANNEL")
	username := os.Getenv("TWITCH_BOT_USERNAME")
	oauth := os.Getenv("TWITCH_OAUTH_TOKEN")
	tournamentID := os.Getenv("TOURNAMENT_ID")
	if channel == "" || username == "" || oauth == "" || tournamentID == "" {
		slog.Info("twitch creds or tournament not set; skipping chat vote bot")
		return
	}
	client := twitch.NewClient(username, oauth)

	client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		HandleChatVote(ctx, votes, progress, tournamentID, msg.User.Name, msg.Message)
	})

	// Handle context cancellation by closing the client
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		client.Disconnect()
		close(done)
	}()

	client.Join(channel)
	slog.Info("chat vote bot connecting",
		slog.String("channel", channel), slog.String("tournament_id", tournamentID))
	if err := client.Connect(); err != nil {
		slog.Error("twitch chat connect error", slog.Any("err", err))
	}
	<-done
}

// HandleChatVote parses one chat message and records a vote if it is a vote
// command. Non-command chatter is ignored. Invalid votes (wrong item, no
// live match) are dropped with a debug log; chat is too noisy to respond to
// every bad command.
func HandleChatVote(ctx context.Context, votes VoteRecorder, progress ProgressSource, tournamentID, login, message string) {
	itemID, ok := parseVoteCommand(message)
	if !ok {
		return
	}
	log := telemetry.LoggerWithCorr(ctx)

	p, err := progress.LoadProgress(ctx, tournamentID)
	if err != nil {
		log.Warn("chat vote: progress unavailable",
			slog.String("tournament_id", tournamentID), slog.Any("err", err))
		return
	}
	if p.Completed() || len(p.Matches) == 0 {
		log.Debug("chat vote ignored; no live match",
			slog.String("tournament_id", tournamentID), slog.String("login", login))
		return
	}

	voterKey := "twitch:" + strings.ToLower(login)
	if _, _, err := votes.RecordVote(ctx, tournamentID, p.CurrentMatchIndex, itemID, voterKey); err != nil {
		log.Debug("chat vote rejected",
			slog.String("tournament_id", tournamentID),
			slog.String("login", login),
			slog.String("item_id", itemID),
			slog.Any("err", err))
	}
}

// parseVoteCommand extracts the item id from a "!vote <item-id>" message.
// Extra arguments after the item are tolerated and ignored.
func parseVoteCommand(message string) (string, bool) {
	fields := strings.Fields(strings.TrimSpace(message))
	if len(fields) < 2 || !strings.EqualFold(fields[0], voteCommand) {
		return "", false
	}
	return fields[1], true
}
