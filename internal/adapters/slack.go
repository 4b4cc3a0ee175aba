package adapters

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

// SlackAdapter converts Slack message events into inbound events and posts
// replies back to the originating channel via the Web API client, the way
// the teacher's internal/channels/slack adapter does.
type SlackAdapter struct {
	client     *slack.Client
	dispatcher *Dispatcher
	principal  string
}

// NewSlackAdapter builds a Slack adapter around a bot token client.
func NewSlackAdapter(botToken string, dispatcher *Dispatcher, principal string) *SlackAdapter {
	return &SlackAdapter{client: slack.New(botToken), dispatcher: dispatcher, principal: principal}
}

// HandleMessageEvent converts a Slack app-mention/message event into an
// InboundEvent and dispatches it, deduping on the Slack event's own
// (channel, timestamp) pair.
func (a *SlackAdapter) HandleMessageEvent(ctx context.Context, ev *slackevents.MessageEvent) (Outcome, error) {
	eventKey := fmt.Sprintf("slack:%s:%s", ev.Channel, ev.TimeStamp)
	if a.dispatcher.Seen(eventKey) {
		return OutcomeProcessed, nil
	}
	evt := InboundEvent{
		Source:    "slack",
		ChannelID: ev.Channel,
		EventKey:  eventKey,
		Prompt:    ev.Text,
		RunID:     ev.TimeStamp,
	}
	return a.dispatcher.Handle(ctx, evt, a.principal, a)
}

// PostReply implements Reply by posting text back to the Slack channel.
func (a *SlackAdapter) PostReply(ctx context.Context, evt InboundEvent, text string) error {
	_, _, err := a.client.PostMessageContext(ctx, evt.ChannelID, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("adapters: post slack reply: %w", err)
	}
	return nil
}
