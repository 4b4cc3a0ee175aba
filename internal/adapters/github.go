package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// GitHubIssueCommentEvent is the subset of a GitHub "issue_comment" webhook
// payload the adapter needs.
type GitHubIssueCommentEvent struct {
	Owner      string
	Repo       string
	IssueNum   int
	CommentID  int64
	Body       string
	SenderLogin string
}

// GitHubAdapter converts issue-comment webhook events into inbound events
// and posts the agent's reply back as a new issue comment. It talks to the
// REST API directly over net/http: no GitHub SDK is vendored in this stack,
// and the surface needed here (one POST to create a comment) doesn't
// warrant pulling one in.
type GitHubAdapter struct {
	httpClient *http.Client
	token      string
	dispatcher *Dispatcher
	principal  string
	baseURL    string // override for tests; defaults to https://api.github.com
}

// NewGitHubAdapter builds a GitHub adapter authenticating with token (a
// personal access token or an installation token).
func NewGitHubAdapter(token string, dispatcher *Dispatcher, principal string) *GitHubAdapter {
	return &GitHubAdapter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		token:      token,
		dispatcher: dispatcher,
		principal:  principal,
		baseURL:    "https://api.github.com",
	}
}

// HandleIssueComment converts ev into an InboundEvent and dispatches it,
// deduping on the comment's immutable id.
func (a *GitHubAdapter) HandleIssueComment(ctx context.Context, ev GitHubIssueCommentEvent) (Outcome, error) {
	eventKey := fmt.Sprintf("github:%s/%s#%d:comment:%d", ev.Owner, ev.Repo, ev.IssueNum, ev.CommentID)
	if a.dispatcher.Seen(eventKey) {
		return OutcomeProcessed, nil
	}
	evt := InboundEvent{
		Source:    "github",
		ChannelID: fmt.Sprintf("%s/%s#%d", ev.Owner, ev.Repo, ev.IssueNum),
		EventKey:  eventKey,
		Prompt:    ev.Body,
		RunID:     fmt.Sprintf("comment-%d", ev.CommentID),
	}
	return a.dispatcher.Handle(ctx, evt, a.principal, &githubReplyTarget{adapter: a, owner: ev.Owner, repo: ev.Repo, issueNum: ev.IssueNum})
}

type githubReplyTarget struct {
	adapter  *GitHubAdapter
	owner    string
	repo     string
	issueNum int
}

func (t *githubReplyTarget) PostReply(ctx context.Context, evt InboundEvent, text string) error {
	return t.adapter.postComment(ctx, t.owner, t.repo, t.issueNum, text)
}

func (a *GitHubAdapter) postComment(ctx context.Context, owner, repo string, issueNum int, body string) error {
	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d/comments", a.baseURL, owner, repo, issueNum)
	payload, err := json.Marshal(map[string]string{"body": body})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("adapters: post github comment: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("adapters: github comment create failed: %s: %s", resp.Status, string(data))
	}
	return nil
}
