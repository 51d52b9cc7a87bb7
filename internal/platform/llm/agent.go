package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
)

// replyPaths are the response fields hosted agents are known to answer in.
var replyPaths = []string{"reply", "text", "output", "answer", "message.content", "data.reply"}

// Agent forwards a question to a hosted conversational agent and returns its
// reply verbatim.
type Agent struct {
	http *resty.Client
}

func NewAgent(baseURL, token string, timeout time.Duration) *Agent {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &Agent{http: c}
}

// Ask sends the question with a session hint so the agent can keep per-scope
// context on its side.
func (a *Agent) Ask(ctx context.Context, question, session string) (string, error) {
	resp, err := a.http.R().
		SetContext(ctx).
		SetBody(map[string]string{"message": question, "session": session}).
		Post("/chat")
	if err != nil {
		return "", upstream("agent", err)
	}
	body := resp.Body()
	if resp.IsError() {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = resp.Status()
		}
		return "", upstream("agent", fmt.Errorf("status %d: %s", resp.StatusCode(), msg))
	}
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(body)), nil
	}
	for _, path := range replyPaths {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String {
			return strings.TrimSpace(r.String()), nil
		}
	}
	return "", nil
}
