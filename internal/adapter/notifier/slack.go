package notifier

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hive-corporation/sitescan/internal/core/domain"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// Groups listed in a single alert before the rest is summarized.
const maxAlertGroups = 5

type SlackNotifier struct {
	botToken    string
	channel     string
	mentionTeam string
	apiURL      string
	httpClient  *http.Client
}

type Option func(*SlackNotifier)

// WithAPIURL overrides the chat.postMessage endpoint.
func WithAPIURL(u string) Option {
	return func(s *SlackNotifier) { s.apiURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(s *SlackNotifier) { s.httpClient = c }
}

func NewSlackNotifier(botToken, channel, mentionTeam string, opts ...Option) *SlackNotifier {
	s := &SlackNotifier{
		botToken:    botToken,
		channel:     channel,
		mentionTeam: mentionTeam,
		apiURL:      slackPostMessageURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NotifyScanAlert posts a scan whose threat category is red or whose risk
// levels disagree.
func (s *SlackNotifier) NotifyScanAlert(summary domain.ScanSummary) error {
	payload := SlackMessage{
		Channel: s.channel,
		Blocks:  s.buildScanAlertBlocks(summary),
		Text:    fmt.Sprintf("⚠️ Scan alert for %s: threat %s, risk %s", summary.URL, summary.Threat.CombinedCategory, summary.Risk.LocalLevel),
	}

	return s.sendMessage(payload)
}

func (s *SlackNotifier) buildScanAlertBlocks(summary domain.ScanSummary) []SlackBlock {
	categoryEmoji := map[domain.ThreatCategory]string{
		domain.ThreatRed:    "🔴",
		domain.ThreatOrange: "🟠",
		domain.ThreatGreen:  "🟢",
	}
	emoji := categoryEmoji[summary.Threat.CombinedCategory]
	if emoji == "" {
		emoji = "⚠️"
	}

	riskText := string(summary.Risk.LocalLevel)
	if summary.Risk.Discrepant {
		riskText = fmt.Sprintf("%s (source says %s)", summary.Risk.LocalLevel, summary.Risk.SourceLevel)
	}

	origin := "reported by source"
	if summary.Threat.Derived {
		origin = "derived"
	}

	blocks := []SlackBlock{
		{
			Type: "header",
			Text: &SlackText{
				Type: "plain_text",
				Text: fmt.Sprintf("%s Website Scan Alert", emoji),
			},
		},
		{
			Type: "section",
			Fields: []SlackText{
				{Type: "mrkdwn", Text: fmt.Sprintf("*URL*\n%s", summary.URL)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Risk*\n%d/100, %s", summary.Risk.Score, riskText)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Threat score*\n%d/100 (%s)", summary.Threat.CombinedScore, origin)},
				{Type: "mrkdwn", Text: fmt.Sprintf("*Abuse category*\n%s", summary.Threat.AbuseCategory)},
			},
		},
		{Type: "divider"},
	}

	for i, group := range summary.Groups {
		if i >= maxAlertGroups {
			blocks = append(blocks, SlackBlock{
				Type: "section",
				Text: &SlackText{
					Type: "mrkdwn",
					Text: fmt.Sprintf("_...and %d more findings_", len(summary.Groups)-maxAlertGroups),
				},
			})
			break
		}

		text := fmt.Sprintf("*%s* `%s` ×%d\n%s",
			strings.ToUpper(string(group.SeverityOrDefault())), group.Type, group.Count, group.Message)
		if group.Recommendation != "" {
			text += fmt.Sprintf("\n• %s", group.Recommendation)
		}

		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{Type: "mrkdwn", Text: text},
		})
	}

	contextText := fmt.Sprintf("Scanned %s", summary.ScanDate)
	if summary.ScanID != "" {
		contextText += fmt.Sprintf(" | Scan ID: *%s*", summary.ScanID)
	}
	blocks = append(blocks, SlackBlock{
		Type:     "context",
		Elements: []SlackText{{Type: "mrkdwn", Text: contextText}},
	})

	if s.mentionTeam != "" {
		blocks = append(blocks, SlackBlock{
			Type: "section",
			Text: &SlackText{
				Type: "mrkdwn",
				Text: fmt.Sprintf("🔔 %s", s.mentionTeam),
			},
		})
	}

	return blocks
}

// Send message to Slack
func (s *SlackNotifier) sendMessage(msg SlackMessage) error {
	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal Slack message: %w", err)
	}

	req, err := http.NewRequest("POST", s.apiURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.botToken)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode)
	}

	// Slack reports most failures with 200 and ok=false
	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK && result.Error != "" {
		return fmt.Errorf("slack API error: %s", result.Error)
	}

	return nil
}

// Slack API structures

type SlackMessage struct {
	Channel string       `json:"channel"`
	Blocks  []SlackBlock `json:"blocks"`
	Text    string       `json:"text"` // Fallback text
}

type SlackBlock struct {
	Type     string      `json:"type"`
	Text     *SlackText  `json:"text,omitempty"`
	Fields   []SlackText `json:"fields,omitempty"`
	Elements []SlackText `json:"elements,omitempty"`
}

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
