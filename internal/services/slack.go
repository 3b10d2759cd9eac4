package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
)

const (
	SlackActionApproveUser = "approve-user"

	slackSignatureVersion = "v0"
	slackMaxClockSkew     = 5 * time.Minute
)

var (
	ErrSlackSignatureInvalid = errors.New("invalid slack signature")
	ErrSlackRequestTooOld    = errors.New("slack request timestamp out of range")
)

type SlackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type SlackElement struct {
	Type     string     `json:"type"`
	Text     *SlackText `json:"text,omitempty"`
	ActionID string     `json:"action_id,omitempty"`
	Value    string     `json:"value,omitempty"`
	Style    string     `json:"style,omitempty"`
	URL      string     `json:"url,omitempty"`
}

type SlackBlock struct {
	Type     string         `json:"type"`
	BlockID  string         `json:"block_id,omitempty"`
	Text     *SlackText     `json:"text,omitempty"`
	Fields   []SlackText    `json:"fields,omitempty"`
	Elements []SlackElement `json:"elements,omitempty"`
}

type SlackMessage struct {
	Text   string       `json:"text"`
	Blocks []SlackBlock `json:"blocks,omitempty"`
}

func markdown(text string) *SlackText {
	return &SlackText{Type: "mrkdwn", Text: text}
}

func plain(text string) *SlackText {
	return &SlackText{Type: "plain_text", Text: text}
}

// SlackService posts to an incoming webhook. Without a webhook URL every send
// is a no-op.
type SlackService struct {
	WebhookURL  string
	FrontendURL string
	App         config.ApplicationConfig
	HTTPClient  *http.Client
}

func NewSlackService(cfg config.SlackConfig, frontendURL string, app config.ApplicationConfig) *SlackService {
	return &SlackService{
		WebhookURL:  cfg.WebhookURL,
		FrontendURL: frontendURL,
		App:         app,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (s *SlackService) Enabled() bool {
	return s != nil && s.WebhookURL != ""
}

func (s *SlackService) Post(ctx context.Context, msg SlackMessage) error {
	if !s.Enabled() {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *SlackService) SendRegistrationReview(ctx context.Context, user models.User, candidate models.CompanyCandidate) error {
	if !s.Enabled() {
		return nil
	}
	return s.Post(ctx, s.RegistrationReviewMessage(user, candidate))
}

func (s *SlackService) SendApprovedConfirmation(ctx context.Context, user models.User) error {
	return s.Post(ctx, ApprovedConfirmationMessage(user))
}

func ApprovedConfirmationMessage(user models.User) SlackMessage {
	return SlackMessage{Text: fmt.Sprintf("%s has been approved and notified automatically", user.Email)}
}

// RegistrationReviewMessage builds the review request posted for accounts that
// could not be approved automatically.
func (s *SlackService) RegistrationReviewMessage(user models.User, candidate models.CompanyCandidate) SlackMessage {
	domain := emailDomain(user.Email)
	summary := fmt.Sprintf("*%s* registered for a *%s* license and needs review.", user.Email, user.LicenseType.Name())

	blocks := []SlackBlock{
		{Type: "section", Text: markdown(summary)},
		{Type: "section", Fields: userFields(user)},
	}

	var notes []string
	if user.LicenseType == models.LicenseTypeAcademic {
		if slices.Contains(s.App.AcademicClarifyDomains, domain) {
			notes = append(notes, ":warning: Academic registration with a non-institutional email address. A clarification email has been sent.")
		}
	} else if _, ok := models.IntakeFormMailType(user.LicenseType); ok {
		notes = append(notes, ":page_facing_up: The intake form has been sent to the user.")
	}
	if slices.Contains(s.App.LicensedDomains, domain) {
		notes = append(notes, fmt.Sprintf(":white_check_mark: The domain %s belongs to a licensed institution.", domain))
	}
	if company, ok := candidate.MatchedCompany(); ok {
		notes = append(notes, fmt.Sprintf(":bangbang: The domain %s belongs to *%s* (%s license, %s). Please review and approve accordingly.",
			domain, company.Name, strings.ToLower(string(company.LicenseModel)), strings.ToLower(string(company.LicenseStatus))))
	}
	for _, note := range notes {
		blocks = append(blocks, SlackBlock{Type: "section", Text: markdown(note)})
	}

	actions := []SlackElement{{
		Type:     "button",
		Text:     plain("Approve"),
		ActionID: SlackActionApproveUser,
		Value:    user.Login,
		Style:    "primary",
	}}
	if s.FrontendURL != "" {
		actions = append(actions, SlackElement{
			Type: "button",
			Text: plain("Open in admin"),
			URL:  fmt.Sprintf("%s/admin/users/%s", s.FrontendURL, user.Login),
		})
	}
	blocks = append(blocks, SlackBlock{Type: "actions", BlockID: "review-" + user.Login, Elements: actions})

	return SlackMessage{Text: summary, Blocks: blocks}
}

func userFields(user models.User) []SlackText {
	fields := []SlackText{
		{Type: "mrkdwn", Text: "*Name*\n" + user.FullName()},
		{Type: "mrkdwn", Text: "*Login*\n" + user.Login},
		{Type: "mrkdwn", Text: "*License*\n" + user.LicenseType.Name()},
	}
	if d := user.Details; d != nil {
		if d.JobTitle != "" {
			fields = append(fields, SlackText{Type: "mrkdwn", Text: "*Job title*\n" + d.JobTitle})
		}
		if d.CompanyName != "" {
			fields = append(fields, SlackText{Type: "mrkdwn", Text: "*Company*\n" + d.CompanyName})
		}
		if location := strings.Trim(d.City+", "+d.Country, ", "); location != "" {
			fields = append(fields, SlackText{Type: "mrkdwn", Text: "*Location*\n" + location})
		}
	}
	return fields
}

// SignSlackRequest computes the v0 signature Slack sends in X-Slack-Signature.
func SignSlackRequest(secret, timestamp string, body []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(slackSignatureVersion + ":" + timestamp + ":"))
	h.Write(body)
	return slackSignatureVersion + "=" + hex.EncodeToString(h.Sum(nil))
}

func VerifySlackRequest(secret, timestamp string, body []byte, signature string, now time.Time) error {
	if secret == "" {
		return ErrSlackSignatureInvalid
	}

	seconds, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSlackRequestTooOld
	}
	sent := time.Unix(seconds, 0)
	if now.Sub(sent) > slackMaxClockSkew || sent.Sub(now) > slackMaxClockSkew {
		return ErrSlackRequestTooOld
	}

	expected := SignSlackRequest(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrSlackSignatureInvalid
	}
	return nil
}

type SlackInteraction struct {
	Type string `json:"type"`
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Actions []struct {
		ActionID string `json:"action_id"`
		Value    string `json:"value"`
	} `json:"actions"`
}

func ParseSlackInteraction(payload string) (*SlackInteraction, error) {
	var interaction SlackInteraction
	if err := json.Unmarshal([]byte(payload), &interaction); err != nil {
		return nil, fmt.Errorf("invalid slack payload: %w", err)
	}
	return &interaction, nil
}
