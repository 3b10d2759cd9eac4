package services

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
)

// Notifier receives account events. Implementations must not block and must
// not report delivery failures back to the caller.
type Notifier interface {
	NotifyManualReviewNeeded(user models.User, candidate models.CompanyCandidate)
	NotifyApproved(user models.User, company models.CompanyAssociation)
	NotifyTrialActivation(user models.User, trialKey string)
	SendMail(user models.User, mailType models.MailType, data map[string]interface{})
}

type notificationKind string

const (
	notifyManualReview notificationKind = "manual_review"
	notifyApproved     notificationKind = "approved"
	notifyTrial        notificationKind = "trial_activation"
	notifyMail         notificationKind = "mail"
)

type notification struct {
	kind      notificationKind
	user      models.User
	candidate models.CompanyCandidate
	company   models.CompanyAssociation
	mailType  models.MailType
	data      map[string]interface{}
}

// NotificationService delivers notifications from a buffered queue on a
// single worker goroutine.
type NotificationService struct {
	Slack     *SlackService
	Mail      *MailService
	App       config.ApplicationConfig
	TrialDays int
	Timeout   time.Duration

	queue  chan notification
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func NewNotificationService(slack *SlackService, mail *MailService, app config.ApplicationConfig, trialDays, queueSize int) *NotificationService {
	if queueSize <= 0 {
		queueSize = 500
	}
	s := &NotificationService{
		Slack:     slack,
		Mail:      mail,
		App:       app,
		TrialDays: trialDays,
		Timeout:   30 * time.Second,
		queue:     make(chan notification, queueSize),
		done:      make(chan struct{}),
	}
	go s.processQueue()
	return s
}

func (s *NotificationService) NotifyManualReviewNeeded(user models.User, candidate models.CompanyCandidate) {
	s.enqueue(notification{kind: notifyManualReview, user: user, candidate: candidate})
}

func (s *NotificationService) NotifyApproved(user models.User, company models.CompanyAssociation) {
	s.enqueue(notification{kind: notifyApproved, user: user, company: company})
}

func (s *NotificationService) NotifyTrialActivation(user models.User, trialKey string) {
	s.enqueue(notification{kind: notifyTrial, user: user, data: map[string]interface{}{"Key": trialKey}})
}

func (s *NotificationService) SendMail(user models.User, mailType models.MailType, data map[string]interface{}) {
	s.enqueue(notification{kind: notifyMail, user: user, mailType: mailType, data: data})
}

func (s *NotificationService) enqueue(n notification) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		logger.Warn("notification_dropped", map[string]interface{}{
			"kind":   string(n.kind),
			"reason": "service closed",
		})
		return
	}

	select {
	case s.queue <- n:
	default:
		logger.Warn("notification_queue_full", map[string]interface{}{
			"kind":    string(n.kind),
			"user_id": n.user.ID.String(),
			"dropped": true,
		})
	}
}

// Close stops accepting notifications and waits until queued ones are sent.
func (s *NotificationService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
}

func (s *NotificationService) processQueue() {
	defer close(s.done)
	for n := range s.queue {
		s.deliver(n)
	}
}

func (s *NotificationService) deliver(n notification) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	switch n.kind {
	case notifyManualReview:
		s.report(n, "slack", s.Slack.SendRegistrationReview(ctx, n.user, n.candidate))
		if mailType, ok := s.manualReviewMailType(n.user); ok {
			s.report(n, "mail", s.sendMail(ctx, n.user, mailType, nil))
		}
	case notifyApproved:
		mailType, data := approvalMail(n.user, n.company)
		s.report(n, "mail", s.sendMail(ctx, n.user, mailType, data))
		s.report(n, "slack", s.Slack.SendApprovedConfirmation(ctx, n.user))
	case notifyTrial:
		data := map[string]interface{}{"TrialDays": s.TrialDays}
		for k, v := range n.data {
			data[k] = v
		}
		s.report(n, "mail", s.sendMail(ctx, n.user, models.MailTypeActivateFreeTrial, data))
	case notifyMail:
		s.report(n, "mail", s.sendMail(ctx, n.user, n.mailType, n.data))
	}
}

func (s *NotificationService) sendMail(ctx context.Context, user models.User, mailType models.MailType, data map[string]interface{}) error {
	if s.Mail == nil {
		return nil
	}
	return s.Mail.Send(ctx, user, mailType, data)
}

func (s *NotificationService) report(n notification, channel string, err error) {
	if err == nil {
		return
	}
	logger.Warn("notification_delivery_failed", map[string]interface{}{
		"kind":    string(n.kind),
		"channel": channel,
		"user_id": n.user.ID.String(),
		"error":   err.Error(),
	})
}

// manualReviewMailType picks the follow-up mail for an account waiting for
// review: the intake form for commercial licenses, or a request to clarify the
// affiliation of academic users on free mail providers.
func (s *NotificationService) manualReviewMailType(user models.User) (models.MailType, bool) {
	if mailType, ok := models.IntakeFormMailType(user.LicenseType); ok {
		return mailType, true
	}
	if user.LicenseType == models.LicenseTypeAcademic && slices.Contains(s.App.AcademicClarifyDomains, emailDomain(user.Email)) {
		return models.MailTypeClarifyAcademicNonInstituteEmail, true
	}
	return "", false
}

// approvalMail explains the license change when a user registered with a
// different license type than the company they were attached to.
func approvalMail(user models.User, association models.CompanyAssociation) (models.MailType, map[string]interface{}) {
	associated, ok := association.(models.AssociatedCompany)
	if !ok {
		return models.MailTypeApproval, nil
	}

	data := map[string]interface{}{"CompanyName": associated.Company.Name}
	if user.Details != nil && user.Details.LicenseType != "" && user.Details.LicenseType != associated.Company.LicenseType {
		return models.MailTypeApprovalAlignLicenseWithCompany, data
	}
	return models.MailTypeApproval, data
}
