package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"strconv"

	"github.com/oncokb/backend/internal/config"
	"github.com/oncokb/backend/internal/models"
	"github.com/oncokb/backend/pkg/logger"
	"gorm.io/gorm"
)

//go:embed templates/*.html
var mailTemplateFS embed.FS

type mailTemplate struct {
	file    string
	subject string
}

var mailTemplates = map[models.MailType]mailTemplate{
	models.MailTypeActivation:                       {file: "activation.html", subject: "OncoKB account activation"},
	models.MailTypeApproval:                         {file: "approval.html", subject: "Your OncoKB account has been approved"},
	models.MailTypeApprovalAlignLicenseWithCompany:  {file: "approval_align_license.html", subject: "Your OncoKB account has been approved"},
	models.MailTypePasswordReset:                    {file: "password_reset.html", subject: "OncoKB password reset"},
	models.MailTypeActivateFreeTrial:                {file: "activate_free_trial.html", subject: "Activate your OncoKB trial account"},
	models.MailTypeClarifyAcademicNonInstituteEmail: {file: "clarify_academic_email.html", subject: "Your OncoKB registration"},
	models.MailTypeIntakeFormCommercial:             {file: "intake_form.html", subject: "OncoKB commercial license request"},
	models.MailTypeIntakeFormResearchInCommercial:   {file: "intake_form.html", subject: "OncoKB research license request"},
	models.MailTypeIntakeFormHospital:               {file: "intake_form.html", subject: "OncoKB hospital license request"},
	models.MailTypeVerifyEmailBeforeAccountExpires:  {file: "verify_email.html", subject: "Please verify your email to extend your OncoKB account"},
}

type MailMessage struct {
	To      string
	Subject string
	HTML    string
}

type Mailer interface {
	Send(ctx context.Context, msg MailMessage) error
}

// SMTPMailer delivers mail over SMTP: implicit TLS on port 465, STARTTLS on
// 587 and 25, plain otherwise.
type SMTPMailer struct {
	Config config.MailConfig
}

func NewSMTPMailer(cfg config.MailConfig) *SMTPMailer {
	return &SMTPMailer{Config: cfg}
}

func (m *SMTPMailer) Send(_ context.Context, msg MailMessage) error {
	cfg := m.Config
	if cfg.Host == "" {
		return fmt.Errorf("SMTP not configured")
	}

	from := cfg.From
	if cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", cfg.FromName), cfg.From)
	}

	body := fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"MIME-Version: 1.0\r\n"+
		"Content-Type: text/html; charset=UTF-8\r\n"+
		"\r\n"+
		"%s", from, msg.To, mime.QEncoding.Encode("utf-8", msg.Subject), msg.HTML)

	addr := cfg.Host + ":" + strconv.Itoa(cfg.Port)

	var auth smtp.Auth
	if cfg.Username != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}

	switch cfg.Port {
	case 465:
		return m.sendWithTLS(addr, auth, msg.To, []byte(body))
	case 587, 25:
		return m.sendWithStartTLS(addr, auth, msg.To, []byte(body))
	default:
		return smtp.SendMail(addr, auth, cfg.From, []string{msg.To}, []byte(body))
	}
}

func (m *SMTPMailer) sendWithTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.Config.Host})
	if err != nil {
		return fmt.Errorf("TLS dial failed: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.Config.Host)
	if err != nil {
		return fmt.Errorf("SMTP client failed: %w", err)
	}
	defer client.Close()

	return m.deliver(client, auth, to, msg)
}

func (m *SMTPMailer) sendWithStartTLS(addr string, auth smtp.Auth, to string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("SMTP dial failed: %w", err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("HELLO failed: %w", err)
	}
	if err := client.StartTLS(&tls.Config{ServerName: m.Config.Host}); err != nil {
		return fmt.Errorf("STARTTLS failed: %w", err)
	}

	return m.deliver(client, auth, to, msg)
}

func (m *SMTPMailer) deliver(client *smtp.Client, auth smtp.Auth, to string, msg []byte) error {
	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP auth failed: %w", err)
		}
	}
	if err := client.Mail(m.Config.From); err != nil {
		return fmt.Errorf("MAIL FROM failed: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO failed: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA failed: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close failed: %w", err)
	}
	return client.Quit()
}

// MailService renders templated mails and records each delivery. With a nil
// Mailer it renders but does not send.
type MailService struct {
	DB          *gorm.DB
	Mailer      Mailer
	Clock       Clock
	From        string
	FrontendURL string
	App         config.ApplicationConfig
	templates   map[models.MailType]*template.Template
}

func NewMailService(db *gorm.DB, mailer Mailer, clock Clock, from, frontendURL string, app config.ApplicationConfig) (*MailService, error) {
	if clock == nil {
		clock = SystemClock{}
	}

	parsed := make(map[models.MailType]*template.Template, len(mailTemplates))
	for mailType, meta := range mailTemplates {
		tmpl, err := template.ParseFS(mailTemplateFS, "templates/layout.html", "templates/"+meta.file)
		if err != nil {
			return nil, fmt.Errorf("failed parsing mail template %s: %w", meta.file, err)
		}
		parsed[mailType] = tmpl
	}

	return &MailService{
		DB:          db,
		Mailer:      mailer,
		Clock:       clock,
		From:        from,
		FrontendURL: frontendURL,
		App:         app,
		templates:   parsed,
	}, nil
}

// Render builds the subject and HTML body of a mail for the user.
func (s *MailService) Render(user models.User, mailType models.MailType, data map[string]interface{}) (MailMessage, error) {
	meta, ok := mailTemplates[mailType]
	if !ok {
		return MailMessage{}, fmt.Errorf("unknown mail type %s", mailType)
	}

	payload := map[string]interface{}{
		"User":         user,
		"BaseURL":      s.FrontendURL,
		"ContactEmail": s.App.ContactEmail,
		"LicenseEmail": s.App.LicenseEmail,
		"MailType":     string(mailType),
		"LicenseName":  user.LicenseType.Name(),
	}
	for k, v := range data {
		payload[k] = v
	}

	var buf bytes.Buffer
	if err := s.templates[mailType].ExecuteTemplate(&buf, "layout", payload); err != nil {
		return MailMessage{}, fmt.Errorf("failed rendering %s: %w", mailType, err)
	}

	return MailMessage{To: user.Email, Subject: meta.subject, HTML: buf.String()}, nil
}

func (s *MailService) Send(ctx context.Context, user models.User, mailType models.MailType, data map[string]interface{}) error {
	msg, err := s.Render(user, mailType, data)
	if err != nil {
		return err
	}

	if s.Mailer == nil {
		logger.Info("mail_skipped", map[string]interface{}{
			"mail_type": string(mailType),
			"to":        user.Email,
			"reason":    "no mailer configured",
		})
		return nil
	}

	if err := s.Mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed sending %s to %s: %w", mailType, user.Email, err)
	}

	record := models.UserMail{
		UserID:   user.ID,
		MailType: mailType,
		SentFrom: s.From,
		SentBy:   "system",
		SentDate: s.Clock.Now(),
	}
	if err := s.DB.WithContext(ctx).Create(&record).Error; err != nil {
		logger.Warn("user_mail_record_failed", map[string]interface{}{
			"mail_type": string(mailType),
			"user_id":   user.ID.String(),
			"error":     err.Error(),
		})
	}

	logger.InfoWithUser(user.ID.String(), "mail_sent", map[string]interface{}{
		"mail_type": string(mailType),
	})
	return nil
}
