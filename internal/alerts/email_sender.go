package alerts

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
	"time"
)

const (
	smtpSecurityNone     = "none"
	smtpSecurityStartTLS = "starttls"
	smtpSecurityTLS      = "tls"
)

type EmailOptions struct {
	Host          string
	Port          int
	Username      string
	Password      string
	From          string
	ReplyTo       string
	Security      string
	Timeout       time.Duration
	SkipTLSVerify bool
	Logger        *slog.Logger
}

// EmailDispatcher mails a notification to every address on its route. Route entries that
// are not email addresses are skipped.
type EmailDispatcher struct {
	host          string
	port          int
	username      string
	password      string
	from          string
	replyTo       string
	security      string
	timeout       time.Duration
	skipTLSVerify bool
	log           *slog.Logger
}

func NewEmailDispatcher(opts EmailOptions) *EmailDispatcher {
	security := strings.ToLower(strings.TrimSpace(opts.Security))
	switch security {
	case smtpSecurityNone, smtpSecurityStartTLS, smtpSecurityTLS:
	default:
		security = smtpSecurityStartTLS
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailDispatcher{
		host:          strings.TrimSpace(opts.Host),
		port:          opts.Port,
		username:      strings.TrimSpace(opts.Username),
		password:      opts.Password,
		from:          strings.TrimSpace(opts.From),
		replyTo:       strings.TrimSpace(opts.ReplyTo),
		security:      security,
		timeout:       timeout,
		skipTLSVerify: opts.SkipTLSVerify,
		log:           logger.With("component", "alert_email_dispatcher"),
	}
}

// Dispatch implements Dispatcher.
func (s *EmailDispatcher) Dispatch(ctx context.Context, n Notification) error {
	recipients := emailRecipients(n.RouteTo)
	if len(recipients) == 0 {
		return nil
	}
	if s.host == "" || s.port == 0 || s.from == "" {
		return fmt.Errorf("smtp is not configured")
	}

	var errs []string
	for _, recipient := range recipients {
		if err := s.sendEmail(ctx, recipient, s.buildMessage(n, recipient)); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", recipient, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("email delivery failed: %s", strings.Join(errs, "; "))
	}
	s.log.Debug("email notification sent", "subject_id", n.SubjectID, "recipients", len(recipients))
	return nil
}

func (s *EmailDispatcher) buildMessage(n Notification, recipient string) []byte {
	headers := []string{
		fmt.Sprintf("From: %s", s.from),
		fmt.Sprintf("To: %s", recipient),
		fmt.Sprintf("Subject: %s", emailSubject(n)),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=\"UTF-8\"",
	}
	if s.replyTo != "" {
		headers = append(headers, fmt.Sprintf("Reply-To: %s", s.replyTo))
	}
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + emailBody(n))
}

func emailSubject(n Notification) string {
	switch n.Kind {
	case KindDrift:
		return fmt.Sprintf("[checkchef] check %s changed upstream", n.Subject)
	case KindCheck:
		return fmt.Sprintf("[checkchef] check %s: %s", n.Subject, n.Status)
	default:
		if n.Resolved() {
			return fmt.Sprintf("[checkchef] %s RECOVERED", n.Subject)
		}
		return fmt.Sprintf("[checkchef] %s %s", n.Subject, n.Status)
	}
}

func emailBody(n Notification) string {
	lines := []string{n.Message, ""}
	if n.Kind == KindService {
		lines = append(lines,
			fmt.Sprintf("Status: %s", n.Status),
			fmt.Sprintf("Previous: %s", n.Previous),
		)
	}
	lines = append(lines, fmt.Sprintf("At: %s", n.Timestamp.Format(time.RFC3339)))
	if n.Details != "" {
		lines = append(lines, "", n.Details)
	}
	return strings.Join(lines, "\n") + "\n"
}

func (s *EmailDispatcher) sendEmail(ctx context.Context, recipient string, message []byte) error {
	client, err := s.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Mail(s.from); err != nil {
		return err
	}
	if err := client.Rcpt(recipient); err != nil {
		return err
	}
	writer, err := client.Data()
	if err != nil {
		return err
	}
	if _, err := writer.Write(message); err != nil {
		_ = writer.Close()
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}
	return client.Quit()
}

func (s *EmailDispatcher) connect(ctx context.Context) (*smtp.Client, error) {
	address := fmt.Sprintf("%s:%d", s.host, s.port)
	dialer := &net.Dialer{Timeout: s.timeout}
	var (
		conn net.Conn
		err  error
	)
	if s.security == smtpSecurityTLS {
		tlsConfig := &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipTLSVerify} // #nosec G402
		conn, err = tls.DialWithDialer(dialer, "tcp", address, tlsConfig)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", address)
	}
	if err != nil {
		return nil, err
	}
	if s.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.timeout))
	}
	client, err := smtp.NewClient(conn, s.host)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if s.security == smtpSecurityStartTLS {
		if ok, _ := client.Extension("STARTTLS"); !ok {
			_ = client.Close()
			return nil, fmt.Errorf("smtp server does not support STARTTLS")
		}
		tlsConfig := &tls.Config{ServerName: s.host, InsecureSkipVerify: s.skipTLSVerify} // #nosec G402
		if err := client.StartTLS(tlsConfig); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	if s.username != "" {
		auth := smtp.PlainAuth("", s.username, s.password, s.host)
		if err := client.Auth(auth); err != nil {
			_ = client.Close()
			return nil, err
		}
	}
	return client, nil
}

func emailRecipients(route []string) []string {
	seen := make(map[string]struct{}, len(route))
	out := make([]string, 0, len(route))
	for _, r := range route {
		normalized := strings.TrimSpace(r)
		if !strings.Contains(normalized, "@") {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
