// Package email sends a doodle to a visitor's inbox via SMTP.
//
// The message body is a fixed template. Callers choose only the recipient and
// the image, so the endpoint cannot be used to relay arbitrary content.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/Moonto97/DoodleAnalyzer/internal/apperr"
	"github.com/sirupsen/logrus"
)

const (
	Subject        = "🎨 낙서 분석가 - 작품 분석 결과"
	ImageContentID = "analysis_image"
	ImageFilename  = "doodle_analysis.png"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	Timeout  time.Duration
}

type sendFunc func(ctx context.Context, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	log    logrus.FieldLogger
}

// NewService creates a new email service
func NewService(config Config, log logrus.FieldLogger) *Service {
	if config.From == "" {
		config.From = config.Username
	}
	if config.Timeout <= 0 {
		config.Timeout = 20 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Service{
		config: config,
		server: net.JoinHostPort(config.Host, config.Port),
		auth:   smtp.PlainAuth("", config.Username, config.Password, config.Host),
		log:    log.WithField("component", "email"),
	}
	s.send = s.dialAndSend
	return s
}

// IsConfigured returns true if host, port and credentials are all set
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.Username != "" && s.config.Password != ""
}

// ValidateRecipient checks the recipient and image before anything is sent.
func ValidateRecipient(to, image string) error {
	if to == "" || !strings.Contains(to, "@") || !strings.Contains(to, ".") {
		return apperr.Validation("올바른 이메일 주소가 필요합니다.")
	}
	if strings.ContainsAny(to, "\r\n") {
		return apperr.Validation("올바른 이메일 주소가 필요합니다.")
	}
	if image == "" {
		return apperr.Validation("이미지 데이터가 필요합니다.")
	}
	return nil
}

// SendDoodle mails the fixed result template to `to` with image attached
// inline.
func (s *Service) SendDoodle(ctx context.Context, to, image string) error {
	if err := ValidateRecipient(to, image); err != nil {
		return err
	}
	if !s.IsConfigured() {
		return apperr.Configuration("SMTP 설정이 완료되지 않았습니다.")
	}

	png, err := DecodeImage(image)
	if err != nil {
		return apperr.Validation("이미지 데이터를 해석할 수 없습니다.")
	}

	msg, err := s.buildMessage(to, png)
	if err != nil {
		return apperr.Upstream("이메일을 구성하지 못했습니다.", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()
	if err := s.send(ctx, s.config.From, []string{to}, msg); err != nil {
		s.log.WithError(err).Warn("smtp send failed")
		return apperr.Upstream(err.Error(), err)
	}
	return nil
}

// DecodeImage strips an optional data-URI header and base64-decodes the rest.
func DecodeImage(image string) ([]byte, error) {
	payload := image
	if i := strings.Index(payload, ","); i >= 0 {
		payload = payload[i+1:]
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil, errors.New("empty image payload")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return data, nil
}

func (s *Service) fromHeader() string {
	addr := mail.Address{Name: s.config.FromName, Address: s.config.From}
	return addr.String()
}

// buildMessage renders a multipart/related message: the HTML body followed
// by the image part it references by Content-ID.
func (s *Service) buildMessage(to string, png []byte) ([]byte, error) {
	html, err := renderTemplate(resultEmailTemplate, resultEmailData{
		AppName:   "낙서 분석가",
		ContentID: ImageContentID,
	})
	if err != nil {
		return nil, fmt.Errorf("render result template: %w", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	htmlPart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/html; charset=UTF-8"},
		"Content-Transfer-Encoding": {"base64"},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(htmlPart, []byte(html)); err != nil {
		return nil, err
	}

	imagePart, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {fmt.Sprintf("image/png; name=%q", ImageFilename)},
		"Content-Transfer-Encoding": {"base64"},
		"Content-ID":                {"<" + ImageContentID + ">"},
		"Content-Disposition":       {fmt.Sprintf("inline; filename=%q", ImageFilename)},
	})
	if err != nil {
		return nil, err
	}
	if err := writeBase64(imagePart, png); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", Subject))
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/related; boundary=%q; type=\"text/html\"\r\n", mw.Boundary())
	fmt.Fprintf(&msg, "\r\n")
	msg.Write(body.Bytes())
	return msg.Bytes(), nil
}

// writeBase64 writes data base64-encoded in 76 character lines.
func writeBase64(w interface{ Write([]byte) (int, error) }, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for len(encoded) > 76 {
		if _, err := fmt.Fprintf(w, "%s\r\n", encoded[:76]); err != nil {
			return err
		}
		encoded = encoded[76:]
	}
	_, err := fmt.Fprintf(w, "%s\r\n", encoded)
	return err
}

// dialAndSend is smtp.SendMail with the connection bounded by ctx.
func (s *Service) dialAndSend(ctx context.Context, from string, to []string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", s.server)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: s.config.Host}); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(s.auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return err
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

type resultEmailData struct {
	AppName   string
	ContentID string
}

func renderTemplate(tmpl string, data any) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const resultEmailTemplate = `<div style="max-width:700px;margin:0 auto;font-family:'Apple SD Gothic Neo','Malgun Gothic',sans-serif;background:#FFFCF2;padding:30px;border-radius:16px;border:2px solid #FFD700;">
    <h1 style="text-align:center;color:#FF6B6B;">🎨 {{.AppName}}</h1>
    <p style="text-align:center;color:#888;font-style:italic;">- 모든 낙서는 무의식을 투영한다 -</p>
    <hr style="border:none;border-top:1px dashed #FFD700;margin:20px 0;">
    <p style="text-align:center;color:#555;">당신의 낙서 분석 결과가 도착했습니다!</p>
    <div style="text-align:center;margin:20px 0;">
        <img src="cid:{{.ContentID}}" style="max-width:100%;border-radius:12px;box-shadow:0 4px 20px rgba(0,0,0,0.1);">
    </div>
    <p style="text-align:center;color:#aaa;font-size:0.85em;margin-top:20px;">{{.AppName}} · Doodle Analyzer</p>
</div>`
