package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var verificationTemplate = template.Must(template.New("verify").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>Welcome to Acero, {{.Name}}</h2>
  <p>Please confirm your email address to finish setting up your account.</p>
  <p><a href="{{.Link}}" style="background:#1f4e79;color:#fff;padding:10px 18px;text-decoration:none;border-radius:4px;">Verify email</a></p>
  <p>If the button does not work, copy this link into your browser:</p>
  <p>{{.Link}}</p>
  <p>This link expires in {{.ExpiresIn}}.</p>
</body>
</html>`))

type verificationData struct {
	Name      string
	Link      string
	ExpiresIn string
}

// VerificationEmail renders the account verification message.
func VerificationEmail(to, name, link, expiresIn string) (Email, error) {
	var buf bytes.Buffer
	err := verificationTemplate.Execute(&buf, verificationData{Name: name, Link: link, ExpiresIn: expiresIn})
	if err != nil {
		return Email{}, fmt.Errorf("render verification email: %w", err)
	}
	return Email{
		To:      to,
		Subject: "Verify your email address",
		HTML:    buf.String(),
	}, nil
}
