package main

import (
	"bytes"
	"html/template"

	"github.com/go-mail/mail/v2"
)

// mailSender lets tests swap the SMTP mailer for a recording fake.
type mailSender interface {
	send(to string, tmpl *template.Template, data any) error
}

var otpEmailTemplate = template.Must(template.New("otp_email").Parse(`
{{define "subject"}}Password Reset OTP - Todo App{{end}}

{{define "plainBody"}}
Hello,

We received a request to reset your password for the Todo App.
Your One Time Password (OTP) is: {{.Code}}

This OTP will expire in {{.Minutes}} minutes. If you did not request a
password reset, please ignore this email.

Thank you,
Todo App Team
{{end}}

{{define "htmlBody"}}
<html>
<body>
	<h2>Password Reset Request</h2>
	<p>Hello,</p>
	<p>We received a request to reset your password for the Todo App. Here is your One Time Password (OTP):</p>
	<h3 style="background-color: #f2f2f2; padding: 10px; font-size: 24px; letter-spacing: 5px; text-align: center;">{{.Code}}</h3>
	<p>This OTP will expire in {{.Minutes}} minutes. If you did not request a password reset, please ignore this email.</p>
	<p>Thank you,<br>Todo App Team</p>
</body>
</html>
{{end}}
`))

type mailer struct {
	dailer *mail.Dialer
	sender string
}

func newMailer(host string, port int, username string, password string, sender string) *mailer {
	dailer := mail.NewDialer(host, port, username, password)
	return &mailer{
		dailer: dailer,
		sender: sender,
	}
}

func (m *mailer) send(to string, tmpl *template.Template, data any) error {
	var subject bytes.Buffer
	err := tmpl.ExecuteTemplate(&subject, "subject", data)
	if err != nil {
		return err
	}
	var plainBody bytes.Buffer
	err = tmpl.ExecuteTemplate(&plainBody, "plainBody", data)
	if err != nil {
		return err
	}
	var htmlBody bytes.Buffer
	err = tmpl.ExecuteTemplate(&htmlBody, "htmlBody", data)
	if err != nil {
		return err
	}

	msg := mail.NewMessage()
	msg.SetHeader("To", to)
	msg.SetHeader("From", m.sender)
	msg.SetHeader("Subject", subject.String())
	msg.SetBody("text/plain", plainBody.String())
	msg.SetBody("text/html", htmlBody.String())

	for i := 0; i < 3; i++ {
		err = m.dailer.DialAndSend(msg)
		if err == nil {
			break
		}
	}
	return err
}
