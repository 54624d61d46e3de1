package reconcile

import (
	"context"
	"html/template"
	"io"

	"github.com/a-h/templ"
)

type emailData struct {
	Name         string
	Email        string
	Password     string
	ProductName  string
	PlanName     string
	DashboardURL string
	SupportEmail string
}

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "layout_start"}}<!DOCTYPE html>
<html><body style="font-family:Arial,sans-serif;color:#1f2937;max-width:600px;margin:0 auto;padding:24px">
<h2 style="color:#2563eb">Omni Lead Pro</h2>
<p>Hi{{with .Name}} {{.}}{{end}},</p>{{end}}

{{define "layout_end"}}<p>If you have any questions, contact us at
<a href="mailto:{{.SupportEmail}}">{{.SupportEmail}}</a>.</p>
<p>The Omni Lead Pro Team</p>
</body></html>{{end}}

{{define "welcome"}}{{template "layout_start" .}}
<p>Thank you for subscribing to {{.ProductName}}. Your account is ready.</p>
<table style="border-collapse:collapse;margin:16px 0">
<tr><td style="padding:4px 12px 4px 0"><b>Email</b></td><td>{{.Email}}</td></tr>
<tr><td style="padding:4px 12px 4px 0"><b>Password</b></td><td><code>{{.Password}}</code></td></tr>
</table>
<p>Sign in to your dashboard at <a href="{{.DashboardURL}}">{{.DashboardURL}}</a> and change your password after the first login.</p>
{{template "layout_end" .}}{{end}}

{{define "thank_you"}}{{template "layout_start" .}}
<p>Thank you for your purchase of {{.ProductName}}. The new plan is already active on your account.</p>
<p>Sign in with your existing credentials at <a href="{{.DashboardURL}}">{{.DashboardURL}}</a> to manage your subscriptions.</p>
{{template "layout_end" .}}{{end}}
`))

func emailComponent(kind Kind, data emailData) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		return emailTemplates.ExecuteTemplate(w, string(kind), data)
	})
}
