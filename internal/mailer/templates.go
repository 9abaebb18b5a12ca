package mailer

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
)

//go:embed templates/*.html
var emailTemplates embed.FS

// VerifyEmailData feeds the email-verification template.
type VerifyEmailData struct {
	FirstName  string
	LastName   string
	Hash       string
	ConfirmURL string
}

// TemplateEngine renders email bodies from the embedded templates,
// passing every literal string through the translator.
type TemplateEngine struct {
	templates  *template.Template
	translator Translator
}

// NewTemplateEngine parses the embedded templates.
func NewTemplateEngine(translator Translator) (*TemplateEngine, error) {
	if translator == nil {
		translator = NoopTranslator{}
	}
	funcMap := template.FuncMap{
		"t": translator.Translate,
	}
	tpl, err := template.New("emails").Funcs(funcMap).ParseFS(emailTemplates, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("mailer: parse templates: %w", err)
	}
	return &TemplateEngine{templates: tpl, translator: translator}, nil
}

// RenderVerifyEmail produces the HTML body of the verification email.
func (e *TemplateEngine) RenderVerifyEmail(data VerifyEmailData) (string, error) {
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, "verify_email.html", data); err != nil {
		return "", fmt.Errorf("mailer: render verify email: %w", err)
	}
	return buf.String(), nil
}
