package triage

import (
	"bytes"
	"os"
	"text/template"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/dealflow/internal/model"
)

// templateFile is the on-disk shape of an outreach template. Subject and
// body are text/template strings over the deal.
type templateFile struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Templates renders outreach drafts for queued deals.
type Templates struct {
	subject *template.Template
	body    *template.Template
}

const (
	defaultSubject = `Partnership / {{.Name}}`
	defaultBody    = `Hi {{.Name}} team,

Came across {{.Name}}{{if .URL}} ({{.URL}}){{end}} and was impressed by what you're building.
{{- if .Score}}
{{.Score.Summary}}
{{- end}}

Would love to find 20 minutes to hear where you're headed.

Best,
`
)

// DefaultTemplates returns the built-in outreach template.
func DefaultTemplates() *Templates {
	t, err := parseTemplates(defaultSubject, defaultBody)
	if err != nil {
		// The built-in strings are compile-time constants.
		panic(err)
	}
	return t
}

// LoadTemplates reads an outreach template from a YAML file.
func LoadTemplates(path string) (*Templates, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "triage: read template %s", path)
	}
	var f templateFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, eris.Wrapf(err, "triage: parse template %s", path)
	}
	if f.Subject == "" || f.Body == "" {
		return nil, eris.Errorf("triage: template %s missing subject or body", path)
	}
	return parseTemplates(f.Subject, f.Body)
}

func parseTemplates(subject, body string) (*Templates, error) {
	subjectTmpl, err := template.New("subject").Parse(subject)
	if err != nil {
		return nil, eris.Wrap(err, "triage: parse subject template")
	}
	bodyTmpl, err := template.New("body").Parse(body)
	if err != nil {
		return nil, eris.Wrap(err, "triage: parse body template")
	}
	return &Templates{subject: subjectTmpl, body: bodyTmpl}, nil
}

// Render produces the draft subject and body for a deal.
func (t *Templates) Render(d *model.Deal) (subject, body string, err error) {
	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, d); err != nil {
		return "", "", eris.Wrap(err, "triage: render subject")
	}
	if err := t.body.Execute(&bb, d); err != nil {
		return "", "", eris.Wrap(err, "triage: render body")
	}
	return sb.String(), bb.String(), nil
}
