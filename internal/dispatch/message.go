package dispatch

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/mmynk/payables/internal/models"
)

// Message is one rendered invoice request.
type Message struct {
	To      string `json:"to"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
	HTML    string `json:"html"`
	// CostItemIDs lets the receiving integration correlate replies.
	CostItemIDs []string `json:"cost_item_ids"`
}

const textBody = `Olá, {{.Name}}.

Solicitamos a emissão de nota fiscal referente aos itens abaixo:
{{range .Lines}}
- [{{.JobCode}}] {{.Description}}: {{.Amount}}{{end}}

Total: {{.Total}}
{{if .Note}}
{{.Note}}
{{end}}
Por favor, responda este e-mail com a nota fiscal em anexo.

{{.Company}}
`

const htmlBody = `<p>Olá, {{.Name}}.</p>
<p>Solicitamos a emissão de nota fiscal referente aos itens abaixo:</p>
<table>
<thead><tr><th>Job</th><th>Descrição</th><th>Valor</th></tr></thead>
<tbody>
{{- range .Lines}}
<tr><td>{{.JobCode}}</td><td>{{.Description}}</td><td>{{.Amount}}</td></tr>
{{- end}}
</tbody>
<tfoot><tr><td colspan="2"><strong>Total</strong></td><td><strong>{{.Total}}</strong></td></tr></tfoot>
</table>
{{- if .Note}}
<p>{{.Note}}</p>
{{- end}}
<p>Por favor, responda este e-mail com a nota fiscal em anexo.</p>
<p>{{.Company}}</p>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textBody))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
)

type lineView struct {
	JobCode     string
	Description string
	Amount      string
}

type messageView struct {
	Name    string
	Lines   []lineView
	Total   string
	Note    string
	Company string
}

// Render builds the message for one group. note is appended unchanged to
// every group of a dispatch call.
func Render(g Group, company, note string) (Message, error) {
	name := g.Name
	if name == "" {
		name = "fornecedor"
	}
	view := messageView{
		Name:    name,
		Total:   models.FormatMoney(models.LocalePtBR, g.Total),
		Note:    strings.TrimSpace(note),
		Company: company,
	}
	for _, l := range g.Lines {
		code := l.JobCode
		if code == "" {
			code = "-"
		}
		view.Lines = append(view.Lines, lineView{
			JobCode:     code,
			Description: l.Item.Description,
			Amount:      models.FormatMoney(models.LocalePtBR, l.Item.TotalWithOvertime),
		})
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, view); err != nil {
		return Message{}, fmt.Errorf("failed to render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, view); err != nil {
		return Message{}, fmt.Errorf("failed to render html body: %w", err)
	}

	subject := fmt.Sprintf("Solicitação de nota fiscal - %s", company)
	if len(g.Lines) > 1 {
		subject = fmt.Sprintf("Solicitação de nota fiscal - %s (%d itens)", company, len(g.Lines))
	}
	return Message{
		To:          g.Email,
		Name:        name,
		Subject:     subject,
		Text:        text.String(),
		HTML:        html.String(),
		CostItemIDs: g.CostItemIDs(),
	}, nil
}
