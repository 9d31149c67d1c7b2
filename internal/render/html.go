package render

import (
	"bytes"
	"html/template"
)

// data: URIs only ever come from DataURI, so they are passed as trusted URLs.
var funcs = template.FuncMap{
	"trustedURL": func(s string) template.URL { return template.URL(s) },
}

var bubbleTmpl = template.Must(template.New("conversation").Funcs(funcs).Parse(`
{{- define "line" -}}
{{- range . -}}{{ if .Bold }}<strong>{{ .Text }}</strong>{{ else }}{{ .Text }}{{ end }}{{- end -}}<br>
{{- end -}}
{{- range .Bubbles -}}
<div class="bubble {{ .Role }}{{ if .Streaming }} streaming{{ end }}" data-id="{{ .ID }}">
{{- range .Parts -}}
{{- if .Image }}<img src="{{ trustedURL .Image.URI }}" alt="User upload" class="upload">
{{- else }}<p>{{ range .Lines }}{{ template "line" . }}{{ end }}{{ if .Cursor }}<span class="cursor"></span>{{ end }}</p>
{{- end -}}
{{- end -}}
</div>
{{ end -}}`))

// HTML renders the bubbles of v. Text is escaped; only the bold and line
// break markup produced by FormatText is emitted.
func HTML(v View) (string, error) {
	var buf bytes.Buffer
	if err := bubbleTmpl.Execute(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}
