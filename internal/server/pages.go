package server

import (
	"fmt"
	"html/template"
	"net/http"
)

// Browser-facing pages for the OAuth flow. The success page is the only
// place the API key is ever shown.

const pageStyle = `
* { margin: 0; padding: 0; box-sizing: border-box; }
body {
	font-family: system-ui, sans-serif;
	background: #0a0a0f;
	min-height: 100vh;
	color: #e0e0e0;
	padding: 2rem;
}
.container { max-width: 800px; margin: 0 auto; }
.centered { text-align: center; padding: 3rem 0; }
h1 { color: #00ff88; font-size: 2rem; margin-bottom: 0.5rem; }
h1.error { color: #ff4444; }
.muted { color: #888; }
.card {
	background: rgba(255, 255, 255, 0.03);
	border: 1px solid rgba(255, 255, 255, 0.1);
	border-radius: 16px;
	padding: 2rem;
	margin: 1.5rem 0;
}
.card h3 { color: #fff; margin-bottom: 1rem; }
.api-key {
	background: rgba(0, 255, 136, 0.1);
	border: 1px solid rgba(0, 255, 136, 0.3);
	padding: 1rem;
	border-radius: 8px;
	font-family: monospace;
	color: #00ff88;
	word-break: break-all;
}
.code-block {
	background: #1a1a24;
	border-radius: 8px;
	padding: 1rem;
	overflow-x: auto;
}
.code-block pre { font-family: monospace; font-size: 0.85rem; white-space: pre-wrap; }
.warning {
	background: rgba(255, 193, 7, 0.1);
	border: 1px solid rgba(255, 193, 7, 0.3);
	color: #ffc107;
	padding: 1rem;
	border-radius: 8px;
	margin-top: 1.5rem;
}
.button {
	display: inline-block;
	background: linear-gradient(135deg, #00ff88, #0088ff);
	color: #0a0a0f;
	font-weight: 700;
	padding: 1rem 2rem;
	border-radius: 8px;
	text-decoration: none;
	margin-top: 1.5rem;
}
a { color: #00ff88; }
`

var homeTemplate = template.Must(template.New("home").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Search Console MCP Server</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
	<div class="centered">
		<h1>Search Console MCP Server</h1>
		<p class="muted">Connect your Google Search Console data to MCP clients.</p>
		<a class="button" href="/oauth/login">Sign in with Google</a>
	</div>
	<div class="card">
		<h3>How it works</h3>
		<p class="muted">Sign in with the Google account that owns your Search Console
		properties. You will get an API key and a streaming endpoint to paste into
		your MCP client configuration.</p>
	</div>
</div>
</body>
</html>
`))

var successTemplate = template.Must(template.New("success").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Authentication Successful</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
	<div class="centered">
		<h1>Authentication Successful</h1>
		<p class="muted">Logged in as: {{.Email}}</p>
	</div>
	<div class="card">
		<h3>Your API Key</h3>
		<div class="api-key">{{.APIKey}}</div>
	</div>
	<div class="card">
		<h3>Claude Desktop Configuration</h3>
		<div class="code-block"><pre>{
  "mcpServers": {
    "gscServer": {
      "command": "npx",
      "args": [
        "-y",
        "mcp-remote",
        "{{.SSEURL}}"
      ]
    }
  }
}</pre></div>
		<p class="muted">Restart Claude Desktop after saving the configuration.</p>
	</div>
	<div class="warning">
		<strong>Keep your API key secret.</strong>
		Anyone with this key can read your Search Console data.
		Revoke it any time at <code>/oauth/revoke/&lt;key&gt;</code>.
	</div>
</div>
</body>
</html>
`))

var errorTemplate = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>` + pageStyle + `</style>
</head>
<body>
<div class="container">
	<div class="centered">
		<h1 class="error">{{.Title}}</h1>
		<p class="muted">{{.Message}}</p>
		<p><a href="/">Try again</a></p>
	</div>
</div>
</body>
</html>
`))

type successPage struct {
	Email  string
	APIKey string
	SSEURL string
}

type errorPage struct {
	Title   string
	Message string
}

func renderHome(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = homeTemplate.Execute(w, nil)
}

func renderSuccess(w http.ResponseWriter, page successPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = successTemplate.Execute(w, page)
}

func renderError(w http.ResponseWriter, code int, title, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_ = errorTemplate.Execute(w, errorPage{Title: title, Message: message})
}

func sseURL(baseURL, apiKey string) string {
	return fmt.Sprintf("%s/mcp/%s/sse", baseURL, apiKey)
}
