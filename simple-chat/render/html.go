package render

import (
	"html/template"
	"io"
)

// Page is the data of a full HTML render.
type Page struct {
	Title string
	Frame Frame
	Theme Theme
}

// HTML writes the whole page.
func HTML(w io.Writer, p Page) error {
	if p.Theme.Root == "" {
		p.Theme = DefaultTheme
	}
	return pageTmpl.Execute(w, struct {
		Page
		CSS template.CSS
	}{Page: p, CSS: p.Theme.CSS()})
}

// Feed writes only the highlight and history blocks, for in-place refresh.
func Feed(w io.Writer, f Frame) error {
	return pageTmpl.ExecuteTemplate(w, "feed", f)
}

var pageTmpl = template.Must(template.New("page").Parse(`{{define "bubble"}}<strong>{{.Sender}}</strong>: <span class="text">{{.Content}}</span><div class="ts">{{.Timestamp}}</div>{{end}}
{{define "feed"}}<div class="upper">{{with .Highlight}}<div class="bubble">{{template "bubble" .}}</div>{{end}}</div>
<div class="feed" id="feed">
{{- range .History}}
  <div class="row {{if .Own}}own{{else}}other{{end}}" data-index="{{.Index}}">
    <div class="bubble">{{template "bubble" .}}{{if .ShowDelete}}<button class="delete" data-index="{{.Index}}">Delete</button>{{end}}</div>
  </div>
{{- end}}
</div>{{end}}<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>{{.Title}}</title>
  <style>
    body { margin: 0; }
{{.CSS}}
  </style>
</head>
<body>
  <div class="{{.Theme.Root}}">
    <h1 class="header"><span class="status{{if .Frame.Connected}} up{{end}}" id="status"></span>{{.Title}}</h1>
    <div id="view">{{template "feed" .Frame}}</div>
    <form class="input" id="send">
      <input type="text" name="message" autocomplete="off" autofocus placeholder="Type a message as {{.Frame.Identity}}..." />
      <button type="submit">Send</button>
    </form>
  </div>
  <script>
  (function(){
    const view = document.getElementById('view');
    const form = document.getElementById('send');
    const input = form.querySelector('input');
    const status = document.getElementById('status');
    const post = (url, body) => fetch(url, { method: 'POST', body: body });
    async function refresh(){
      const res = await fetch('feed');
      if (!res.ok) return;
      view.innerHTML = await res.text();
      status.classList.toggle('up', res.headers.get('X-Relay-Connected') === 'true');
      const feed = document.getElementById('feed');
      if (feed) feed.scrollTop = feed.scrollHeight;
    }
    view.addEventListener('dblclick', (e) => {
      const row = e.target.closest('.row');
      if (row) post('messages/' + row.dataset.index + '/select').then(refresh);
    });
    view.addEventListener('click', (e) => {
      const btn = e.target.closest('.delete');
      if (btn) post('messages/' + btn.dataset.index + '/delete').then(refresh);
    });
    document.addEventListener('keydown', (e) => {
      if (e.key === 'Escape') post('deselect').then(refresh);
    });
    form.addEventListener('submit', (e) => {
      e.preventDefault();
      if (input.value.trim() === '') return;
      const body = new URLSearchParams({ message: input.value });
      input.value = '';
      post('send', body).then(refresh);
    });
    function listen(){
      const proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
      const base = location.pathname.replace(/[^/]*$/, '');
      const ws = new WebSocket(proto + location.host + base + 'ws');
      ws.onmessage = refresh;
      ws.onclose = () => setTimeout(listen, 1000);
    }
    listen();
    refresh();
  })();
  </script>
</body>
</html>`))
