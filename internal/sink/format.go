package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html"
	"sort"
	"strings"

	"tglogsink/pkg/tgui"
)

const (
	maxFieldLen = 600
	maxStackLen = 3000
)

var levelTags = map[string]string{
	"trace": "TRACE",
	"debug": "DEBUG",
	"info":  "INFO",
	"warn":  "WARNING",
	"error": "ERROR",
	"fatal": "CRITICAL",
	"panic": "CRITICAL",
}

// FormatHTML turns one zerolog JSON line into Telegram HTML.
// Input that is not a JSON object is escaped and returned as is.
func FormatHTML(p []byte) string {
	p = bytes.TrimSpace(p)
	if len(p) == 0 {
		return ""
	}

	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return html.EscapeString(string(p))
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}
	ts, _ := m["time"].(string)
	caller, _ := m["caller"].(string)

	parts := make([]tgui.H, 0, 8)
	head := tgui.Esc(msg)
	if tag, ok := levelTags[strings.ToLower(lvl)]; ok {
		head = tgui.B(tag) + " " + head
	} else if lvl != "" {
		head = tgui.B(strings.ToUpper(lvl)) + " " + head
	}
	parts = append(parts, head)

	if ts != "" || caller != "" {
		parts = append(parts, tgui.I(strings.TrimSpace(ts+" "+caller)))
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "msg", "caller", "stack":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, tgui.KV(k, tgui.TruncRunes(fieldString(m[k]), maxFieldLen)))
	}

	if st, ok := m["stack"]; ok && st != nil {
		parts = append(parts, tgui.Pre(tgui.TruncRunes(fieldString(st), maxStackLen)))
	}
	return tgui.JoinH("\n", parts...).String()
}

func fieldString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case map[string]any, []any:
		raw, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(raw)
	default:
		return fmt.Sprint(x)
	}
}
