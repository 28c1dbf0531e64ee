package automation

import (
	"strings"

	"github.com/chromedp/chromedp/kb"
)

// namedKeys maps the key names planners use to DevTools key codes
var namedKeys = map[string]string{
	"enter":      kb.Enter,
	"return":     kb.Enter,
	"tab":        kb.Tab,
	"escape":     kb.Escape,
	"esc":        kb.Escape,
	"backspace":  kb.Backspace,
	"delete":     kb.Delete,
	"arrowdown":  kb.ArrowDown,
	"arrowup":    kb.ArrowUp,
	"arrowleft":  kb.ArrowLeft,
	"arrowright": kb.ArrowRight,
	"home":       kb.Home,
	"end":        kb.End,
	"pageup":     kb.PageUp,
	"pagedown":   kb.PageDown,
}

// keyString converts "Enter" or "Tab" to key codes and passes other text through
func keyString(keys string) string {
	if code, ok := namedKeys[strings.ToLower(strings.TrimSpace(keys))]; ok {
		return code
	}
	return keys
}
