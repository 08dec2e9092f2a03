package router

import "strings"

// Parsed is a command line split into its parts.
type Parsed struct {
	Name string
	Args []string
	// Bang is true for "!" commands, which are ignored when unknown so that
	// ordinary chat starting with "!" gets no reply.
	Bang bool
	// Addressed is true when the command carried "@botname".
	Addressed bool
}

// Parse reads "!cmd args" or "/cmd@bot args". ok is false for plain text and
// for commands addressed to another bot.
func Parse(text, botName string) (Parsed, bool) {
	text = strings.TrimSpace(text)
	if len(text) < 2 || (text[0] != '!' && text[0] != '/') {
		return Parsed{}, false
	}
	bang := text[0] == '!'
	parts := tokenize(text[1:])
	if len(parts) == 0 {
		return Parsed{}, false
	}
	word := parts[0]
	addressed := false
	if i := strings.IndexByte(word, '@'); i >= 0 {
		target := word[i+1:]
		word = word[:i]
		if botName != "" && !strings.EqualFold(target, strings.TrimPrefix(botName, "@")) {
			return Parsed{}, false
		}
		addressed = true
	}
	word = strings.ToLower(word)
	if word == "" {
		return Parsed{}, false
	}
	return Parsed{Name: word, Args: parts[1:], Bang: bang, Addressed: addressed}, true
}

// tokenize splits on whitespace and honors single or double quotes.
func tokenize(s string) []string {
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}
