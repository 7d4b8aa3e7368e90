package content

import (
	"regexp"
	"strings"
)

// blockDelimiter separates the message body from the buttons block. It must
// occupy a whole line.
const blockDelimiter = "---"

// blockSeparator splits a buttons block line into label and target.
const blockSeparator = " | "

var inlineButtonRe = regexp.MustCompile(`\[([^\]]+)\]\(([^\)]+)\)`)

// Parse turns raw chat input (message text or media caption) into a Payload.
// mediaRef is ignored for KindText.
func Parse(raw string, kind Kind, mediaRef string) Payload {
	body, block := SplitBlock(raw)
	text, buttons := ExtractButtons(body)
	buttons = append(buttons, BlockButtons(block)...)

	p := Payload{Kind: kind, Text: text, Buttons: buttons}
	if kind != KindText {
		p.MediaRef = mediaRef
	}
	return p
}

// SplitBlock splits raw on the first line that is exactly "---". block is
// empty when there is no delimiter line.
func SplitBlock(raw string) (body, block string) {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		if strings.TrimSuffix(line, "\r") == blockDelimiter {
			return strings.Join(lines[:i], "\n"), strings.Join(lines[i+1:], "\n")
		}
	}
	return raw, ""
}

// ExtractButtons removes every well-formed [label](target) marker from body and
// returns the cleaned text with the markers as buttons, in document order.
func ExtractButtons(body string) (string, []Button) {
	matches := inlineButtonRe.FindAllStringSubmatchIndex(body, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(body), nil
	}
	buttons := make([]Button, 0, len(matches))
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(body[last:m[0]])
		buttons = append(buttons, Button{Label: body[m[2]:m[3]], Target: body[m[4]:m[5]]})
		last = m[1]
	}
	b.WriteString(body[last:])
	return strings.TrimSpace(b.String()), buttons
}

// BlockButtons parses "label | target" lines. Lines without the separator are
// ignored.
func BlockButtons(block string) []Button {
	var out []Button
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		label, target, ok := strings.Cut(line, blockSeparator)
		if !ok {
			continue
		}
		out = append(out, Button{Label: strings.TrimSpace(label), Target: strings.TrimSpace(target)})
	}
	return out
}
