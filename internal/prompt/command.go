// Package prompt implements the line protocol used to drive on-screen modal prompts.
package prompt

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMalformed marks a protocol line that cannot be decoded.
var ErrMalformed = errors.New("malformed prompt command")

type Kind int

const (
	KindUnrecognized Kind = iota
	KindBegin
	KindText
	KindImage
	KindQRCode
	KindButton
	KindFooterButton
	KindButtonGroupStart
	KindButtonGroupEnd
	KindCloseOnClick
	KindShow
	KindEnd
)

var verbs = map[Kind]string{
	KindBegin:            "prompt_begin",
	KindText:             "prompt_text",
	KindImage:            "prompt_image",
	KindQRCode:           "prompt_qrcode",
	KindButton:           "prompt_button",
	KindFooterButton:     "prompt_footer_button",
	KindButtonGroupStart: "prompt_button_group_start",
	KindButtonGroupEnd:   "prompt_button_group_end",
	KindCloseOnClick:     "prompt_close_on_click",
	KindShow:             "prompt_show",
	KindEnd:              "prompt_end",
}

func (k Kind) String() string {
	if v, ok := verbs[k]; ok {
		return v
	}
	return "unrecognized"
}

// Command is one decoded protocol line. Arg carries the title, text line, image
// path or QR URL; buttons fill Label, Callback and Style.
type Command struct {
	Kind     Kind
	Arg      string
	Label    string
	Callback string
	Style    string
	// Raw keeps the original line for unrecognized commands.
	Raw string
}

func Begin(title string) Command { return Command{Kind: KindBegin, Arg: title} }
func Text(line string) Command   { return Command{Kind: KindText, Arg: line} }
func Image(path string) Command  { return Command{Kind: KindImage, Arg: path} }
func QRCode(url string) Command  { return Command{Kind: KindQRCode, Arg: url} }
func Show() Command              { return Command{Kind: KindShow} }
func End() Command               { return Command{Kind: KindEnd} }
func CloseOnClick() Command      { return Command{Kind: KindCloseOnClick} }
func ButtonGroupStart() Command  { return Command{Kind: KindButtonGroupStart} }
func ButtonGroupEnd() Command    { return Command{Kind: KindButtonGroupEnd} }

func FooterButton(label, callback string) Command {
	return Command{Kind: KindFooterButton, Label: label, Callback: callback}
}

func Button(label, callback, style string) Command {
	return Command{Kind: KindButton, Label: label, Callback: callback, Style: style}
}

// Encode renders the command as a protocol line.
func (c Command) Encode() string {
	switch c.Kind {
	case KindBegin, KindText, KindImage, KindQRCode:
		if c.Arg == "" {
			return c.Kind.String()
		}
		return c.Kind.String() + " " + c.Arg
	case KindButton, KindFooterButton:
		parts := []string{c.Label, c.Callback}
		if c.Style != "" {
			parts = append(parts, c.Style)
		}
		return c.Kind.String() + " " + strings.Join(parts, "|")
	case KindUnrecognized:
		return c.Raw
	default:
		return c.Kind.String()
	}
}

func (c Command) String() string { return c.Encode() }

// Decode parses one protocol line. Unknown verbs decode to KindUnrecognized with
// no error; lines with a known verb but bad parameters return ErrMalformed.
func Decode(line string) (Command, error) {
	line = strings.TrimRight(line, "\r\n")
	line = strings.TrimPrefix(strings.TrimSpace(line), "// ")
	line = strings.TrimPrefix(line, "action:")
	verb, rest, _ := strings.Cut(line, " ")
	switch verb {
	case "prompt_begin":
		return Begin(strings.TrimSpace(rest)), nil
	case "prompt_text":
		return Text(rest), nil
	case "prompt_image":
		return Image(strings.TrimSpace(rest)), nil
	case "prompt_qrcode":
		return QRCode(strings.TrimSpace(rest)), nil
	case "prompt_button", "prompt_footer_button":
		kind := KindButton
		if verb == "prompt_footer_button" {
			kind = KindFooterButton
		}
		return decodeButton(kind, rest)
	}
	if rest != "" {
		for k, v := range verbs {
			if v == verb {
				return Command{}, fmt.Errorf("%w: %s takes no arguments", ErrMalformed, k)
			}
		}
		return Command{Kind: KindUnrecognized, Raw: line}, nil
	}
	for k, v := range verbs {
		if v == verb {
			return Command{Kind: k}, nil
		}
	}
	return Command{Kind: KindUnrecognized, Raw: line}, nil
}

func decodeButton(kind Kind, rest string) (Command, error) {
	if strings.TrimSpace(rest) == "" {
		return Command{}, fmt.Errorf("%w: %s requires a label", ErrMalformed, kind)
	}
	params := strings.Split(rest, "|")
	if len(params) > 3 {
		return Command{}, fmt.Errorf("%w: unexpected number of parameters on the button", ErrMalformed)
	}
	c := Command{Kind: kind, Label: params[0]}
	if len(params) > 1 {
		c.Callback = params[1]
	}
	if len(params) > 2 {
		c.Style = params[2]
	}
	return c, nil
}
