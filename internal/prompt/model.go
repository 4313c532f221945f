package prompt

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FooterButtonView is one dialog footer button.
type FooterButtonView struct {
	ID       int    `json:"id"`
	Label    string `json:"label"`
	Callback string `json:"callback"`
	Style    string `json:"style"`
}

// ButtonView is one body button; Group is -1 for buttons outside a group.
type ButtonView struct {
	Label    string `json:"label"`
	Callback string `json:"callback"`
	Style    string `json:"style"`
	Group    int    `json:"group"`
}

// View is a copy of the prompt as the screen would present it.
type View struct {
	Visible bool               `json:"visible"`
	Header  string             `json:"header"`
	Text    string             `json:"text"`
	Image   string             `json:"image,omitempty"`
	QRCode  string             `json:"qr_code,omitempty"`
	Buttons []ButtonView       `json:"buttons,omitempty"`
	Footer  []FooterButtonView `json:"footer,omitempty"`
}

// Model is a headless prompt: it applies protocol commands the way the screen does
// and hands back the scripts its buttons would send. Safe for concurrent use.
type Model struct {
	mu      sync.Mutex
	log     *zap.SugaredLogger
	view    View
	nextID  int
	groups  int
	inGroup bool
}

func NewModel(log *zap.SugaredLogger) *Model {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Model{log: log, nextID: 1}
}

// Emit lets a Model act as a Sink.
func (m *Model) Emit(cmds ...Command) error {
	for _, c := range cmds {
		m.Apply(c)
	}
	return nil
}

// ApplyLine decodes and applies a raw line. Bad lines are logged and ignored.
func (m *Model) ApplyLine(line string) {
	c, err := Decode(line)
	if err != nil {
		m.log.Debugw("ignoring prompt line", "line", line, "error", err)
		return
	}
	m.Apply(c)
}

func (m *Model) Apply(c Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch c.Kind {
	case KindBegin:
		m.view = View{Header: c.Arg}
		m.nextID = 1
		m.groups = 0
		m.inGroup = false
	case KindText:
		if c.Arg != "" {
			m.view.Text += c.Arg + "\n"
		}
	case KindImage:
		m.view.Image = c.Arg
	case KindQRCode:
		m.view.QRCode = c.Arg
	case KindButton:
		group := -1
		if m.inGroup {
			group = m.groups - 1
		}
		m.view.Buttons = append(m.view.Buttons, ButtonView{
			Label:    c.Label,
			Callback: m.callbackOrText(c.Callback),
			Style:    styleOrDefault(c.Style),
			Group:    group,
		})
	case KindFooterButton:
		m.view.Footer = append(m.view.Footer, FooterButtonView{
			ID:       m.nextID,
			Label:    c.Label,
			Callback: m.callbackOrText(c.Callback),
			Style:    styleOrDefault(c.Style),
		})
		m.nextID++
	case KindButtonGroupStart:
		m.groups++
		m.inGroup = true
	case KindButtonGroupEnd:
		m.inGroup = false
	case KindCloseOnClick:
		// the dialog already closes on any footer click
	case KindShow:
		m.view.Visible = true
	case KindEnd:
		m.view.Visible = false
		m.view.Image = ""
		m.view.QRCode = ""
	default:
		m.log.Debugw("unknown prompt option", "line", c.Raw)
	}
}

func (m *Model) callbackOrText(cb string) string {
	if cb != "" {
		return cb
	}
	return m.view.Text
}

func styleOrDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}

func (m *Model) View() View {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.view
	v.Buttons = append([]ButtonView(nil), m.view.Buttons...)
	v.Footer = append([]FooterButtonView(nil), m.view.Footer...)
	return v
}

// Press returns the script of the footer button with the given label
// (case-insensitive).
func (m *Model) Press(label string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.view.Visible {
		return "", fmt.Errorf("no prompt is shown")
	}
	for _, b := range m.view.Footer {
		if strings.EqualFold(b.Label, label) {
			return b.Callback, nil
		}
	}
	for _, b := range m.view.Buttons {
		if strings.EqualFold(b.Label, label) {
			return b.Callback, nil
		}
	}
	return "", fmt.Errorf("prompt has no button %q", label)
}

// Close returns the script the screen sends when the operator dismisses the dialog.
func (m *Model) Close() string {
	return `RESPOND TYPE=command MSG="action:` + End().Encode() + `"`
}
