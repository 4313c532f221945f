// Package gcode decodes the maintenance console commands.
package gcode

import (
	"errors"
	"fmt"
	"strings"
)

const (
	VerbPostpone = "MAINTENANCE_POSTPONE"
	VerbConfirm  = "MAINTENANCE_CONFIRM"
	VerbStatus   = "MAINTENANCE_STATUS"
	VerbReset    = "MAINTENANCE_RESET"
	VerbCheck    = "MAINTENANCE_CHECK"
	VerbShow     = "MAINTENANCE_SHOW"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrMalformed      = errors.New("malformed command")
)

type Action int

const (
	ActionUnknown Action = iota
	ActionPostpone
	ActionConfirm
	ActionStatus
	ActionReset
	ActionCheck
	ActionShow
)

var actionVerbs = map[string]Action{
	VerbPostpone: ActionPostpone,
	VerbConfirm:  ActionConfirm,
	VerbStatus:   ActionStatus,
	VerbReset:    ActionReset,
	VerbCheck:    ActionCheck,
	VerbShow:     ActionShow,
}

var needsTask = map[Action]bool{
	ActionPostpone: true,
	ActionConfirm:  true,
	ActionShow:     true,
}

func (a Action) String() string {
	for verb, act := range actionVerbs {
		if act == a {
			return verb
		}
	}
	return "UNKNOWN"
}

// Command is a decoded console line.
type Command struct {
	Action Action
	Verb   string
	Task   string
	Params map[string]string
}

// Parse decodes "VERB KEY=VALUE ...". Verbs and keys are case-insensitive and
// values may be double-quoted. Verbs outside the maintenance set come back as
// ActionUnknown together with ErrUnknownCommand.
func Parse(line string) (Command, error) {
	fields, err := split(strings.TrimSpace(line))
	if err != nil {
		return Command{}, err
	}
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("%w: empty line", ErrMalformed)
	}
	cmd := Command{Verb: strings.ToUpper(fields[0]), Params: map[string]string{}}
	action, ok := actionVerbs[cmd.Verb]
	if !ok {
		return cmd, fmt.Errorf("%w: %s", ErrUnknownCommand, cmd.Verb)
	}
	cmd.Action = action
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok || key == "" {
			return Command{}, fmt.Errorf("%w: parameter %q is not KEY=VALUE", ErrMalformed, f)
		}
		cmd.Params[strings.ToUpper(key)] = value
	}
	cmd.Task = cmd.Params["TASK"]
	if needsTask[action] && cmd.Task == "" {
		return cmd, fmt.Errorf("%w: %s requires TASK", ErrMalformed, cmd.Verb)
	}
	return cmd, nil
}

// Callback builds the script a prompt button runs, "ACTION TASK=<name>".
func Callback(verb, task string) string {
	return verb + " TASK=" + task
}

func split(line string) ([]string, error) {
	var (
		out    []string
		cur    strings.Builder
		quoted bool
		inTok  bool
	)
	for _, r := range line {
		switch {
		case r == '"':
			quoted = !quoted
			inTok = true
		case (r == ' ' || r == '\t') && !quoted:
			if inTok {
				out = append(out, cur.String())
				cur.Reset()
				inTok = false
			}
		default:
			cur.WriteRune(r)
			inTok = true
		}
	}
	if quoted {
		return nil, fmt.Errorf("%w: unterminated quote", ErrMalformed)
	}
	if inTok {
		out = append(out, cur.String())
	}
	return out, nil
}
