package gcode

import (
	"errors"
	"testing"
)

func TestParseMaintenanceCommands(t *testing.T) {
	cmd, err := Parse("MAINTENANCE_CONFIRM TASK=clean_nozzle")
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Action != ActionConfirm || cmd.Task != "clean_nozzle" {
		t.Fatalf("unexpected %+v", cmd)
	}
	cmd, err = Parse("  maintenance_postpone task=oil_z_axes ")
	if err != nil || cmd.Action != ActionPostpone || cmd.Task != "oil_z_axes" {
		t.Fatalf("lowercase parse: %+v %v", cmd, err)
	}
	cmd, err = Parse(`MAINTENANCE_SHOW TASK="belt tension"`)
	if err != nil || cmd.Task != "belt tension" {
		t.Fatalf("quoted parse: %+v %v", cmd, err)
	}
	for line, want := range map[string]Action{
		"MAINTENANCE_STATUS": ActionStatus,
		"MAINTENANCE_RESET":  ActionReset,
		"MAINTENANCE_CHECK":  ActionCheck,
	} {
		cmd, err := Parse(line)
		if err != nil || cmd.Action != want {
			t.Fatalf("%s: %+v %v", line, cmd, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse("MAINTENANCE_CONFIRM"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("missing task: %v", err)
	}
	if _, err := Parse("MAINTENANCE_CONFIRM clean_nozzle"); !errors.Is(err, ErrMalformed) {
		t.Fatalf("bare param: %v", err)
	}
	if _, err := Parse(`MAINTENANCE_CONFIRM TASK="open`); !errors.Is(err, ErrMalformed) {
		t.Fatalf("unterminated quote: %v", err)
	}
	if _, err := Parse("   "); !errors.Is(err, ErrMalformed) {
		t.Fatalf("empty: %v", err)
	}
	cmd, err := Parse("G28 X")
	if !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected unknown, got %v", err)
	}
	if cmd.Action != ActionUnknown || cmd.Verb != "G28" {
		t.Fatalf("unexpected %+v", cmd)
	}
}

func TestCallbackParsesBack(t *testing.T) {
	cb := Callback(VerbPostpone, "oil_xy_axes")
	if cb != "MAINTENANCE_POSTPONE TASK=oil_xy_axes" {
		t.Fatalf("callback %q", cb)
	}
	cmd, err := Parse(cb)
	if err != nil || cmd.Action != ActionPostpone || cmd.Task != "oil_xy_axes" {
		t.Fatalf("round trip: %+v %v", cmd, err)
	}
	if ActionConfirm.String() != VerbConfirm {
		t.Fatalf("action string %s", ActionConfirm)
	}
}
