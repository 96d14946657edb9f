package firewall

import "testing"

func TestExpandPorts_SinglesAndRanges(t *testing.T) {
	specs, err := expandPorts("443,1000-2000,80")
	if err != nil {
		t.Fatalf("expandPorts: %v", err)
	}
	if len(specs) != 3 {
		t.Fatalf("expected 3 specs, got %d", len(specs))
	}
	if specs[0].single != 443 || specs[0].isRange {
		t.Errorf("spec 0 = %+v", specs[0])
	}
	if !specs[1].isRange || specs[1].lo != 1000 || specs[1].hi != 2000 {
		t.Errorf("spec 1 = %+v", specs[1])
	}
	if specs[2].single != 80 {
		t.Errorf("spec 2 = %+v", specs[2])
	}
}

func TestExpandPorts_DegenerateRangeIsLegal(t *testing.T) {
	specs, err := expandPorts("443-443")
	if err != nil {
		t.Fatalf("expandPorts: %v", err)
	}
	if len(specs) != 1 || !specs[0].isRange || specs[0].lo != 443 || specs[0].hi != 443 {
		t.Errorf("got %+v", specs)
	}
}

func TestFormatPortSet_WideRange(t *testing.T) {
	set, err := formatPortSet("1-65535")
	if err != nil {
		t.Fatalf("formatPortSet: %v", err)
	}
	if set != "{ 1-65535 }" {
		t.Errorf("got %q", set)
	}
}

func TestExpandPorts_RejectsGarbage(t *testing.T) {
	if _, err := expandPorts("not-a-port"); err == nil {
		t.Errorf("expected an error for a non-numeric port expression")
	}
}
