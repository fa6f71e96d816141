package workflow

import "testing"

func TestOrderEventKey(t *testing.T) {
	ev := OrderEvent{OrderId: "1001", Status: "  New "}
	if got := ev.Key(); got != "order:1001:new" {
		t.Errorf("key = %q", got)
	}

	ev = OrderEvent{OrderId: "1001", StatusId: 7}
	if got := ev.Key(); got != "order:1001:status-7" {
		t.Errorf("key without status name = %q", got)
	}
}

func TestOrderEventIsActionable(t *testing.T) {
	planning := testPlanning()

	cases := []struct {
		statusId int
		status   string
		want     bool
	}{
		{2, "processing", true}, // id match wins even with a late name
		{9, "new", true},        // name match
		{9, "NEW", true},
		{9, "delivered", false},
		{0, "", false},
	}
	for _, tc := range cases {
		ev := OrderEvent{OrderId: "1", StatusId: tc.statusId, Status: tc.status}
		if got := ev.IsActionable(planning); got != tc.want {
			t.Errorf("IsActionable(%d, %q) = %v, want %v", tc.statusId, tc.status, got, tc.want)
		}
	}
}
