package booster

import "testing"

func TestReportNotifiesSubscribers(t *testing.T) {
	c := New()
	var got Value
	c.Subscribe(func(v Value) { got = v })

	hook := AttachZ21(c)
	hook(1500, 42)

	if got.CurrentMA != 1500 || got.TemperatureC != 42 {
		t.Fatalf("unexpected value: %+v", got)
	}
	if c.Value() != got {
		t.Fatalf("Value() out of sync: %+v vs %+v", c.Value(), got)
	}
}

func TestAttachECoSReportsIndependently(t *testing.T) {
	c := New()
	hook := AttachECoS(c)
	hook(800, 30)

	if v := c.Value(); v.CurrentMA != 800 || v.TemperatureC != 30 {
		t.Fatalf("unexpected value: %+v", v)
	}
}
