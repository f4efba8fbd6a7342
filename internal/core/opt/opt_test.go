package opt

import (
	"encoding/json"
	"testing"
	"time"
)

func TestValue(t *testing.T) {
	n := None[int]()
	if n.Present() || n.Or(3) != 3 || n.Ptr() != nil {
		t.Fatalf("None misbehaves")
	}
	s := Some(5)
	if v, ok := s.Get(); !ok || v != 5 {
		t.Fatalf("Some.Get = %d,%v", v, ok)
	}
	p := s.Ptr()
	*p = 9
	if s.Or(0) != 5 {
		t.Fatalf("Ptr must copy")
	}
	if !FromPtr(p).Present() || FromPtr[int](nil).Present() {
		t.Fatalf("FromPtr")
	}
}

func TestMarshalJSON(t *testing.T) {
	type doc struct {
		Cutoff Value[time.Time] `json:"cutoff"`
		Bulk   Value[bool]      `json:"bulk"`
	}
	b, err := json.Marshal(doc{Bulk: Some(true)})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"cutoff":null,"bulk":true}` {
		t.Fatalf("json = %s", b)
	}
}
