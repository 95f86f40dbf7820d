package ecos

import "testing"

func TestSplitAccumulatesUntilEnd(t *testing.T) {
	buf := []byte("<REPLY request(10, view)>\n10 addr[3] protocol[DCC128]\n<END 0 (OK)>\nnoise")
	advance, frame, dropped := Split(buf)
	if dropped != 0 {
		t.Fatalf("dropped=%d", dropped)
	}
	want := "<REPLY request(10, view)>\n10 addr[3] protocol[DCC128]\n<END 0 (OK)>\n"
	if string(frame) != want {
		t.Fatalf("got %q want %q", frame, want)
	}
	if advance != len(want) {
		t.Fatalf("advance=%d want=%d", advance, len(want))
	}
}

func TestParseOptionsMultiValue(t *testing.T) {
	opts := ParseOptions(`addr[3] name["Loco 1"] func[0,1,2]`)
	if len(opts) != 3 {
		t.Fatalf("got %d options", len(opts))
	}
	if opts[0].Key != "addr" || opts[0].Values[0] != "3" {
		t.Fatalf("got %+v", opts[0])
	}
	if opts[1].Values[0] != "Loco 1" {
		t.Fatalf("got %+v", opts[1])
	}
	if len(opts[2].Values) != 3 {
		t.Fatalf("got %+v", opts[2])
	}
}

// TestECoSLocoQueryScenario is the "ECoS loco query" scenario
// (spec.md §8): queryObjects(10, addr, protocol) reply resolves a
// decoder's dynamic object id by address.
func TestECoSLocoQueryScenario(t *testing.T) {
	id, rest, ok := ParseObjectLine(`1000 addr[3] protocol[DCC128]`)
	if !ok || id != 1000 {
		t.Fatalf("got id=%d ok=%v", id, ok)
	}
	addr, proto, ok := ParseAddrProtocol(ParseOptions(rest))
	if !ok || addr != 3 || proto != "DCC128" {
		t.Fatalf("got addr=%d proto=%s ok=%v", addr, proto, ok)
	}
}
