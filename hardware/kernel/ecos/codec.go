// Package ecos implements the ECoS/m6 kernel: a request-reply + event
// ASCII protocol addressed by object id, with bracketed
// <REPLY ...>...<END n (text)> / <EVENT ...>...<END n (text)> framing
// and key-bracket option values (spec.md §4.3 "ECoS" specialisation).
package ecos

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Well-known object ids (spec.md §4.3).
const (
	ObjectEcos              = 1
	ObjectLocomotiveManager = 10
	ObjectSwitchManager     = 11
	ObjectBoosterManager    = 20
	ObjectFeedbackManager   = 26
	FirstDynamicObjectID    = 1000
)

// Split is the iohandler.FrameSplitter for ECoS: a frame begins at a
// line starting with "<REPLY" or "<EVENT" and ends at the first line
// starting with "<END" (spec.md §4.1).
func Split(buf []byte) (advance int, frame []byte, dropped int) {
	for len(buf) > 0 {
		nl := bytes.IndexByte(buf, '\n')
		if nl < 0 {
			return 0, nil, 0
		}
		line := bytes.TrimRight(buf[:nl], "\r")
		if bytes.HasPrefix(line, []byte("<REPLY")) || bytes.HasPrefix(line, []byte("<EVENT")) {
			break
		}
		buf = buf[nl+1:]
		dropped += nl + 1
	}
	if len(buf) == 0 {
		return dropped, nil, dropped
	}
	end := bytes.Index(buf, []byte("<END"))
	if end < 0 {
		return dropped, nil, dropped
	}
	endLineEnd := bytes.IndexByte(buf[end:], '\n')
	if endLineEnd < 0 {
		return dropped, nil, dropped
	}
	total := end + endLineEnd + 1
	return dropped + total, append([]byte(nil), buf[:total]...), dropped
}

func Dump(frame []byte) string { return fmt.Sprintf("%q", frame) }

// Option is one key[value,...] pair from a get-reply/event line.
type Option struct {
	Key    string
	Values []string
}

// ParseOptions parses a line of "key1[v1] key2[v1,v2] key3[\"v\"]"
// pairs (spec.md §4.2 "option parsing is key-bracket").
func ParseOptions(line string) []Option {
	var out []Option
	i := 0
	for i < len(line) {
		open := strings.IndexByte(line[i:], '[')
		if open < 0 {
			break
		}
		open += i
		key := strings.TrimSpace(line[i:open])
		close := strings.IndexByte(line[open:], ']')
		if close < 0 {
			break
		}
		close += open
		raw := line[open+1 : close]
		var values []string
		for _, v := range strings.Split(raw, ",") {
			v = strings.TrimSpace(v)
			v = strings.Trim(v, `"`)
			values = append(values, v)
		}
		if key != "" {
			out = append(out, Option{Key: key, Values: values})
		}
		i = close + 1
	}
	return out
}

// BuildRequest builds a "request(id, view1, view2, ...)" command line.
func BuildRequest(id int, views ...string) []byte {
	return []byte(fmt.Sprintf("request(%d, %s)\n", id, strings.Join(views, ", ")))
}

// BuildRelease builds a "release(id, view)" command line.
func BuildRelease(id int, view string) []byte {
	return []byte(fmt.Sprintf("release(%d, %s)\n", id, view))
}

// BuildSet builds a "set(id, key[value])" command line.
func BuildSet(id int, key, value string) []byte {
	return []byte(fmt.Sprintf("set(%d, %s[%s])\n", id, key, value))
}

// BuildGet builds a "get(id, key)" command line.
func BuildGet(id int, key string) []byte {
	return []byte(fmt.Sprintf("get(%d, %s)\n", id, key))
}

// BuildQueryObjects builds "queryObjects(id, key1, key2, ...)".
func BuildQueryObjects(id int, keys ...string) []byte {
	return []byte(fmt.Sprintf("queryObjects(%d, %s)\n", id, strings.Join(keys, ", ")))
}

// ParseAddrProtocol reads an addr[n] protocol[name] option pair
// typical of LocomotiveManager queryObjects replies (spec.md §8 ECoS
// loco query scenario).
func ParseAddrProtocol(opts []Option) (addr int64, protocol string, ok bool) {
	var haveAddr, haveProto bool
	for _, o := range opts {
		switch o.Key {
		case "addr":
			if len(o.Values) == 1 {
				if v, err := strconv.ParseInt(o.Values[0], 10, 64); err == nil {
					addr = v
					haveAddr = true
				}
			}
		case "protocol":
			if len(o.Values) == 1 {
				protocol = o.Values[0]
				haveProto = true
			}
		}
	}
	return addr, protocol, haveAddr && haveProto
}

// ParseObjectLine splits a reply body line "<id> key[v] key[v] ..."
// into its object id and the remaining option text.
func ParseObjectLine(line string) (id int, rest string, ok bool) {
	fields := strings.SplitN(strings.TrimSpace(line), " ", 2)
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, "", false
	}
	if len(fields) == 2 {
		rest = fields[1]
	}
	return n, rest, true
}
