// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.

package frame

import (
	"strings"
	"testing"
)

func TestExtractSingleObject(t *testing.T) {
	res := Extract([]byte(`{"a":1}`))
	if len(res.Values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(res.Values))
	}
	if string(res.Values[0]) != `{"a":1}` {
		t.Fatalf("unexpected value %s", res.Values[0])
	}
	if res.Consumed != 7 {
		t.Fatalf("expected 7 bytes consumed, got %d", res.Consumed)
	}
	if !res.NeedMore {
		t.Fatal("expected NeedMore at end of input")
	}
}

func TestExtractSkipsNullPadding(t *testing.T) {
	res := Extract([]byte("\x00\x00{\"a\":1}\x00\x00\x00{\"b\":2}\x00"))
	if len(res.Values) != 2 {
		t.Fatalf("expected 2 values, got %d", len(res.Values))
	}
	if string(res.Values[0]) != `{"a":1}` || string(res.Values[1]) != `{"b":2}` {
		t.Fatalf("unexpected values %s %s", res.Values[0], res.Values[1])
	}
	if len(res.Dropped) != 0 {
		t.Fatalf("null padding must not count as dropped bytes, got %+v", res.Dropped)
	}
	if res.Consumed != 20 {
		t.Fatalf("expected all 20 bytes consumed, got %d", res.Consumed)
	}
}

func TestExtractIncompleteValueIsNotConsumed(t *testing.T) {
	input := []byte(`{"a":1}{"b":`)
	res := Extract(input)
	if len(res.Values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(res.Values))
	}
	if res.Consumed != 7 {
		t.Fatalf("expected cursor to stop before the partial value, got %d", res.Consumed)
	}
	if !res.NeedMore {
		t.Fatal("expected NeedMore for partial value")
	}
	if len(res.Dropped) != 0 {
		t.Fatalf("partial value must not be dropped, got %+v", res.Dropped)
	}
}

func TestExtractLeadingGarbage(t *testing.T) {
	res := Extract([]byte(`garbage{"c":3}`))
	if len(res.Values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(res.Values))
	}
	if string(res.Values[0]) != `{"c":3}` {
		t.Fatalf("unexpected value %s", res.Values[0])
	}
	if len(res.Dropped) != 1 {
		t.Fatalf("expected one merged drop, got %+v", res.Dropped)
	}
	if res.Dropped[0].Offset != 0 || res.Dropped[0].Length != len("garbage") {
		t.Fatalf("unexpected drop %+v", res.Dropped[0])
	}
}

func TestExtractMalformedValueBetweenValidOnes(t *testing.T) {
	res := Extract([]byte(`{"a":1}{"b":x}{"c":3}`))
	if len(res.Values) != 2 {
		t.Fatalf("expected 2 values, got %d: %q", len(res.Values), res.Values)
	}
	if string(res.Values[0]) != `{"a":1}` || string(res.Values[1]) != `{"c":3}` {
		t.Fatalf("unexpected values %s %s", res.Values[0], res.Values[1])
	}
	for _, v := range res.Values {
		if strings.Contains(string(v), "b") {
			t.Fatalf("malformed value leaked: %s", v)
		}
	}
	if len(res.Dropped) == 0 {
		t.Fatal("expected dropped bytes to be reported")
	}
}

func TestExtractWhitespaceOnly(t *testing.T) {
	res := Extract([]byte(" \r\n\t "))
	if len(res.Values) != 0 {
		t.Fatalf("expected no values, got %d", len(res.Values))
	}
	if res.Consumed != 5 {
		t.Fatalf("expected whitespace to be consumed, got %d", res.Consumed)
	}
	if res.NeedMore {
		t.Fatal("whitespace-only input stops without NeedMore")
	}
}

func TestExtractEmptyInput(t *testing.T) {
	res := Extract(nil)
	if len(res.Values) != 0 || res.Consumed != 0 || !res.NeedMore {
		t.Fatalf("unexpected result for empty input: %+v", res)
	}
}

func TestExtractCompactsAndKeepsKeyOrder(t *testing.T) {
	res := Extract([]byte("{ \"z\" : 1,\n  \"a\" : [ 1, 2 ] }"))
	if len(res.Values) != 1 {
		t.Fatalf("expected 1 value, got %d", len(res.Values))
	}
	if string(res.Values[0]) != `{"z":1,"a":[1,2]}` {
		t.Fatalf("unexpected compact form %s", res.Values[0])
	}
}

func TestExtractNonObjectValues(t *testing.T) {
	tests := []struct {
		input string
		want  []string
	}{
		{`[1,2]"s"`, []string{`[1,2]`, `"s"`}},
		{`true null`, []string{`true`, `null`}},
		{`"a\"}"{"k":"}"}`, []string{`"a\"}"`, `{"k":"}"}`}},
	}
	for _, tt := range tests {
		res := Extract([]byte(tt.input))
		if len(res.Values) != len(tt.want) {
			t.Errorf("Extract(%q) returned %d values, want %d", tt.input, len(res.Values), len(tt.want))
			continue
		}
		for i, v := range res.Values {
			if string(v) != tt.want[i] {
				t.Errorf("Extract(%q)[%d] = %s, want %s", tt.input, i, v, tt.want[i])
			}
		}
	}
}

func TestExtractStrayNullInsideValueResyncs(t *testing.T) {
	res := Extract([]byte("{\"a\":\x00}{\"b\":2}"))
	if len(res.Values) != 1 {
		t.Fatalf("expected 1 value, got %d: %q", len(res.Values), res.Values)
	}
	if string(res.Values[0]) != `{"b":2}` {
		t.Fatalf("unexpected value %s", res.Values[0])
	}
}

func TestExtractDropsValueWithInvalidUTF8(t *testing.T) {
	input := []byte("{\"a\":\"\xff\xfe\"}{\"b\":1}")
	res := Extract(input)

	if len(res.Values) != 1 || string(res.Values[0]) != `{"b":1}` {
		t.Fatalf("expected only {\"b\":1}, got %q", res.Values)
	}
	if len(res.Dropped) != 1 {
		t.Fatalf("expected 1 drop, got %+v", res.Dropped)
	}
	if d := res.Dropped[0]; d.Offset != 0 || d.Length != 10 {
		t.Fatalf("expected drop of 10 bytes at 0, got %+v", d)
	}
	if res.Consumed != len(input) {
		t.Fatalf("expected all %d bytes consumed, got %d", len(input), res.Consumed)
	}
}
