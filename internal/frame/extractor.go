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

// Package frame extracts JSON values from an unframed byte stream.
//
// Devices write JSON objects back to back with no length prefix or
// delimiter, sometimes padded with NUL bytes and sometimes interleaved with
// bytes that are not JSON at all. Extract walks whatever has arrived so far
// and reports the complete values, the number of bytes it is done with, and
// the bytes it had to skip to get back in sync.
package frame

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"unicode/utf8"
)

// errInvalidUTF8 marks a value that is well-formed JSON but carries bytes
// that are not UTF-8. Feeds send frames as text, so such a value is dropped.
var errInvalidUTF8 = errors.New("value is not valid UTF-8")

// Drop records bytes skipped after a syntax error.
type Drop struct {
	Offset int
	Length int
	Reason string
}

// Result is the outcome of one Extract call.
type Result struct {
	Values   []json.RawMessage
	Consumed int
	Dropped  []Drop
	// NeedMore is set when extraction stopped at an incomplete value or at
	// the end of the input.
	NeedMore bool
}

// Extract decodes as many JSON values as possible from data. Values are
// returned in compact form with their key order preserved. Bytes before
// Consumed are fully interpreted and may be discarded by the caller; bytes
// after it must be presented again, with more data appended, on the next
// call.
func Extract(data []byte) Result {
	var res Result
	cursor := 0

	for {
		for cursor < len(data) && data[cursor] == 0 {
			cursor++
		}
		if cursor >= len(data) {
			res.NeedMore = true
			break
		}

		value, n, err := decodeOne(data[cursor:])
		if err == nil {
			res.Values = append(res.Values, value)
			cursor += n
			continue
		}

		if errors.Is(err, errInvalidUTF8) {
			res.drop(cursor, n, err.Error())
			cursor += n
			continue
		}

		if errors.Is(err, io.ErrUnexpectedEOF) {
			res.NeedMore = true
			break
		}

		if errors.Is(err, io.EOF) {
			// Only whitespace left.
			cursor = len(data)
			break
		}

		var syntaxErr *json.SyntaxError
		if errors.As(err, &syntaxErr) {
			skip := int(syntaxErr.Offset)
			if skip < 1 {
				skip = 1
			}
			if skip > len(data)-cursor {
				skip = len(data) - cursor
			}
			res.drop(cursor, skip, syntaxErr.Error())
			cursor += skip
			continue
		}

		// Anything else from the decoder is treated like a syntax error on
		// the first byte so extraction always makes progress.
		res.drop(cursor, 1, err.Error())
		cursor++
	}

	res.Consumed = cursor
	return res
}

// drop records skipped bytes, merging runs of adjacent skips into one entry.
func (r *Result) drop(offset, length int, reason string) {
	if n := len(r.Dropped); n > 0 {
		last := &r.Dropped[n-1]
		if last.Offset+last.Length == offset {
			last.Length += length
			return
		}
	}
	r.Dropped = append(r.Dropped, Drop{Offset: offset, Length: length, Reason: reason})
}

// decodeOne parses a single value at the start of data and reports how
// many bytes it occupied, leading whitespace included. A value with invalid
// UTF-8 still reports its length alongside errInvalidUTF8.
func decodeOne(data []byte) (json.RawMessage, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return nil, 0, err
	}

	n := int(dec.InputOffset())
	if !utf8.Valid(raw) {
		return nil, n, errInvalidUTF8
	}

	var compact bytes.Buffer
	compact.Grow(len(raw))
	if err := json.Compact(&compact, raw); err != nil {
		return nil, 0, err
	}
	return json.RawMessage(compact.Bytes()), n, nil
}
