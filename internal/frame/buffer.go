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

// Buffer accumulates socket reads for Extract. It is owned by a single read
// loop and is not safe for concurrent use.
type Buffer struct {
	data []byte
}

func NewBuffer(capacity int) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity)}
}

// Feed appends p, extracts every complete value and drops the consumed
// prefix. Only an incomplete trailing value stays buffered.
func (b *Buffer) Feed(p []byte) Result {
	b.data = append(b.data, p...)
	res := Extract(b.data)
	b.compact(res.Consumed)
	return res
}

func (b *Buffer) compact(consumed int) {
	if consumed <= 0 {
		return
	}
	if consumed >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	n := copy(b.data, b.data[consumed:])
	b.data = b.data[:n]
}

// Pending returns the buffered bytes that did not form a complete value.
func (b *Buffer) Pending() []byte {
	return b.data
}

func (b *Buffer) Len() int {
	return len(b.data)
}

func (b *Buffer) Reset() {
	b.data = b.data[:0]
}
