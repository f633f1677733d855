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

// Package palette stores named sets of device commands.
package palette

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

var namePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Palette maps command names to the JSON payload sent to the device.
type Palette struct {
	Name     string                     `json:"name"`
	Commands map[string]json.RawMessage `json:"commands"`
}

type Store interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, name string) (Palette, error)
	Save(ctx context.Context, p Palette) error
	Delete(ctx context.Context, name string) error
}

// ValidateName rejects names that could escape the store's namespace.
func ValidateName(name string) error {
	if !namePattern.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: invalid name %q", core.ErrInvalidPalette, name)
	}
	return nil
}

func (p Palette) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	for key, cmd := range p.Commands {
		if !json.Valid(cmd) {
			return fmt.Errorf("%w: command %q is not valid JSON", core.ErrInvalidPalette, key)
		}
	}
	return nil
}

// Decode parses and validates a palette document.
func Decode(data []byte) (Palette, error) {
	var p Palette
	if err := json.Unmarshal(data, &p); err != nil {
		return Palette{}, fmt.Errorf("%w: %v", core.ErrInvalidPalette, err)
	}
	if p.Commands == nil {
		p.Commands = map[string]json.RawMessage{}
	}
	if err := p.Validate(); err != nil {
		return Palette{}, err
	}
	return p, nil
}

// Encode renders p as indented JSON.
func Encode(p Palette) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
