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

package palette

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

const fileExt = ".json"

// FileStore keeps one <name>.json document per palette in dir.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create palette directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+fileExt)
}

func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read palette directory: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileStore) Get(ctx context.Context, name string) (Palette, error) {
	if err := ValidateName(name); err != nil {
		return Palette{}, err
	}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return Palette{}, fmt.Errorf("%w: %s", core.ErrPaletteNotFound, name)
	}
	if err != nil {
		return Palette{}, fmt.Errorf("read palette %s: %w", name, err)
	}
	return Decode(data)
}

// Save writes through a temporary file so a crash never leaves a truncated
// palette behind.
func (s *FileStore) Save(ctx context.Context, p Palette) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := Encode(p)
	if err != nil {
		return fmt.Errorf("encode palette %s: %w", p.Name, err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+p.Name+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create palette file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write palette file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write palette file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(p.Name)); err != nil {
		return fmt.Errorf("write palette file: %w", err)
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	err := os.Remove(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrPaletteNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("delete palette %s: %w", name, err)
	}
	return nil
}
