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
	"log/slog"
	"sync"

	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

// Cache mirrors a Store in memory. Reads are served from memory when
// possible; writes go to the store first, except Update which applies to
// memory and reverts when the store rejects it.
type Cache struct {
	store   Store
	logger  *slog.Logger
	entries sync.Map
	writeMu sync.Mutex
}

func NewCache(store Store, logger *slog.Logger) *Cache {
	return &Cache{store: store, logger: logger}
}

// Load replaces the cache contents with everything in the store. Palettes
// that fail to decode are skipped.
func (c *Cache) Load(ctx context.Context) (int, error) {
	names, err := c.store.List(ctx)
	if err != nil {
		return 0, err
	}

	c.entries.Range(func(key, _ any) bool {
		c.entries.Delete(key)
		return true
	})
	loaded := 0
	for _, name := range names {
		p, err := c.store.Get(ctx, name)
		if err != nil {
			c.logger.Warn("skipping unreadable palette", "name", name, "error", err)
			continue
		}
		c.entries.Store(p.Name, p)
		loaded++
	}
	return loaded, nil
}

func (c *Cache) List(ctx context.Context) ([]string, error) {
	return c.store.List(ctx)
}

func (c *Cache) Get(ctx context.Context, name string) (Palette, error) {
	if v, ok := c.entries.Load(name); ok {
		return v.(Palette), nil
	}
	p, err := c.store.Get(ctx, name)
	if err != nil {
		return Palette{}, err
	}
	c.entries.Store(p.Name, p)
	return p, nil
}

// Save creates or overwrites a palette.
func (c *Cache) Save(ctx context.Context, p Palette) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Save(ctx, p); err != nil {
		return err
	}
	c.entries.Store(p.Name, p)
	return nil
}

// Update replaces the commands of an existing palette. Renaming is not
// supported.
func (c *Cache) Update(ctx context.Context, name string, p Palette) (Palette, error) {
	if p.Name != name {
		return Palette{}, fmt.Errorf("%w: name in path (%q) does not match name in body (%q)", core.ErrInvalidPalette, name, p.Name)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	previous, ok := c.entries.Load(name)
	if !ok {
		existing, err := c.store.Get(ctx, name)
		if err != nil {
			return Palette{}, err
		}
		previous = existing
	}

	updated := previous.(Palette)
	updated.Commands = p.Commands
	c.entries.Store(name, updated)

	if err := c.store.Save(ctx, updated); err != nil {
		c.revert(ctx, name)
		return Palette{}, err
	}
	return updated, nil
}

func (c *Cache) revert(ctx context.Context, name string) {
	original, err := c.store.Get(ctx, name)
	if err != nil {
		c.logger.Error("reverting palette failed, evicting from cache", "name", name, "error", err)
		c.entries.Delete(name)
		return
	}
	c.entries.Store(name, original)
	c.logger.Warn("palette save failed, cache reverted", "name", name)
}

func (c *Cache) Delete(ctx context.Context, name string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.store.Delete(ctx, name); err != nil {
		if errors.Is(err, core.ErrPaletteNotFound) {
			c.entries.Delete(name)
		}
		return err
	}
	c.entries.Delete(name)
	return nil
}

// Import decodes an uploaded palette document and saves it under the name
// it carries.
func (c *Cache) Import(ctx context.Context, data []byte) (Palette, error) {
	p, err := Decode(data)
	if err != nil {
		return Palette{}, err
	}
	if err := c.Save(ctx, p); err != nil {
		return Palette{}, err
	}
	return p, nil
}
