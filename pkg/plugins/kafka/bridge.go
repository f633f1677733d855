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

package kafka

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

// Bridge publishes feed frames to topicOut and reads device commands from
// topicIn.
type Bridge struct {
	name     string
	brokers  []string
	topicIn  string
	topicOut string
	groupID  string
	writer   *kafka.Writer
	logger   *slog.Logger

	mu     sync.Mutex
	reader *kafka.Reader
}

func New(name string, brokers []string, topicIn, topicOut, groupID string, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:     name,
		brokers:  brokers,
		topicIn:  topicIn,
		topicOut: topicOut,
		groupID:  groupID,
		logger:   logger,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "kafka" }

func (b *Bridge) Connect(ctx context.Context) error {
	if b.topicOut != "" {
		b.writer = &kafka.Writer{
			Addr:                   kafka.TCP(b.brokers...),
			Topic:                  b.topicOut,
			Balancer:               &kafka.Hash{},
			AllowAutoTopicCreation: true,
		}
	}
	b.logger.Info("kafka bridge connected",
		"name", b.name,
		"brokers", strings.Join(b.brokers, ","),
		"topic_in", b.topicIn,
		"topic_out", b.topicOut,
	)
	return nil
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.reader != nil {
		b.reader.Close()
		b.reader = nil
	}
	b.mu.Unlock()
	if b.writer != nil {
		return b.writer.Close()
	}
	return nil
}

// Publish keys every message by the device address so frames from one
// device stay ordered within a partition.
func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.writer == nil {
		return nil
	}
	return b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.Source),
		Value: evt.Frame(),
		Time:  evt.Timestamp,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(evt.Kind.String())},
		},
	})
}

func (b *Bridge) ConsumeCommands(ctx context.Context, ch chan<- core.Command) error {
	if b.topicIn == "" {
		<-ctx.Done()
		return nil
	}

	groupID := b.groupID
	if groupID == "" {
		groupID = "device-relay-" + b.name
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  b.brokers,
		Topic:    b.topicIn,
		GroupID:  groupID,
		MaxWait:  500 * time.Millisecond,
		MinBytes: 1,
		MaxBytes: 10e6,
	})

	b.mu.Lock()
	b.reader = reader
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.reader == reader {
			b.reader = nil
		}
		b.mu.Unlock()
		reader.Close()
	}()

	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("kafka fetch error", "name", b.name, "error", err)
			return err
		}

		select {
		case ch <- core.NewCommand(b.name, msg.Value):
		case <-ctx.Done():
			return nil
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			b.logger.Warn("kafka commit failed", "name", b.name, "offset", msg.Offset, "error", err)
		}
	}
}
