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

// Package jms bridges the feed to an AMQP 1.0 broker (ActiveMQ Artemis,
// Azure Service Bus and other JMS-compatible brokers).
package jms

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/wso2/api-platform/gateway/device-relay/pkg/core"
)

type Bridge struct {
	name     string
	url      string
	queueIn  string
	queueOut string
	conn     *amqp.Conn
	sendSess *amqp.Session
	sender   *amqp.Sender
	logger   *slog.Logger

	mu       sync.Mutex
	receiver *amqp.Receiver
}

func New(name, url, queueIn, queueOut string, logger *slog.Logger) *Bridge {
	return &Bridge{
		name:     name,
		url:      url,
		queueIn:  queueIn,
		queueOut: queueOut,
		logger:   logger,
	}
}

func (b *Bridge) Name() string { return b.name }
func (b *Bridge) Type() string { return "jms" }

func (b *Bridge) Connect(ctx context.Context) error {
	var err error
	b.conn, err = amqp.Dial(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("jms dial: %w", err)
	}

	if b.queueOut != "" {
		b.sendSess, err = b.conn.NewSession(ctx, nil)
		if err != nil {
			return fmt.Errorf("jms send session: %w", err)
		}
		b.sender, err = b.sendSess.NewSender(ctx, b.queueOut, nil)
		if err != nil {
			return fmt.Errorf("jms sender: %w", err)
		}
	}

	b.logger.Info("jms bridge connected", "name", b.name, "queue_in", b.queueIn, "queue_out", b.queueOut)
	return nil
}

func (b *Bridge) Disconnect(ctx context.Context) error {
	b.mu.Lock()
	if b.receiver != nil {
		b.receiver.Close(ctx)
		b.receiver = nil
	}
	b.mu.Unlock()
	if b.sender != nil {
		b.sender.Close(ctx)
	}
	if b.sendSess != nil {
		b.sendSess.Close(ctx)
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *Bridge) Publish(ctx context.Context, evt core.Event) error {
	if b.sender == nil {
		return nil
	}
	contentType := "application/json"
	if evt.IsLifecycle() {
		contentType = "text/plain"
	}
	return b.sender.Send(ctx, &amqp.Message{
		Data: [][]byte{evt.Frame()},
		Properties: &amqp.MessageProperties{
			ContentType:  &contentType,
			CreationTime: &evt.Timestamp,
		},
		ApplicationProperties: map[string]any{
			"kind":   evt.Kind.String(),
			"source": evt.Source,
		},
	}, nil)
}

func (b *Bridge) ConsumeCommands(ctx context.Context, ch chan<- core.Command) error {
	if b.queueIn == "" {
		<-ctx.Done()
		return nil
	}

	recvSess, err := b.conn.NewSession(ctx, nil)
	if err != nil {
		return fmt.Errorf("jms consumer session: %w", err)
	}

	receiver, err := recvSess.NewReceiver(ctx, b.queueIn, &amqp.ReceiverOptions{
		Credit: 1,
	})
	if err != nil {
		recvSess.Close(ctx)
		return fmt.Errorf("jms receiver: %w", err)
	}

	b.mu.Lock()
	b.receiver = receiver
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		if b.receiver == receiver {
			b.receiver = nil
		}
		b.mu.Unlock()
		closeCtx := context.WithoutCancel(ctx)
		receiver.Close(closeCtx)
		recvSess.Close(closeCtx)
	}()

	for {
		msg, err := receiver.Receive(ctx, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("jms receive: %w", err)
		}

		select {
		case ch <- core.NewCommand(b.name, msg.GetData()):
			if err := receiver.AcceptMessage(ctx, msg); err != nil {
				b.logger.Warn("jms accept failed", "name", b.name, "error", err)
			}
		case <-ctx.Done():
			_ = receiver.ReleaseMessage(context.WithoutCancel(ctx), msg)
			return nil
		}
	}
}
