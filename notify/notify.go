// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

// Package notify delivers one-time codes to voters.
package notify

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/models"
)

// ErrRejected means the provider refused the message. Retrying will not help.
var ErrRejected = errors.New("message rejected by provider")

// Message carries a one-time code to its destination.
type Message struct {
	Channel models.Channel `json:"channel"`
	Address string         `json:"address"`
	Code    string         `json:"code"`
}

//go:generate mockgen -destination=../mocks/sender.go -package=mocks github.com/lakayvote/intake/notify Sender

// Sender delivers one-time codes.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Webhook posts each message as JSON to an SMS/email provider bridge.
type Webhook struct {
	url    string
	client *http.Client
}

func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{url: url, client: &http.Client{Timeout: timeout}}
}

func (w *Webhook) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	default:
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
}

// Retrying retries transient failures of the wrapped sender with
// exponential backoff. Once retries run out the error wraps
// apperrors.ErrChannelDeliveryFailed. A provider rejection is not retried
// and wraps apperrors.ErrAddressUndeliverable instead.
type Retrying struct {
	next       Sender
	maxRetries uint64
	base       time.Duration
	logger     *zap.Logger
}

func NewRetrying(next Sender, maxRetries uint64, base time.Duration, logger *zap.Logger) *Retrying {
	return &Retrying{next: next, maxRetries: maxRetries, base: base, logger: logger}
}

func (r *Retrying) Send(ctx context.Context, msg Message) error {
	backoff := retry.WithMaxRetries(r.maxRetries, retry.NewExponential(r.base))

	tries := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		tries++
		err := r.next.Send(ctx, msg)
		if err == nil || errors.Is(err, ErrRejected) {
			return err
		}
		r.logger.Debug("code delivery failed, retrying",
			zap.String("channel", string(msg.Channel)),
			zap.Int("try", tries),
			zap.Error(err))
		return retry.RetryableError(err)
	})
	if errors.Is(err, ErrRejected) {
		r.logger.Warn("code delivery refused",
			zap.String("channel", string(msg.Channel)),
			zap.String("address", Mask(msg.Channel, msg.Address)),
			zap.Error(err))
		return fmt.Errorf("%w: %w", apperrors.ErrAddressUndeliverable, err)
	}
	if err != nil {
		r.logger.Warn("code delivery gave up",
			zap.String("channel", string(msg.Channel)),
			zap.String("address", Mask(msg.Channel, msg.Address)),
			zap.Int("tries", tries),
			zap.Error(err))
		return fmt.Errorf("%w: %v", apperrors.ErrChannelDeliveryFailed, err)
	}
	return nil
}

// LogOutbox stands in for a provider during development. It logs the masked
// destination and a digest of the code, never the code itself.
type LogOutbox struct {
	logger *zap.Logger
}

func NewLogOutbox(logger *zap.Logger) *LogOutbox {
	return &LogOutbox{logger: logger}
}

func (o *LogOutbox) Send(ctx context.Context, msg Message) error {
	sum := sha256.Sum256([]byte(msg.Code))
	o.logger.Info("verification code issued",
		zap.String("channel", string(msg.Channel)),
		zap.String("address", Mask(msg.Channel, msg.Address)),
		zap.String("code_digest", hex.EncodeToString(sum[:4])))
	return nil
}

// Memory keeps the latest message per address. Used by tests and local
// tooling that need to read a code back.
type Memory struct {
	mu   sync.Mutex
	last map[string]Message
	sent int
}

func NewMemory() *Memory {
	return &Memory{last: make(map[string]Message)}
}

func (m *Memory) Send(ctx context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last[msg.Address] = msg
	m.sent++
	return nil
}

// Last returns the most recent message sent to address.
func (m *Memory) Last(address string) (Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.last[address]
	return msg, ok
}

// Sent counts every message accepted so far.
func (m *Memory) Sent() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent
}

// Mask hides most of an address for logs.
func Mask(channel models.Channel, address string) string {
	if channel == models.ChannelEmail {
		at := strings.LastIndexByte(address, '@')
		if at <= 0 {
			return "***"
		}
		return address[:1] + "***" + address[at:]
	}
	if len(address) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(address)-4) + address[len(address)-4:]
}
