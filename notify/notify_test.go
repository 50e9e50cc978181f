// Copyright (c) 2026 The Lakay Vote Authors. All rights reserved.

package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lakayvote/intake/apperrors"
	"github.com/lakayvote/intake/mocks"
	"github.com/lakayvote/intake/models"
	"github.com/lakayvote/intake/notify"
)

var msg = notify.Message{Channel: models.ChannelPhone, Address: "+50937001234", Code: "042042"}

func TestWebhook_Send(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantErr   bool
		permanent bool
	}{
		{"accepted", http.StatusAccepted, false, false},
		{"server error", http.StatusBadGateway, true, false},
		{"throttled", http.StatusTooManyRequests, true, false},
		{"bad address", http.StatusUnprocessableEntity, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			received := make(chan notify.Message, 1)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				var m notify.Message
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&m))
				received <- m
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			err := notify.NewWebhook(srv.URL, time.Second).Send(context.Background(), msg)
			if !tt.wantErr {
				require.NoError(t, err)
				assert.Equal(t, msg, <-received)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.permanent, errors.Is(err, notify.ErrRejected))
		})
	}
}

func TestRetrying_RecoversFromTransientFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sender := mocks.NewMockSender(ctrl)
	gomock.InOrder(
		sender.EXPECT().Send(gomock.Any(), msg).Return(errors.New("timeout")),
		sender.EXPECT().Send(gomock.Any(), msg).Return(errors.New("timeout")),
		sender.EXPECT().Send(gomock.Any(), msg).Return(nil),
	)

	r := notify.NewRetrying(sender, 3, time.Millisecond, zaptest.NewLogger(t))
	assert.NoError(t, r.Send(context.Background(), msg))
}

func TestRetrying_GivesUp(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sender := mocks.NewMockSender(ctrl)
	// One try plus two retries
	sender.EXPECT().Send(gomock.Any(), msg).Return(errors.New("down")).Times(3)

	r := notify.NewRetrying(sender, 2, time.Millisecond, zaptest.NewLogger(t))
	err := r.Send(context.Background(), msg)
	assert.ErrorIs(t, err, apperrors.ErrChannelDeliveryFailed)
}

func TestRetrying_DoesNotRetryRejection(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	sender := mocks.NewMockSender(ctrl)
	sender.EXPECT().Send(gomock.Any(), msg).Return(notify.ErrRejected).Times(1)

	r := notify.NewRetrying(sender, 5, time.Millisecond, zaptest.NewLogger(t))
	err := r.Send(context.Background(), msg)
	assert.ErrorIs(t, err, apperrors.ErrAddressUndeliverable)
	assert.ErrorIs(t, err, notify.ErrRejected)
	assert.NotErrorIs(t, err, apperrors.ErrChannelDeliveryFailed)
}

func TestMemory(t *testing.T) {
	m := notify.NewMemory()
	require.NoError(t, m.Send(context.Background(), msg))
	second := msg
	second.Code = "111111"
	require.NoError(t, m.Send(context.Background(), second))

	got, ok := m.Last(msg.Address)
	require.True(t, ok)
	assert.Equal(t, "111111", got.Code)
	assert.Equal(t, 2, m.Sent())

	_, ok = m.Last("nobody")
	assert.False(t, ok)
}

func TestLogOutbox(t *testing.T) {
	assert.NoError(t, notify.NewLogOutbox(zaptest.NewLogger(t)).Send(context.Background(), msg))
}

func TestMask(t *testing.T) {
	tests := []struct {
		channel models.Channel
		address string
		want    string
	}{
		{models.ChannelPhone, "+50937001234", "********1234"},
		{models.ChannelPhone, "123", "****"},
		{models.ChannelEmail, "marie@example.org", "m***@example.org"},
		{models.ChannelEmail, "broken", "***"},
	}

	for _, tt := range tests {
		t.Run(tt.address, func(t *testing.T) {
			assert.Equal(t, tt.want, notify.Mask(tt.channel, tt.address))
		})
	}
}
