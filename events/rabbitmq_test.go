package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lead-exchange/broker"
)

type publishedMsg struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakeChannel struct {
	declared   []string
	kinds      []string
	published  []publishedMsg
	publishErr error
	closed     bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	f.declared = append(f.declared, name)
	f.kinds = append(f.kinds, kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, publishedMsg{exchange: exchange, key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestNewPublisher_DeclaresDurableTopicExchange(t *testing.T) {
	ch := &fakeChannel{}

	p, err := newPublisher(ch, "")
	require.NoError(t, err)

	assert.Equal(t, []string{DefaultExchange}, ch.declared)
	assert.Equal(t, []string{"topic"}, ch.kinds)
	assert.Equal(t, DefaultExchange, p.exchange)
}

func TestPublishLeadSold(t *testing.T) {
	// GIVEN: a publisher on a custom exchange
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "ex.test")
	require.NoError(t, err)

	ev := broker.LeadSoldEvent{
		LeadID:      "lead-1",
		SellerID:    "seller-1",
		BuyerID:     "buyer-a",
		PurchaseID:  "purchase-1",
		Price:       "50.00",
		BalanceLeft: "450.00",
		PurchasedAt: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC),
	}

	// WHEN: a sale is published
	require.NoError(t, p.PublishLeadSold(context.Background(), ev))

	// THEN: one persistent JSON message goes out under lead.sold
	require.Len(t, ch.published, 1)
	got := ch.published[0]
	assert.Equal(t, "ex.test", got.exchange)
	assert.Equal(t, broker.EventLeadSold, got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.NotEmpty(t, got.msg.MessageId)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(got.msg.Body, &decoded))
	assert.Equal(t, "lead-1", decoded["lead_id"])
	assert.Equal(t, "buyer-a", decoded["buyer_id"])
	assert.Equal(t, "50.00", decoded["price"])
	assert.Equal(t, "450.00", decoded["balance_left"])
}

func TestPublishWalletCredited(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "ex.test")
	require.NoError(t, err)

	err = p.PublishWalletCredited(context.Background(), broker.WalletCreditedEvent{
		BuyerID: "buyer-a",
		Amount:  "100.00",
		Reason:  broker.ReasonManualCredit,
		Balance: "100.00",
	})
	require.NoError(t, err)

	require.Len(t, ch.published, 1)
	assert.Equal(t, broker.EventWalletCredited, ch.published[0].key)
	assert.Equal(t, broker.EventWalletCredited, ch.published[0].msg.Type)
}

func TestPublish_WrapsChannelError(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "")
	require.NoError(t, err)

	boom := errors.New("channel closed")
	ch.publishErr = boom

	err = p.PublishLeadSold(context.Background(), broker.LeadSoldEvent{LeadID: "lead-1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestClose_WithoutConnection(t *testing.T) {
	ch := &fakeChannel{}
	p, err := newPublisher(ch, "")
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
	assert.False(t, p.Healthy())
}
