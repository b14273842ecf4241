package bus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

type fakeValidator struct {
	userID string
	valid  bool
	err    error
}

func (v *fakeValidator) ValidateToken(context.Context, string) (string, bool, error) {
	return v.userID, v.valid, v.err
}

type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (a *fakeAcknowledger) Ack(uint64, bool) error {
	a.acked = true
	return nil
}

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

type fakePublisher struct {
	key string
	msg amqp.Publishing
	n   int
	err error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	p.n++
	p.key = key
	p.msg = msg
	return p.err
}

func newTestConsumer(v TokenValidator) *Consumer {
	return &Consumer{
		queue:     DefaultQueue,
		validator: v,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func requestDelivery(t *testing.T, ack *fakeAcknowledger, token, replyTo, correlationID string) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(ValidationRequest{Token: token, ReplyTo: replyTo})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return amqp.Delivery{
		Acknowledger:  ack,
		Body:          body,
		CorrelationId: correlationID,
	}
}

func TestHandleDeliveryRepliesValid(t *testing.T) {
	c := newTestConsumer(&fakeValidator{userID: "u1", valid: true})
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, requestDelivery(t, ack, "token", "reply-q", "corr-7"))

	if pub.n != 1 {
		t.Fatalf("expected 1 publish, got %d", pub.n)
	}
	if pub.key != "reply-q" {
		t.Fatalf("expected reply on %q, got %q", "reply-q", pub.key)
	}
	if pub.msg.CorrelationId != "corr-7" {
		t.Fatalf("expected echoed correlation id, got %q", pub.msg.CorrelationId)
	}

	var reply ValidationReply
	if err := json.Unmarshal(pub.msg.Body, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if !reply.IsValid || reply.UserID == nil || *reply.UserID != "u1" {
		t.Fatalf("unexpected reply: %+v", reply)
	}

	if !ack.acked || ack.nacked {
		t.Fatalf("expected ack, got ack=%v nack=%v", ack.acked, ack.nacked)
	}
}

func TestHandleDeliveryRepliesInvalidWithNullUserID(t *testing.T) {
	c := newTestConsumer(&fakeValidator{userID: "leak-me", valid: false})
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, requestDelivery(t, ack, "garbage", "reply-q", ""))

	var reply ValidationReply
	if err := json.Unmarshal(pub.msg.Body, &reply); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if reply.IsValid {
		t.Fatal("expected invalid verdict")
	}
	if reply.UserID != nil {
		t.Fatalf("expected no user id on invalid verdict, got %q", *reply.UserID)
	}
	// The field is present as an explicit null, not omitted.
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(pub.msg.Body, &raw); err != nil {
		t.Fatalf("unmarshal raw reply: %v", err)
	}
	if userID, ok := raw["userId"]; !ok || string(userID) != "null" {
		t.Fatalf("expected userId:null on the wire, got %s", pub.msg.Body)
	}
	if !ack.acked {
		t.Fatal("expected ack after publishing the verdict")
	}
}

func TestHandleDeliveryRejectsMalformedBody(t *testing.T) {
	c := newTestConsumer(&fakeValidator{valid: true})
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{not json"),
	})

	if pub.n != 0 {
		t.Fatal("expected no reply for malformed request")
	}
	if !ack.nacked || ack.requeue {
		t.Fatalf("expected nack without requeue, got nack=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

func TestHandleDeliveryRejectsMissingReplyTo(t *testing.T) {
	c := newTestConsumer(&fakeValidator{valid: true})
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, requestDelivery(t, ack, "token", "", ""))

	if pub.n != 0 {
		t.Fatal("expected no reply without a reply queue")
	}
	if !ack.nacked || ack.requeue {
		t.Fatalf("expected nack without requeue, got nack=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

func TestHandleDeliveryRejectsOnBackendFailure(t *testing.T) {
	c := newTestConsumer(&fakeValidator{err: errors.New("store down")})
	pub := &fakePublisher{}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, requestDelivery(t, ack, "token", "reply-q", ""))

	if pub.n != 0 {
		t.Fatal("expected no reply when the verdict is unknown")
	}
	if !ack.nacked || ack.requeue {
		t.Fatalf("expected nack without requeue, got nack=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

func TestHandleDeliveryRejectsOnPublishFailure(t *testing.T) {
	c := newTestConsumer(&fakeValidator{userID: "u1", valid: true})
	pub := &fakePublisher{err: errors.New("channel closed")}
	ack := &fakeAcknowledger{}

	c.handleDelivery(context.Background(), pub, requestDelivery(t, ack, "token", "reply-q", ""))

	if ack.acked {
		t.Fatal("expected no ack when the reply never left")
	}
	if !ack.nacked || ack.requeue {
		t.Fatalf("expected nack without requeue, got nack=%v requeue=%v", ack.nacked, ack.requeue)
	}
}

func TestNewConsumerRequiresValidator(t *testing.T) {
	if _, err := NewConsumer(Config{URL: "amqp://localhost"}, nil); err == nil {
		t.Fatal("expected error without validator")
	}
}
