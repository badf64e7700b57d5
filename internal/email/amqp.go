// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

package email

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// outboundQueueName is the durable queue consumed by the mailer worker.
const outboundQueueName = "email.outbound"

// AMQPDispatcher publishes mail messages to RabbitMQ.
//
// # Durability
//
// The queue is durable and deliveries are persistent, so queued mail survives
// a broker restart. The consumer owns retries and dead-lettering.
type AMQPDispatcher struct {
	connection *amqp.Connection
	channel    *amqp.Channel
}

// NewAMQPDispatcher dials the broker, opens a channel, and declares the
// outbound queue (idempotent).
func NewAMQPDispatcher(url string) (*AMQPDispatcher, error) {
	connection, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("email: amqp dial failed: %w", err)
	}

	channel, err := connection.Channel()
	if err != nil {
		_ = connection.Close()
		return nil, fmt.Errorf("email: amqp channel open failed: %w", err)
	}

	if _, err := channel.QueueDeclare(
		outboundQueueName, // name
		true,              // durable
		false,             // autoDelete
		false,             // exclusive
		false,             // noWait
		nil,               // args
	); err != nil {
		_ = channel.Close()
		_ = connection.Close()
		return nil, fmt.Errorf("email: queue declare failed: %w", err)
	}

	return &AMQPDispatcher{connection: connection, channel: channel}, nil
}

// SendVerification implements [Dispatcher].
func (dispatcher *AMQPDispatcher) SendVerification(ctx context.Context, recipient, token string) error {
	return dispatcher.publish(ctx, Message{Kind: KindVerification, Recipient: recipient, Token: token})
}

// SendPasswordReset implements [Dispatcher].
func (dispatcher *AMQPDispatcher) SendPasswordReset(ctx context.Context, recipient, token string) error {
	return dispatcher.publish(ctx, Message{Kind: KindPasswordReset, Recipient: recipient, Token: token})
}

// publish marshals the message and hands it to the default exchange.
func (dispatcher *AMQPDispatcher) publish(ctx context.Context, message Message) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("email: marshal message failed: %w", err)
	}

	publishing := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent, // store on disk
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	if err := dispatcher.channel.PublishWithContext(ctx,
		"",                // default exchange
		outboundQueueName, // routing key = queue name
		false,             // mandatory
		false,             // immediate
		publishing,
	); err != nil {
		return fmt.Errorf("email: publish failed: %w", err)
	}

	return nil
}

// Close releases the channel and connection.
func (dispatcher *AMQPDispatcher) Close() error {
	if err := dispatcher.channel.Close(); err != nil {
		_ = dispatcher.connection.Close()
		return fmt.Errorf("email: channel close failed: %w", err)
	}
	if err := dispatcher.connection.Close(); err != nil {
		return fmt.Errorf("email: connection close failed: %w", err)
	}
	return nil
}
