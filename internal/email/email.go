// Copyright (c) 2026 Prepwise. All rights reserved.
// Author: platform@prepwise.app

/*
Package email provides outbound mail dispatch for the authentication flows.

Mail is never sent inline: the auth service hands a message off and moves on.
Delivery failure is an operational concern (logged, retried by the consumer),
never a reason to fail a registration or a password-reset request.

Implementations:

  - AMQPDispatcher: publishes persistent JSON messages to a durable RabbitMQ
    queue consumed by the mailer worker.
  - LogDispatcher: writes the message to the structured log (development).
*/
package email

import "context"

// Kind identifies the template the mailer worker should render.
type Kind string

const (
	KindVerification  Kind = "verification"
	KindPasswordReset Kind = "password_reset"
)

// Message is the payload handed to the mailer worker.
//
// The token is embedded into an action link by the worker; this core never
// renders HTML.
type Message struct {
	Kind      Kind   `json:"kind"`
	Recipient string `json:"recipient"`
	Token     string `json:"token"`
}

// Dispatcher is the fire-and-forget mail collaborator consumed by the auth
// service.
//
// # Contract
//
// Implementations must be fast and non-blocking in spirit: a returned error
// means "the handoff itself failed" and callers log it without propagating.
type Dispatcher interface {
	// SendVerification queues an email-verification message.
	SendVerification(ctx context.Context, recipient, token string) error

	// SendPasswordReset queues a password-reset message.
	SendPasswordReset(ctx context.Context, recipient, token string) error
}
