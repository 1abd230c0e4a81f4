package queue

import (
	"fmt"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQP header names carried by every job message
const (
	HeaderJobID          = "x-job-id"
	HeaderJobType        = "x-job-type"
	HeaderEndpoint       = "x-endpoint"
	HeaderMaxRetries     = "x-max-retries"
	HeaderAttempt        = "x-attempt"
	HeaderTimeoutSeconds = "x-timeout-seconds"
	HeaderLastError      = "x-last-error"
)

// Message is one job publication. Body is the envelope JSON and is delivered
// to the worker byte for byte.
type Message struct {
	JobID           string
	JobType         string
	Endpoint        string
	Body            []byte
	MaxRetries      int
	Attempt         int
	TimeoutSeconds  int
	Delay           time.Duration
	DeduplicationID string
	LastError       string
}

// Headers encodes the delivery contract as AMQP headers
func (m Message) Headers() amqp.Table {
	headers := amqp.Table{
		HeaderJobID:          m.JobID,
		HeaderJobType:        m.JobType,
		HeaderEndpoint:       m.Endpoint,
		HeaderMaxRetries:     int32(m.MaxRetries),
		HeaderAttempt:        int32(m.Attempt),
		HeaderTimeoutSeconds: int32(m.TimeoutSeconds),
	}
	if m.LastError != "" {
		headers[HeaderLastError] = m.LastError
	}
	return headers
}

// Publishing builds the AMQP publishing for the message
func (m Message) Publishing() amqp.Publishing {
	messageID := m.DeduplicationID
	if messageID == "" {
		messageID = m.JobID
	}

	p := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Type:         m.JobType,
		Headers:      m.Headers(),
		Body:         m.Body,
	}
	if m.Delay > 0 {
		p.Expiration = strconv.FormatInt(m.Delay.Milliseconds(), 10)
	}
	return p
}

// FromDelivery decodes a consumed delivery back into a Message
func FromDelivery(d amqp.Delivery) (Message, error) {
	msg := Message{
		Body:            d.Body,
		DeduplicationID: d.MessageId,
	}

	var err error
	if msg.JobID, err = stringHeader(d.Headers, HeaderJobID); err != nil {
		return Message{}, err
	}
	if msg.Endpoint, err = stringHeader(d.Headers, HeaderEndpoint); err != nil {
		return Message{}, err
	}
	msg.JobType, _ = stringHeader(d.Headers, HeaderJobType)
	msg.LastError, _ = stringHeader(d.Headers, HeaderLastError)

	if msg.MaxRetries, err = intHeader(d.Headers, HeaderMaxRetries); err != nil {
		return Message{}, err
	}
	// Missing attempt/timeout headers fall back to the first attempt and the relay default
	msg.Attempt, _ = intHeader(d.Headers, HeaderAttempt)
	msg.TimeoutSeconds, _ = intHeader(d.Headers, HeaderTimeoutSeconds)

	return msg, nil
}

func stringHeader(headers amqp.Table, key string) (string, error) {
	v, ok := headers[key]
	if !ok {
		return "", fmt.Errorf("missing header %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("header %s must be a non-empty string", key)
	}
	return s, nil
}

func intHeader(headers amqp.Table, key string) (int, error) {
	v, ok := headers[key]
	if !ok {
		return 0, fmt.Errorf("missing header %s", key)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int8:
		return int(n), nil
	case int16:
		return int(n), nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint8:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint32:
		return int(n), nil
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("header %s: %w", key, err)
		}
		return parsed, nil
	}
	return 0, fmt.Errorf("header %s has unsupported type %T", key, v)
}
