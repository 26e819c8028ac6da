package providers

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"alert-service/internal/logging"
	"alert-service/internal/metrics"
)

// SendResult lists the recipients a fan-out reached and those it did not.
type SendResult struct {
	Delivered []string
	Failed    []string
}

// smsSender is the single-recipient send implemented by pkg/sms.
type smsSender interface {
	Send(fromNumber, toNumber, body string) (string, error)
}

// SMS fans a message out to several recipients through Twilio.
type SMS struct {
	client smsSender
	logger *logging.Logger
}

func NewSMS(client smsSender, logger *logging.Logger) *SMS {
	return &SMS{client: client, logger: logger}
}

// Send delivers body to every number in to. It fails only when no recipient
// was reached, so a partial delivery still counts as the message attempt.
func (s *SMS) Send(ctx context.Context, from string, to []string, body string) (SendResult, error) {
	var (
		mu     sync.Mutex
		result SendResult
	)
	g, _ := errgroup.WithContext(ctx)
	for _, number := range to {
		number := number
		g.Go(func() error {
			_, err := s.client.Send(from, number, body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Errorf("SMS from %s to %s failed: %v", from, number, err)
				metrics.MessagesSent.WithLabelValues("sms", "failed").Inc()
				result.Failed = append(result.Failed, number)
				return nil
			}
			metrics.MessagesSent.WithLabelValues("sms", "delivered").Inc()
			result.Delivered = append(result.Delivered, number)
			return nil
		})
	}
	_ = g.Wait()

	if len(to) > 0 && len(result.Delivered) == 0 {
		return result, fmt.Errorf("failed to send SMS from %s to any of %v", from, to)
	}
	return result, nil
}
