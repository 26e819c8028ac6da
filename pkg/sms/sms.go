package sms

import (
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	twilioClient "github.com/twilio/twilio-go/client"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client sends SMS through Twilio and validates Twilio webhook signatures.
type Client struct {
	rest      *twilio.RestClient
	validator twilioClient.RequestValidator
}

func New(accountSID, authToken string) *Client {
	return &Client{
		rest: twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: accountSID,
			Password: authToken,
		}),
		validator: twilioClient.NewRequestValidator(authToken),
	}
}

// Send delivers one message and returns the Twilio message SID.
func (c *Client) Send(fromNumber, toNumber, body string) (string, error) {
	if !strings.HasPrefix(toNumber, "+") {
		return "", fmt.Errorf("invalid phone number: %s", toNumber)
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(toNumber)
	params.SetFrom(fromNumber)
	params.SetBody(body)

	resp, err := c.rest.Api.CreateMessage(params)
	if err != nil {
		return "", fmt.Errorf("failed to send SMS to %s: %w", toNumber, err)
	}
	if resp.Sid == nil {
		return "", nil
	}
	return *resp.Sid, nil
}

// Validate checks the X-Twilio-Signature of a webhook request. url is the
// full URL Twilio posted to and params the decoded form body.
func (c *Client) Validate(url string, params map[string]string, signature string) bool {
	return c.validator.Validate(url, params, signature)
}
