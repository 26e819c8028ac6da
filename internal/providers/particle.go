package providers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"alert-service/internal/logging"
	"alert-service/internal/models"
)

const (
	functionResetMonitoring  = "Reset_Monitoring"
	functionResetStateToZero = "Reset_State_To_Zero"
)

type particleFunctionResponse struct {
	ID          string `json:"id"`
	Connected   bool   `json:"connected"`
	ReturnValue int    `json:"return_value"`
}

// Particle calls cloud functions on sensors through the Particle API.
type Particle struct {
	http         *resty.Client
	productGroup string
	logger       *logging.Logger
}

func NewParticle(apiURL, accessToken, productGroup string, logger *logging.Logger) *Particle {
	client := resty.New().
		SetBaseURL(apiURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		SetAuthToken(accessToken)
	return &Particle{http: client, productGroup: productGroup, logger: logger}
}

// ResetMonitoring tells the sensor to resume normal monitoring.
func (p *Particle) ResetMonitoring(ctx context.Context, device models.Device) error {
	return p.call(ctx, device, functionResetMonitoring)
}

// ResetStateToZero returns the sensor state machine to its baseline.
func (p *Particle) ResetStateToZero(ctx context.Context, device models.Device) error {
	return p.call(ctx, device, functionResetStateToZero)
}

func (p *Particle) call(ctx context.Context, device models.Device, function string) error {
	var out particleFunctionResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"arg": "e"}).
		SetResult(&out).
		SetPathParams(map[string]string{
			"product":  p.productGroup,
			"device":   device.SerialNumber,
			"function": function,
		}).
		Post("/v1/products/{product}/devices/{device}/{function}")
	if err != nil {
		return fmt.Errorf("failed to call %s on device %s: %w", function, device.SerialNumber, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s on device %s returned status %d", function, device.SerialNumber, resp.StatusCode())
	}
	if out.ReturnValue != 1 {
		return fmt.Errorf("%s on device %s returned %d", function, device.SerialNumber, out.ReturnValue)
	}
	p.logger.Infof("Called %s on device %s", function, device.SerialNumber)
	return nil
}
