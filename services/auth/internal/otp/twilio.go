package otp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/milkyano/barber-core/pkg/logger"
	"github.com/twilio/twilio-go"
	twclient "github.com/twilio/twilio-go/client"
	verify "github.com/twilio/twilio-go/rest/verify/v2"
)

const smsChannel = "sms"

// verifyAPI is the part of the Twilio Verify v2 service the gateway calls.
type verifyAPI interface {
	CreateVerification(serviceSid string, params *verify.CreateVerificationParams) (*verify.VerifyV2Verification, error)
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

type TwilioGateway struct {
	api        verifyAPI
	serviceSID string
}

func NewTwilioGateway(accountSID, authToken, serviceSID string, timeout time.Duration) (*TwilioGateway, error) {
	if accountSID == "" || authToken == "" || serviceSID == "" {
		return nil, errors.New("otp: twilio account sid, auth token and verify service sid are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	client.SetTimeout(timeout)
	return &TwilioGateway{api: client.VerifyV2, serviceSID: serviceSID}, nil
}

func (g *TwilioGateway) Send(ctx context.Context, phone string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	params := &verify.CreateVerificationParams{}
	params.SetTo(phone)
	params.SetChannel(smsChannel)

	resp, err := g.api.CreateVerification(g.serviceSID, params)
	if err != nil {
		logger.ErrorContext(ctx, "Twilio send verification failed", "error", err)
		return fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}
	if resp.Status != nil {
		logger.DebugContext(ctx, "Twilio verification created", "status", *resp.Status)
	}
	return nil
}

func (g *TwilioGateway) Check(ctx context.Context, phone, code string) (CheckResult, error) {
	if err := ctx.Err(); err != nil {
		return CheckResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(phone)
	params.SetCode(code)

	resp, err := g.api.CreateVerificationCheck(g.serviceSID, params)
	if err != nil {
		// Twilio answers 404 when no pending verification exists for the phone.
		var restErr *twclient.TwilioRestError
		if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
			return CheckResult{Valid: false, Status: StatusNotFound}, nil
		}
		logger.ErrorContext(ctx, "Twilio verification check failed", "error", err)
		return CheckResult{}, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
	}

	result := CheckResult{Status: StatusPending}
	if resp.Status != nil {
		result.Status = *resp.Status
	}
	result.Valid = result.Status == StatusApproved
	if resp.Valid != nil {
		result.Valid = result.Valid && *resp.Valid
	}
	return result, nil
}
