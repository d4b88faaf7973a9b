package otp

import (
	"context"
	"crypto/subtle"

	"github.com/milkyano/barber-core/pkg/logger"
)

// FixedCodeGateway accepts a single configured code for every phone and never
// touches the network. It is selected by MOCK_OTP.
type FixedCodeGateway struct {
	code string
}

func NewFixedCodeGateway(code string) *FixedCodeGateway {
	return &FixedCodeGateway{code: code}
}

func (g *FixedCodeGateway) Send(ctx context.Context, phone string) error {
	logger.InfoContext(ctx, "[DEV OTP] code not sent, mock code in use", "phone", phone)
	return nil
}

func (g *FixedCodeGateway) Check(_ context.Context, _ string, code string) (CheckResult, error) {
	if subtle.ConstantTimeCompare([]byte(code), []byte(g.code)) == 1 {
		return CheckResult{Valid: true, Status: StatusApproved}, nil
	}
	return CheckResult{Valid: false, Status: StatusPending}, nil
}
