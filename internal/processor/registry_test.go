package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/deploytrack/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProcessor struct {
	txType string
	err    error
}

func (p *stubProcessor) Type() string                  { return p.txType }
func (p *stubProcessor) Validate(map[string]any) error { return nil }
func (p *stubProcessor) Execute(ctx context.Context, req Request) (*Result, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &Result{Output: map[string]any{"tx": req.TransactionID}}, nil
}

func TestRegistry_Get(t *testing.T) {
	r := NewRegistry(&stubProcessor{txType: "contract_deploy"})

	p, err := r.Get("contract_deploy")
	require.NoError(t, err)
	assert.Equal(t, "contract_deploy", p.Type())

	_, err = r.Get("nft_mint")
	assert.ErrorIs(t, err, domainErrors.ErrUnknownTransactionType)
}

func TestRegistry_Execute_Success(t *testing.T) {
	r := NewRegistry(&stubProcessor{txType: "contract_deploy"})

	result, err := r.Execute(context.Background(), "contract_deploy", Request{TransactionID: "tx_aaaaaaaa01"})
	require.NoError(t, err)
	assert.Equal(t, "tx_aaaaaaaa01", result.Output["tx"])
}

func TestRegistry_Execute_UnknownType(t *testing.T) {
	r := NewRegistry()

	_, err := r.Execute(context.Background(), "contract_deploy", Request{})
	assert.ErrorIs(t, err, domainErrors.ErrUnknownTransactionType)
}

func TestRegistry_Execute_PropagatesProcessorError(t *testing.T) {
	boom := domainErrors.NewPermanentError("invalid bytecode", nil)
	r := NewRegistry(&stubProcessor{txType: "contract_deploy", err: boom})

	_, err := r.Execute(context.Background(), "contract_deploy", Request{})
	require.Error(t, err)
	assert.False(t, domainErrors.IsRetryable(err))
}

func TestRegistry_Execute_OpenBreakerIsRetryable(t *testing.T) {
	r := NewRegistry(&stubProcessor{txType: "contract_deploy", err: errors.New("backend down")})

	// Trip the breaker: it opens at >=10 requests with a 60% failure ratio.
	for i := 0; i < 12; i++ {
		r.Execute(context.Background(), "contract_deploy", Request{})
	}

	_, err := r.Execute(context.Background(), "contract_deploy", Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, domainErrors.ErrProcessorUnavailable)
	assert.True(t, domainErrors.IsRetryable(err))
}

func TestMockProcessor_Validate(t *testing.T) {
	p := NewMockProcessor("contract_deploy", WithRequiredField("contract"))

	assert.Error(t, p.Validate(nil))
	assert.Error(t, p.Validate(map[string]any{"other": 1}))
	assert.NoError(t, p.Validate(map[string]any{"contract": "0xabc"}))
}

func TestMockProcessor_Execute_Success(t *testing.T) {
	p := NewMockProcessor("contract_deploy", WithLatency(time.Millisecond))

	result, err := p.Execute(context.Background(), Request{TransactionID: "tx_aaaaaaaa01"})
	require.NoError(t, err)
	assert.Equal(t, "success", result.Output["status"])
	assert.NotEmpty(t, result.Output["reference"])
}

func TestMockProcessor_Execute_AlwaysFails(t *testing.T) {
	p := NewMockProcessor("contract_deploy", WithLatency(time.Millisecond), WithFailureRate(1.0))

	_, err := p.Execute(context.Background(), Request{TransactionID: "tx_aaaaaaaa01"})
	require.Error(t, err)
	assert.True(t, domainErrors.IsRetryable(err))
}

func TestMockProcessor_Execute_HonorsContext(t *testing.T) {
	p := NewMockProcessor("contract_deploy", WithLatency(time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := p.Execute(ctx, Request{TransactionID: "tx_aaaaaaaa01"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
