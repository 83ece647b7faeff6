package x402

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

const (
	testFacilitator = "0x1111111111111111111111111111111111111111"
	testOwner       = "0x2222222222222222222222222222222222222222"
	testRecipient   = "0x3333333333333333333333333333333333333333"
	testAsset       = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
	testSignature   = "0x" +
		"abababababababababababababababababababababababababababababababab" +
		"cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd" + "1b"
)

// Mock mechanism for testing
type mockSchemeNetworkFacilitator struct {
	scheme string
	settle func(ctx context.Context, payment CanonicalPayment) SettlementResult

	mu    sync.Mutex
	calls []CanonicalPayment
}

func (m *mockSchemeNetworkFacilitator) Scheme() string     { return m.scheme }
func (m *mockSchemeNetworkFacilitator) CaipFamily() string { return "eip155:*" }

func (m *mockSchemeNetworkFacilitator) GetExtra(network Network) map[string]interface{} {
	return map[string]interface{}{"spender": testFacilitator}
}

func (m *mockSchemeNetworkFacilitator) GetSigners(network Network) []string {
	return []string{testFacilitator}
}

func (m *mockSchemeNetworkFacilitator) Settle(ctx context.Context, payment CanonicalPayment) SettlementResult {
	m.mu.Lock()
	m.calls = append(m.calls, payment)
	m.mu.Unlock()

	if m.settle != nil {
		return m.settle(ctx, payment)
	}
	return SettlementResult{
		Success:     true,
		Transaction: "0xmocktx",
		Payer:       payment.Authorization.Owner,
		Network:     payment.Network,
	}
}

func testPayment() CanonicalPayment {
	return CanonicalPayment{
		X402Version: 2,
		Scheme:      "exact",
		Network:     "eip155:84532",
		ChainID:     84532,
		Asset:       testAsset,
		PayTo:       testRecipient,
		Amount:      "1000000",
		Authorization: Authorization{
			Strategy: StrategyPermit,
			Owner:    testOwner,
			Spender:  testFacilitator,
			Value:    "1000000",
			Deadline: "1700003600",
		},
		Signature: testSignature,
	}
}

func TestNewX402Facilitator(t *testing.T) {
	facilitator := NewX402Facilitator()
	if facilitator == nil {
		t.Fatal("Expected facilitator to be created")
	}
	if facilitator.schemes == nil {
		t.Fatal("Expected schemes map to be initialized")
	}
	if facilitator.extensions == nil {
		t.Fatal("Expected extensions slice to be initialized")
	}
}

func TestFacilitatorRegister(t *testing.T) {
	facilitator := NewX402Facilitator()
	mock := &mockSchemeNetworkFacilitator{scheme: "exact"}

	facilitator.Register([]Network{"eip155:8453", "eip155:84532"}, mock)

	if len(facilitator.schemes) != 2 {
		t.Fatalf("Expected 2 networks, got %d", len(facilitator.schemes))
	}
	if facilitator.schemes["eip155:84532"]["exact"] != mock {
		t.Fatal("Expected mock mechanism to be registered")
	}
}

func TestFacilitatorRegisterExtension(t *testing.T) {
	facilitator := NewX402Facilitator()

	facilitator.RegisterExtension("bazaar")
	facilitator.RegisterExtension("bazaar")
	if len(facilitator.extensions) != 1 {
		t.Fatal("Expected extension to not be duplicated")
	}

	facilitator.RegisterExtension("payment-identifier")
	if len(facilitator.extensions) != 2 {
		t.Fatal("Expected 2 extensions")
	}
}

func TestFacilitatorSettleRoutesCanonicalPayment(t *testing.T) {
	facilitator := NewX402Facilitator()
	mock := &mockSchemeNetworkFacilitator{scheme: "exact"}
	facilitator.Register([]Network{"eip155:84532"}, mock)

	result, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if len(mock.calls) != 1 {
		t.Fatalf("Expected 1 settle call, got %d", len(mock.calls))
	}
	if mock.calls[0].Authorization.Owner != testOwner {
		t.Errorf("Expected owner %s, got %s", testOwner, mock.calls[0].Authorization.Owner)
	}
}

func TestFacilitatorSettleWildcardNetwork(t *testing.T) {
	facilitator := NewX402Facilitator()
	mock := &mockSchemeNetworkFacilitator{scheme: "exact"}
	facilitator.Register([]Network{"eip155:*"}, mock)

	result, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
	if err != nil || !result.Success {
		t.Fatalf("Expected wildcard registration to route, got %+v, %v", result, err)
	}
}

func TestFacilitatorSettleUnregistered(t *testing.T) {
	facilitator := NewX402Facilitator()
	facilitator.Register([]Network{"eip155:8453"}, &mockSchemeNetworkFacilitator{scheme: "exact"})

	payment := testPayment()
	result, err := facilitator.SettleCanonical(context.Background(), payment, nil, nil)
	if !IsCode(err, ErrCodeUnsupportedNetwork) {
		t.Fatalf("Expected unsupported_network error, got %v", err)
	}
	if result.Success || result.ErrorReason != ErrCodeUnsupportedNetwork {
		t.Errorf("Expected failed result, got %+v", result)
	}
	if result.Network != payment.Network {
		t.Errorf("Expected network %s, got %s", payment.Network, result.Network)
	}

	payment.Scheme = "upto"
	facilitator.Register([]Network{"eip155:84532"}, &mockSchemeNetworkFacilitator{scheme: "exact"})
	if _, err := facilitator.SettleCanonical(context.Background(), payment, nil, nil); !IsCode(err, ErrCodeUnsupportedNetwork) {
		t.Errorf("Expected unknown scheme to be rejected, got %v", err)
	}
}

func TestFacilitatorSettleNormalizesWireBytes(t *testing.T) {
	facilitator := NewX402Facilitator()
	mock := &mockSchemeNetworkFacilitator{scheme: "exact"}
	facilitator.Register([]Network{"eip155:84532"}, mock)

	result, err := facilitator.Settle(context.Background(), []byte(permitPayloadV1), []byte(requirementsV1))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	if mock.calls[0].X402Version != 1 || mock.calls[0].Network != "eip155:84532" {
		t.Errorf("Expected canonical v1 payment on eip155:84532, got %+v", mock.calls[0])
	}

	_, err = facilitator.Settle(context.Background(), []byte(`{"x402Version":3}`), []byte(requirementsV1))
	if !IsCode(err, ErrCodeValidationError) {
		t.Errorf("Expected validation error, got %v", err)
	}
	if len(mock.calls) != 1 {
		t.Errorf("Expected malformed payment not to reach the mechanism")
	}
}

func TestFacilitatorHooks(t *testing.T) {
	t.Run("before and after", func(t *testing.T) {
		facilitator := NewX402Facilitator()
		facilitator.Register([]Network{"eip155:84532"}, &mockSchemeNetworkFacilitator{scheme: "exact"})

		var order []string
		var settlementID string
		facilitator.OnBeforeSettle(func(ctx FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error) {
			order = append(order, "before")
			settlementID = ctx.SettlementID
			return nil, nil
		})
		facilitator.OnAfterSettle(func(ctx FacilitatorSettleResultContext) error {
			order = append(order, "after")
			if ctx.SettlementID != settlementID {
				t.Errorf("Expected the same settlement ID in both hooks")
			}
			if !ctx.Result.Success {
				t.Errorf("Expected successful result in after hook")
			}
			return errors.New("ignored")
		})
		facilitator.OnSettleFailure(func(ctx FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error) {
			order = append(order, "failure")
			return nil, nil
		})

		result, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
		if err != nil || !result.Success {
			t.Fatalf("Expected success, got %+v, %v", result, err)
		}
		if len(order) != 2 || order[0] != "before" || order[1] != "after" {
			t.Errorf("Unexpected hook order %v", order)
		}
		if settlementID == "" {
			t.Error("Expected a settlement ID")
		}
	})

	t.Run("before aborts", func(t *testing.T) {
		facilitator := NewX402Facilitator()
		mock := &mockSchemeNetworkFacilitator{scheme: "exact"}
		facilitator.Register([]Network{"eip155:84532"}, mock)
		facilitator.OnBeforeSettle(func(ctx FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error) {
			return &FacilitatorBeforeHookResult{Abort: true, Reason: "payer is blocked"}, nil
		})

		result, err := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if result.Success || result.ErrorMessage != "payer is blocked" || result.Phase != PhasePreflight {
			t.Errorf("Expected aborted result, got %+v", result)
		}
		if result.ErrorReason != ErrCodeUnknownError {
			t.Errorf("Expected default abort code, got %s", result.ErrorReason)
		}
		if len(mock.calls) != 0 {
			t.Error("Expected mechanism not to be called")
		}
	})

	t.Run("before aborts with code", func(t *testing.T) {
		facilitator := NewX402Facilitator()
		facilitator.Register([]Network{"eip155:84532"}, &mockSchemeNetworkFacilitator{scheme: "exact"})
		facilitator.OnBeforeSettle(func(ctx FacilitatorSettleContext) (*FacilitatorBeforeHookResult, error) {
			return &FacilitatorBeforeHookResult{Abort: true, Code: ErrCodeValidationError, Reason: "amount below minimum"}, nil
		})

		result, _ := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
		if result.ErrorReason != ErrCodeValidationError {
			t.Errorf("Expected hook code, got %s", result.ErrorReason)
		}
	})

	t.Run("failure recovers", func(t *testing.T) {
		facilitator := NewX402Facilitator()
		facilitator.Register([]Network{"eip155:84532"}, &mockSchemeNetworkFacilitator{
			scheme: "exact",
			settle: func(ctx context.Context, payment CanonicalPayment) SettlementResult {
				return SettlementResult{Success: false, ErrorReason: ErrCodeConfirmationTimeout, Network: payment.Network}
			},
		})

		var seen time.Duration = -1
		facilitator.OnSettleFailure(func(ctx FacilitatorSettleFailureContext) (*FacilitatorSettleFailureHookResult, error) {
			seen = ctx.Duration
			return &FacilitatorSettleFailureHookResult{
				Recovered: true,
				Result:    SettlementResult{Success: true, Transaction: "0xrecovered"},
			}, nil
		})

		result, _ := facilitator.SettleCanonical(context.Background(), testPayment(), nil, nil)
		if !result.Success || result.Transaction != "0xrecovered" {
			t.Errorf("Expected recovered result, got %+v", result)
		}
		if seen < 0 {
			t.Error("Expected failure hook to run")
		}
	})
}

func TestFacilitatorGetSupported(t *testing.T) {
	facilitator := NewX402Facilitator()
	facilitator.Register([]Network{"eip155:84532", "eip155:8453"}, &mockSchemeNetworkFacilitator{scheme: "exact"})
	facilitator.RegisterExtension("bazaar")

	supported := facilitator.GetSupported()

	if len(supported.Kinds) != 4 {
		t.Fatalf("Expected 4 kinds, got %d", len(supported.Kinds))
	}
	want := []struct {
		version int
		network string
	}{
		{1, "base"},
		{1, "base-sepolia"},
		{2, "eip155:8453"},
		{2, "eip155:84532"},
	}
	for i, w := range want {
		kind := supported.Kinds[i]
		if kind.X402Version != w.version || kind.Network != w.network || kind.Scheme != "exact" {
			t.Errorf("Kind %d: expected v%d %s, got %+v", i, w.version, w.network, kind)
		}
	}

	if signers := supported.Signers["eip155:*"]; len(signers) != 1 || signers[0] != testFacilitator {
		t.Errorf("Expected one deduplicated signer, got %v", signers)
	}
	if len(supported.Extensions) != 1 || supported.Extensions[0] != "bazaar" {
		t.Errorf("Expected bazaar extension, got %v", supported.Extensions)
	}
}
