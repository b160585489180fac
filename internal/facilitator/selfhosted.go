package facilitator

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"tollgate/internal/x402"
)

const selfHostedTimeout = 30 * time.Second

// SelfHostedConfig carries the signing keys and RPC endpoints for the
// in-process facilitator. Either key may be empty; the adapter then refuses
// payments on that chain family.
type SelfHostedConfig struct {
	SolanaPrivateKey string
	EVMPrivateKey    string
	SolanaRPCURL     string
	EVMRPCURL        string
}

// SelfHosted verifies and settles payments in-process: it co-signs Solana
// transactions as fee payer and broadcasts them itself, and broadcasts
// pre-signed EVM transactions. No third party sees the payment.
type SelfHosted struct {
	solanaKey  solana.PrivateKey
	hasSolana  bool
	solanaRPC  *rpc.Client
	evmKeyHex  string
	hasEVM     bool
	evmAddress string
	evmRPCURL  string
}

// NewSelfHosted builds the adapter from config. Keys that fail to parse are
// logged and treated as absent rather than aborting startup.
func NewSelfHosted(cfg SelfHostedConfig) *SelfHosted {
	s := &SelfHosted{evmRPCURL: cfg.EVMRPCURL}

	if cfg.SolanaPrivateKey != "" {
		key, err := solana.PrivateKeyFromBase58(cfg.SolanaPrivateKey)
		if err != nil {
			slog.Error("invalid solana private key, self-hosted solana disabled", "error", err)
		} else {
			s.solanaKey = key
			s.hasSolana = true
			s.solanaRPC = rpc.New(cfg.SolanaRPCURL)
		}
	}

	if cfg.EVMPrivateKey != "" {
		raw := strings.TrimPrefix(cfg.EVMPrivateKey, "0x")
		key, err := crypto.HexToECDSA(raw)
		if err != nil {
			slog.Error("invalid evm private key, self-hosted evm disabled", "error", err)
		} else {
			s.evmKeyHex = raw
			s.hasEVM = true
			s.evmAddress = crypto.PubkeyToAddress(key.PublicKey).Hex()
		}
	}

	return s
}

func (s *SelfHosted) Name() string { return "self-hosted" }

func (s *SelfHosted) Type() Type { return TypeSelfHosted }

// Available reports whether at least one chain family can be settled.
func (s *SelfHosted) Available() bool { return s.hasSolana || s.hasEVM }

// FeePayer returns the address clients must set as fee payer when building a
// transaction for this adapter.
func (s *SelfHosted) FeePayer(ctx context.Context, network string) string {
	if isSolanaNetwork(network) {
		if s.hasSolana {
			return s.solanaKey.PublicKey().String()
		}
		return ""
	}
	if s.hasEVM {
		return s.evmAddress
	}
	return ""
}

// Verify implements Facilitator with local structural checks: the payload
// must decode, the networks must match, and the amount must be a positive
// integer string. Balance and signature validity surface at settle.
func (s *SelfHosted) Verify(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) VerifyResult {
	if _, err := normalizeRequirements(reqs); err != nil {
		return VerifyResult{Error: err.Error(), Facilitator: s.Name()}
	}
	if payload.Network != reqs.Network {
		return VerifyResult{
			Error:       fmt.Sprintf("payload network %q does not match required network %q", payload.Network, reqs.Network),
			Facilitator: s.Name(),
		}
	}
	if amt, ok := new(big.Int).SetString(reqs.MaxAmountRequired, 10); !ok || amt.Sign() <= 0 {
		return VerifyResult{Error: fmt.Sprintf("invalid amount %q", reqs.MaxAmountRequired), Facilitator: s.Name()}
	}

	if isSolanaNetwork(payload.Network) {
		if !s.hasSolana {
			return VerifyResult{Error: "no solana signing key configured", Facilitator: s.Name()}
		}
		payer, err := extractPayer(payload)
		if err != nil {
			return VerifyResult{Error: err.Error(), Facilitator: s.Name()}
		}
		return VerifyResult{Valid: true, Payer: payer, Facilitator: s.Name()}
	}

	if !s.hasEVM {
		return VerifyResult{Error: "no evm signing key configured", Facilitator: s.Name()}
	}
	payer, err := extractPayer(payload)
	if err != nil {
		return VerifyResult{Error: err.Error(), Facilitator: s.Name()}
	}
	return VerifyResult{Valid: true, Payer: payer, Facilitator: s.Name()}
}

// Settle implements Facilitator. Solana payments are co-signed as fee payer
// and broadcast; EVM payments arrive fully signed and are only broadcast.
func (s *SelfHosted) Settle(ctx context.Context, payload x402.PaymentPayload, reqs x402.PaymentRequirement) SettleResult {
	if _, err := normalizeRequirements(reqs); err != nil {
		return SettleResult{Error: err.Error(), Facilitator: s.Name()}
	}

	ctx, cancel := context.WithTimeout(ctx, selfHostedTimeout)
	defer cancel()

	if isSolanaNetwork(payload.Network) {
		return s.settleSolana(ctx, payload)
	}
	return s.settleEVM(ctx, payload)
}

func (s *SelfHosted) settleSolana(ctx context.Context, payload x402.PaymentPayload) SettleResult {
	if !s.hasSolana {
		return SettleResult{Error: "no solana signing key configured", Facilitator: s.Name()}
	}

	txB64, _ := payload.Payload["transaction"].(string)
	if txB64 == "" {
		return SettleResult{Error: "payload has no transaction", Facilitator: s.Name()}
	}
	tx, err := solana.TransactionFromBase64(txB64)
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to decode transaction: %v", err), Facilitator: s.Name()}
	}
	if len(tx.Message.AccountKeys) == 0 {
		return SettleResult{Error: "transaction has no account keys", Facilitator: s.Name()}
	}
	if !tx.Message.AccountKeys[0].Equals(s.solanaKey.PublicKey()) {
		return SettleResult{
			Error:       fmt.Sprintf("transaction fee payer is not %s", s.solanaKey.PublicKey()),
			Facilitator: s.Name(),
		}
	}

	payer := ""
	if len(tx.Message.AccountKeys) > 1 {
		payer = tx.Message.AccountKeys[1].String()
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.solanaKey.PublicKey()) {
			return &s.solanaKey
		}
		return nil
	}); err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to co-sign transaction: %v", err), Facilitator: s.Name()}
	}

	encoded, err := tx.ToBase64()
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to encode transaction: %v", err), Facilitator: s.Name()}
	}

	sig, err := s.solanaRPC.SendEncodedTransaction(ctx, encoded)
	if err != nil {
		msg, retriable := classifyTransportError(s.Name(), err)
		// Simulation rejections come back as RPC errors, not transport
		// failures; do not retry those elsewhere.
		if !strings.Contains(err.Error(), "timeout") {
			msg = fmt.Sprintf("broadcast failed: %v", err)
			retriable = false
		}
		return SettleResult{Error: msg, Retriable: retriable, Facilitator: s.Name()}
	}

	slog.Info("solana payment settled", "signature", sig.String(), "payer", payer)
	return SettleResult{Settled: true, TxHash: sig.String(), Payer: payer, Facilitator: s.Name()}
}

func (s *SelfHosted) settleEVM(ctx context.Context, payload x402.PaymentPayload) SettleResult {
	if !s.hasEVM {
		return SettleResult{Error: "no evm signing key configured", Facilitator: s.Name()}
	}

	rawHex, _ := payload.Payload["signedTransaction"].(string)
	if rawHex == "" {
		return SettleResult{Error: "payload has no signedTransaction", Facilitator: s.Name()}
	}
	raw, err := hexutil.Decode(rawHex)
	if err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to decode signed transaction: %v", err), Facilitator: s.Name()}
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return SettleResult{Error: fmt.Sprintf("failed to parse signed transaction: %v", err), Facilitator: s.Name()}
	}

	payer, _ := extractPayer(payload)

	client, err := ethclient.DialContext(ctx, s.evmRPCURL)
	if err != nil {
		msg, retriable := classifyTransportError(s.Name(), err)
		return SettleResult{Error: msg, Retriable: retriable, Facilitator: s.Name()}
	}
	defer client.Close()

	if err := client.SendTransaction(ctx, &tx); err != nil {
		return SettleResult{Error: fmt.Sprintf("broadcast failed: %v", err), Facilitator: s.Name()}
	}

	slog.Info("evm payment settled", "tx_hash", tx.Hash().Hex(), "payer", payer)
	return SettleResult{Settled: true, TxHash: tx.Hash().Hex(), Payer: payer, Facilitator: s.Name()}
}
