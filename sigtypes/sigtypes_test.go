package sigtypes

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var testDomain = Domain{
	Name:              "hookmarket",
	Version:           "1",
	ChainID:           31337,
	VerifyingContract: "0x0000000000000000000000000000000000000001",
}

func TestQuoteRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	msg := QuoteMessage{WorkOrderID: "wo-1", Price: "9", EtaMinutes: 12, ValidUntil: 1700000000000}
	sig, err := Sign(testDomain, msg, key)
	require.NoError(t, err)

	got, err := RecoverSigner(testDomain, msg, sig)
	require.NoError(t, err)
	require.Equal(t, addr, got)

	require.NoError(t, VerifySigner(testDomain, msg, sig, addr.Hex()))
	// Case-insensitive comparison.
	require.NoError(t, VerifySigner(testDomain, msg, sig, "0x"+addr.Hex()[2:]))
}

func TestSubmissionAndChallengeRoundTrip(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	sub := SubmissionMessage{
		WorkOrderID:  "wo-1",
		RepoURL:      "https://example.com/repo.git",
		CommitSha:    "abc123",
		ArtifactHash: ArtifactHash("https://example.com/repo.git", "abc123"),
	}
	sig, err := Sign(testDomain, sub, key)
	require.NoError(t, err)
	require.NoError(t, VerifySigner(testDomain, sub, sig, addr.Hex()))

	repro, err := ReproductionHash(map[string]any{"reason": "x", "workOrderId": "wo-1"})
	require.NoError(t, err)
	ch := ChallengeMessage{WorkOrderID: "wo-1", SubmissionID: "sub-1", ReproductionHash: repro}
	sig, err = Sign(testDomain, ch, key)
	require.NoError(t, err)
	require.NoError(t, VerifySigner(testDomain, ch, sig, addr.Hex()))
}

func TestTamperedMessageRecoversDifferentSigner(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	msg := QuoteMessage{WorkOrderID: "wo-1", Price: "9", EtaMinutes: 12, ValidUntil: 1}
	sig, err := Sign(testDomain, msg, key)
	require.NoError(t, err)

	msg.Price = "1"
	require.ErrorIs(t, VerifySigner(testDomain, msg, sig, addr.Hex()), ErrSignerMismatch)
}

func TestDomainSeparation(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	msg := QuoteMessage{WorkOrderID: "wo-1", Price: "9", EtaMinutes: 12, ValidUntil: 1}
	sig, err := Sign(testDomain, msg, key)
	require.NoError(t, err)

	other := testDomain
	other.ChainID = 1
	require.ErrorIs(t, VerifySigner(other, msg, sig, addr.Hex()), ErrSignerMismatch)
}

func TestLegacyVValues(t *testing.T) {
	key, _ := crypto.GenerateKey()
	addr := crypto.PubkeyToAddress(key.PublicKey)

	msg := QuoteMessage{WorkOrderID: "wo-1", Price: "9", EtaMinutes: 12, ValidUntil: 1}
	sig, err := Sign(testDomain, msg, key)
	require.NoError(t, err)

	// Re-encode with V += 27, the wallet-style convention.
	legacy := sig[:len(sig)-2]
	switch sig[len(sig)-2:] {
	case "00":
		legacy += "1b"
	case "01":
		legacy += "1c"
	default:
		t.Fatalf("unexpected recovery id in %s", sig)
	}
	require.NoError(t, VerifySigner(testDomain, msg, legacy, addr.Hex()))
}

func TestInvalidSignatureEncoding(t *testing.T) {
	msg := QuoteMessage{WorkOrderID: "wo-1"}
	_, err := RecoverSigner(testDomain, msg, "0x1234")
	require.ErrorIs(t, err, ErrInvalidSignature)
	_, err = RecoverSigner(testDomain, msg, "zzzz")
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestReproductionHashDeterministic(t *testing.T) {
	a, err := ReproductionHash(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	b, err := ReproductionHash(map[string]any{"a": 1, "b": 2})
	require.NoError(t, err)
	require.Equal(t, a, b)
}
