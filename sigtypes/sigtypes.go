// Copyright 2026 The hookmarket Authors
// This file is part of the hookmarket library.
//
// The hookmarket library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The hookmarket library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the hookmarket library. If not, see <http://www.gnu.org/licenses/>.

// Package sigtypes defines the three signed message schemas of the
// marketplace (quote, submission, challenge) under a fixed signing domain,
// and recovers signer addresses from secp256k1 signatures.
//
// The digest of a message is
//
//	keccak256(domainSeparator ‖ typeTag ‖ keccak256(encode(message)))
//
// where encode is a canonical field-order text encoding fixed for the life of
// a deployment.
package sigtypes

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// Type tags separate the three schemas under one domain.
const (
	tagQuote      = "hookmarket/quote"
	tagSubmission = "hookmarket/submission"
	tagChallenge  = "hookmarket/challenge"
)

var (
	ErrInvalidSignature = errors.New("sigtypes: invalid signature encoding")
	ErrSignerMismatch   = errors.New("sigtypes: recovered signer does not match claimed address")
)

// Domain pins signatures to one deployment: (name, version, chainId,
// verifyingContract).
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string
}

// Separator returns the keccak hash binding the domain fields.
func (d Domain) Separator() []byte {
	enc := fmt.Sprintf("%s\x00%s\x00%d\x00%s", d.Name, d.Version, d.ChainID, strings.ToLower(d.VerifyingContract))
	return crypto.Keccak256([]byte(enc))
}

func digest(d Domain, tag string, enc string) []byte {
	return crypto.Keccak256(d.Separator(), []byte(tag), crypto.Keccak256([]byte(enc)))
}

// QuoteMessage is the signed payload of a solver quote. ValidUntil is unix
// milliseconds.
type QuoteMessage struct {
	WorkOrderID string `json:"workOrderId"`
	Price       string `json:"price"`
	EtaMinutes  int64  `json:"etaMinutes"`
	ValidUntil  int64  `json:"validUntil"`
}

func (m QuoteMessage) encode() string {
	return fmt.Sprintf("%s\x00%s\x00%d\x00%d", m.WorkOrderID, m.Price, m.EtaMinutes, m.ValidUntil)
}

// SigningHash returns the digest a solver signs for this quote.
func (m QuoteMessage) SigningHash(d Domain) common.Hash {
	return common.BytesToHash(digest(d, tagQuote, m.encode()))
}

// SubmissionMessage is the signed payload of an artifact submission.
type SubmissionMessage struct {
	WorkOrderID  string `json:"workOrderId"`
	RepoURL      string `json:"repoUrl"`
	CommitSha    string `json:"commitSha"`
	ArtifactHash string `json:"artifactHash"`
}

func (m SubmissionMessage) encode() string {
	return fmt.Sprintf("%s\x00%s\x00%s\x00%s", m.WorkOrderID, m.RepoURL, m.CommitSha, strings.ToLower(m.ArtifactHash))
}

// SigningHash returns the digest a solver signs for this submission.
func (m SubmissionMessage) SigningHash(d Domain) common.Hash {
	return common.BytesToHash(digest(d, tagSubmission, m.encode()))
}

// ChallengeMessage is the signed payload of a challenge.
type ChallengeMessage struct {
	WorkOrderID      string `json:"workOrderId"`
	SubmissionID     string `json:"submissionId"`
	ReproductionHash string `json:"reproductionHash"`
}

func (m ChallengeMessage) encode() string {
	return fmt.Sprintf("%s\x00%s\x00%s", m.WorkOrderID, m.SubmissionID, strings.ToLower(m.ReproductionHash))
}

// SigningHash returns the digest a challenger signs.
func (m ChallengeMessage) SigningHash(d Domain) common.Hash {
	return common.BytesToHash(digest(d, tagChallenge, m.encode()))
}

// Hashable is implemented by all three message schemas.
type Hashable interface {
	SigningHash(d Domain) common.Hash
}

// RecoverSigner recovers the address that produced sigHex over the message
// digest. Signatures are 65 bytes, with V accepted as 0/1 or 27/28.
func RecoverSigner(d Domain, msg Hashable, sigHex string) (common.Address, error) {
	sig, err := hexutil.Decode(sigHex)
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	sig = append([]byte(nil), sig...)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	hash := msg.SigningHash(d)
	pub, err := crypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return common.Address{}, fmt.Errorf("sigtypes: recover: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// VerifySigner recovers the signer and compares it to the claimed address,
// case-insensitively.
func VerifySigner(d Domain, msg Hashable, sigHex, claimed string) error {
	addr, err := RecoverSigner(d, msg, sigHex)
	if err != nil {
		return err
	}
	if !strings.EqualFold(addr.Hex(), claimed) {
		return ErrSignerMismatch
	}
	return nil
}

// Sign produces a 0x-hex signature over the message digest. Used by the mock
// stack and by tests; real solvers sign client side.
func Sign(d Domain, msg Hashable, key *ecdsa.PrivateKey) (string, error) {
	sig, err := crypto.Sign(msg.SigningHash(d).Bytes(), key)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}

// ArtifactHash computes the canonical artifact hash keccak256("repoUrl:commitSha").
func ArtifactHash(repoURL, commitSha string) string {
	return hexutil.Encode(crypto.Keccak256([]byte(repoURL + ":" + commitSha)))
}

// ReproductionHash computes keccak256 over the deterministic serialization of
// a reproduction spec. encoding/json sorts map keys, which fixes the
// serialization for the life of the deployment.
func ReproductionHash(spec map[string]any) (string, error) {
	enc, err := json.Marshal(spec)
	if err != nil {
		return "", fmt.Errorf("sigtypes: serialize reproduction spec: %w", err)
	}
	return hexutil.Encode(crypto.Keccak256(enc)), nil
}
