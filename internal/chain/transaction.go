package chain

import (
	"time"

	"TopEquations/internal/certificate"
)

const (
	// Receiver is the logical ledger address every certificate is sent to.
	Receiver = "equation-ledger"
	// TransactionType tags certificate registrations on the ledger.
	TransactionType = "equation_certificate"
)

// Transaction is the zero-amount ledger entry that anchors one certificate.
type Transaction struct {
	Sender       string `json:"sender"`
	Receiver     string `json:"receiver"`
	Amount       int    `json:"amount"`
	Type         string `json:"type"`
	EquationID   string `json:"equation_id"`
	MetadataHash string `json:"metadata_hash"`
	EquationHash string `json:"equation_hash"`
	Score        int    `json:"score"`
	Version      int    `json:"version"`
	TS           string `json:"ts"`
}

// SignedTransaction is the request body accepted by the ledger node.
type SignedTransaction struct {
	Transaction Transaction `json:"transaction"`
	Signature   string      `json:"signature"`
}

// NewTransaction builds the ledger entry for a sealed certificate.
func NewTransaction(sender string, cert certificate.Certificate, now time.Time) Transaction {
	return Transaction{
		Sender:       sender,
		Receiver:     Receiver,
		Amount:       0,
		Type:         TransactionType,
		EquationID:   cert.TokenID,
		MetadataHash: cert.MetadataHash,
		EquationHash: cert.EquationHash,
		Score:        cert.Score,
		Version:      cert.Version,
		TS:           now.UTC().Format(time.RFC3339),
	}
}

// SignTransaction signs tx with s.
func SignTransaction(s *Signer, tx Transaction) (SignedTransaction, error) {
	sig, err := s.Sign(tx)
	if err != nil {
		return SignedTransaction{}, err
	}
	return SignedTransaction{Transaction: tx, Signature: sig}, nil
}
