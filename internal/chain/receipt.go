package chain

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"TopEquations/internal/certificate"
	xerrors "TopEquations/internal/errors"
	"TopEquations/internal/store"
	"TopEquations/pkg/logger"
)

// ReceiptType tags submitter receipts.
const ReceiptType = "submitter_receipt"

// VerifyNote tells a submitter how to check a receipt offline.
const VerifyNote = "To verify: hash the receipt fields except 'signature' and 'verify_note' as canonical " +
	"sorted-key JSON with sha256, then check the secp256k1 signature against issuer_pubkey."

// SubmitterReceipt is the signed acknowledgement handed back to a submitter.
type SubmitterReceipt struct {
	Type          string `json:"type"`
	SubmissionID  string `json:"submission_id"`
	EquationID    string `json:"equation_id"`
	SubmitterHash string `json:"submitter_hash"`
	EquationHash  string `json:"equation_hash"`
	MetadataHash  string `json:"metadata_hash"`
	Score         int    `json:"score"`
	Status        string `json:"status"`
	IssuedAt      string `json:"issued_at"`
	IssuerPubkey  string `json:"issuer_pubkey"`
	Signature     string `json:"signature,omitempty"`
	VerifyNote    string `json:"verify_note,omitempty"`
}

func (r SubmitterReceipt) payload() SubmitterReceipt {
	r.Signature = ""
	r.VerifyNote = ""
	return r
}

// VerifyReceipt checks the receipt signature against its issuer key.
func VerifyReceipt(r SubmitterReceipt) (bool, error) {
	if r.Signature == "" {
		return false, nil
	}
	return VerifySignature(r.IssuerPubkey, r.payload(), r.Signature)
}

// Issuer creates submitter receipts.
type Issuer struct {
	records *store.Registry
	signer  *Signer
	audit   *slog.Logger
}

// NewIssuer creates an issuer signing with s.
func NewIssuer(records *store.Registry, s *Signer) *Issuer {
	return &Issuer{records: records, signer: s, audit: logger.Audit()}
}

// Issue signs and stores a receipt for one submission. Hashes are looked up
// in the exported certificates when the submission has a ranked record.
func (i *Issuer) Issue(ctx context.Context, submissionID string) (*SubmitterReceipt, error) {
	submissionID = strings.TrimSpace(submissionID)
	if submissionID == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "缺少投稿 ID")
	}
	subs, err := i.records.LoadSubmissions(ctx)
	if err != nil {
		return nil, err
	}
	entry := subs.Find(submissionID)
	if entry == nil {
		return nil, xerrors.New(xerrors.CodeNotFound, "投稿不存在: "+submissionID, xerrors.WithSubmission(submissionID))
	}

	submitter := strings.TrimSpace(entry.Submitter)
	if submitter == "" {
		submitter = "unknown"
	}
	r := SubmitterReceipt{
		Type:          ReceiptType,
		SubmissionID:  submissionID,
		EquationID:    entry.EquationID(),
		SubmitterHash: certificate.HashText(submitter),
		Status:        string(entry.Status),
		IssuedAt:      i.records.Now().UTC().Format(time.RFC3339),
		IssuerPubkey:  i.signer.PublicKey(),
	}
	if entry.Review != nil {
		r.Score = entry.Review.Score
	}
	if r.EquationID != "" {
		doc, err := certificate.Load(ctx, i.records)
		if err != nil && !xerrors.IsCode(err, xerrors.CodeNotFound) {
			return nil, err
		}
		if doc != nil {
			for _, c := range doc.Entries {
				if c.TokenID == r.EquationID {
					r.EquationHash, r.MetadataHash = c.EquationHash, c.MetadataHash
					break
				}
			}
		}
	}

	sig, err := i.signer.Sign(r.payload())
	if err != nil {
		return nil, err
	}
	r.Signature = sig
	r.VerifyNote = VerifyNote
	if err := i.records.SaveDocument(ctx, store.SubmitterReceipt(submissionID), r); err != nil {
		return nil, err
	}
	i.audit.Info("submitter receipt issued",
		slog.String("submission_id", submissionID),
		slog.String("equation_id", r.EquationID))
	return &r, nil
}

// LoadSubmitterReceipt reads a stored receipt.
func LoadSubmitterReceipt(ctx context.Context, records *store.Registry, submissionID string) (*SubmitterReceipt, error) {
	var r SubmitterReceipt
	if _, err := records.LoadDocument(ctx, store.SubmitterReceipt(submissionID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
